package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BillingStatus represents the subscription standing of a site
type BillingStatus string

const (
	BillingStatusActive    BillingStatus = "active"
	BillingStatusPastDue   BillingStatus = "past_due"
	BillingStatusCancelled BillingStatus = "cancelled"
)

// BillingState is the per-site subscription state owned by the billing
// reconciler and read by the activation pipeline as a gate
type BillingState struct {
	ID             uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SiteID         uuid.UUID     `json:"site_id" gorm:"type:uuid;not null;uniqueIndex"`
	Status         BillingStatus `json:"status" gorm:"size:20;default:'active'"`
	SubscriptionID string        `json:"subscription_id" gorm:"size:100"`

	PlanAllowsCustomDomain bool `json:"plan_allows_custom_domain" gorm:"default:true"`

	// Provider-reported period end; events carrying an older period do not
	// override newer state regardless of arrival order
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM
func (BillingState) TableName() string {
	return "billing_states"
}

// BeforeCreate hook to generate UUID if not set
func (b *BillingState) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Suspended returns true when the subscription standing forbids serving
func (b *BillingState) Suspended() bool {
	return b.Status == BillingStatusPastDue || b.Status == BillingStatusCancelled
}

// ProcessedBillingEvent records a payment-provider event id so replays of
// the same event are no-ops. Rows are pruned after a bounded retention.
type ProcessedBillingEvent struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID   string    `json:"event_id" gorm:"size:100;not null;uniqueIndex"`
	EventType string    `json:"event_type" gorm:"size:50;not null"`
	SiteID    uuid.UUID `json:"site_id" gorm:"type:uuid;index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the table name for GORM
func (ProcessedBillingEvent) TableName() string {
	return "processed_billing_events"
}

// BeforeCreate hook to generate UUID if not set
func (e *ProcessedBillingEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
