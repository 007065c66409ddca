package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivationState represents the coarse lifecycle state of a domain activation
type ActivationState string

const (
	StateRequested           ActivationState = "requested"
	StateAwaitingDNS         ActivationState = "awaiting_dns"
	StateAwaitingCertificate ActivationState = "awaiting_certificate"
	StateLive                ActivationState = "live"
	StateFailed              ActivationState = "failed"
	StateRemoved             ActivationState = "removed"
)

// NonTerminalStates lists states the reconciliation loop may still advance
var NonTerminalStates = []ActivationState{
	StateRequested,
	StateAwaitingDNS,
	StateAwaitingCertificate,
	StateLive,
}

// PendingStates lists states that are scheduled for polling
var PendingStates = []ActivationState{
	StateRequested,
	StateAwaitingDNS,
	StateAwaitingCertificate,
}

// CertificateStatus represents the edge provider's certificate sub-state,
// tracked separately from the coarse activation state
type CertificateStatus string

const (
	CertStatusInitializing      CertificateStatus = "initializing"
	CertStatusPendingValidation CertificateStatus = "pending_validation"
	CertStatusPendingIssuance   CertificateStatus = "pending_issuance"
	CertStatusActive            CertificateStatus = "active"
)

// Rank orders certificate sub-states so regressions can be detected.
// A provider report with a lower rank than the stored one is a regression.
func (s CertificateStatus) Rank() int {
	switch s {
	case CertStatusInitializing:
		return 1
	case CertStatusPendingValidation:
		return 2
	case CertStatusPendingIssuance:
		return 3
	case CertStatusActive:
		return 4
	default:
		return 0
	}
}

// ActivationSource represents how the domain entered the system
type ActivationSource string

const (
	SourcePurchased ActivationSource = "purchased"
	SourceExisting  ActivationSource = "existing"
)

// DNSInstruction is a single record the customer (or the registrar adapter,
// for purchased domains) must publish
type DNSInstruction struct {
	RecordType string `json:"record_type"` // TXT, CNAME
	Host       string `json:"host"`
	Value      string `json:"value"`
	TTL        int    `json:"ttl"`
	Purpose    string `json:"purpose"` // ownership_validation, routing
}

// DNSInstructions is stored as a JSONB column. It is written exactly once,
// at the transition into awaiting_dns, and never mutated afterward.
type DNSInstructions []DNSInstruction

// Value implements driver.Valuer for GORM
func (i DNSInstructions) Value() (driver.Value, error) {
	if i == nil {
		return nil, nil
	}
	return json.Marshal(i)
}

// Scan implements sql.Scanner for GORM
func (i *DNSInstructions) Scan(value interface{}) error {
	if value == nil {
		*i = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, i)
	case string:
		return json.Unmarshal([]byte(v), i)
	default:
		return fmt.Errorf("unsupported type %T for DNSInstructions", value)
	}
}

// DomainActivation represents one custom-domain attachment for a site.
// At most one non-terminal activation exists per hostname at a time.
type DomainActivation struct {
	ID       uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SiteID   uuid.UUID        `json:"site_id" gorm:"type:uuid;not null;index"`
	Hostname string           `json:"hostname" gorm:"not null;size:255;index"`
	Source   ActivationSource `json:"source" gorm:"size:20;default:'existing'"`

	State ActivationState `json:"state" gorm:"size:30;default:'requested';index"`

	// Provider references
	RegistrarOrderRef string `json:"registrar_order_ref,omitempty" gorm:"size:100"`
	EdgeHostnameRef   string `json:"edge_hostname_ref,omitempty" gorm:"size:100"`

	// DNS records the customer must publish; immutable once issued
	DNSInstructions DNSInstructions `json:"dns_instructions,omitempty" gorm:"type:jsonb"`

	// Edge provider certificate sub-state
	CertificateStatus CertificateStatus `json:"certificate_status" gorm:"size:30;default:'initializing'"`

	// Billing suspension is orthogonal to the provisioning state
	SuspendedByBilling bool `json:"suspended_by_billing" gorm:"default:false"`

	// Polling schedule
	Attempts      int        `json:"attempts" gorm:"default:0"`
	MaxAttempts   int        `json:"max_attempts" gorm:"default:10"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	NextCheckAt   *time.Time `json:"next_check_at,omitempty" gorm:"index"`

	FailureReason string     `json:"failure_reason,omitempty" gorm:"size:500"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`

	// Optimistic concurrency; all state-machine writes are CAS on this
	Version int64 `json:"-" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM
func (DomainActivation) TableName() string {
	return "domain_activations"
}

// BeforeCreate hook to generate UUID if not set
func (a *DomainActivation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// IsTerminal returns true if no further automatic transition occurs
func (a *DomainActivation) IsTerminal() bool {
	return a.State == StateFailed || a.State == StateRemoved
}

// IsLive returns true if the activation reached the live state
func (a *DomainActivation) IsLive() bool {
	return a.State == StateLive
}

// ServingAllowed is the single predicate the edge-routing layer consults
func (a *DomainActivation) ServingAllowed() bool {
	return a.State == StateLive && !a.SuspendedByBilling
}

// AttemptsExhausted returns true once the retry budget is spent
func (a *DomainActivation) AttemptsExhausted() bool {
	return a.Attempts >= a.MaxAttempts
}

// ActivationActivity represents an audit log entry for an activation
type ActivationActivity struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ActivationID uuid.UUID `json:"activation_id" gorm:"type:uuid;not null;index"`
	SiteID       uuid.UUID `json:"site_id" gorm:"type:uuid;not null;index"`
	Action       string    `json:"action" gorm:"size:50;not null"`
	Status       string    `json:"status" gorm:"size:20;not null"`
	Message      string    `json:"message" gorm:"size:500"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the table name for GORM
func (ActivationActivity) TableName() string {
	return "activation_activities"
}
