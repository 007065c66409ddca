package repository

import (
	"context"
	"errors"
	"time"

	"domain-activation-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillingRepository handles database operations for billing state and
// processed payment events
type BillingRepository struct {
	db *gorm.DB
}

// NewBillingRepository creates a new billing repository
func NewBillingRepository(db *gorm.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// GetBillingState retrieves the billing state for a site, nil if none exists
func (r *BillingRepository) GetBillingState(ctx context.Context, siteID uuid.UUID) (*models.BillingState, error) {
	var state models.BillingState
	err := r.db.WithContext(ctx).Where("site_id = ?", siteID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveBillingState upserts the billing state keyed on site id
func (r *BillingRepository) SaveBillingState(ctx context.Context, state *models.BillingState) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "subscription_id", "plan_allows_custom_domain",
			"current_period_end", "updated_at",
		}),
	}).Create(state).Error
}

// IsEventProcessed reports whether a provider event id has already been
// fully applied
func (r *BillingRepository) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ProcessedBillingEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// MarkEventProcessed records a provider event id. Returns false when the
// event was already processed (replay), true on first sight.
func (r *BillingRepository) MarkEventProcessed(ctx context.Context, event *models.ProcessedBillingEvent) (bool, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanupProcessedEvents removes dedup rows older than the retention window
func (r *BillingRepository) CleanupProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Where("created_at < ?", threshold).
		Delete(&models.ProcessedBillingEvent{})
	return result.RowsAffected, result.Error
}
