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

var (
	ErrActivationNotFound = errors.New("domain activation not found")
	ErrActivationExists   = errors.New("a non-terminal activation already exists for this hostname")
	ErrVersionConflict    = errors.New("activation was modified concurrently")
)

// ActivationRepository handles database operations for domain activations
type ActivationRepository struct {
	db *gorm.DB
}

// NewActivationRepository creates a new activation repository
func NewActivationRepository(db *gorm.DB) *ActivationRepository {
	return &ActivationRepository{db: db}
}

// Create inserts a new activation, enforcing that at most one non-terminal
// activation exists per hostname. Concurrent creators serialize on the row
// lock; the loser gets ErrActivationExists.
func (r *ActivationRepository) Create(ctx context.Context, activation *models.DomainActivation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.DomainActivation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("hostname = ? AND state IN ?", activation.Hostname, models.NonTerminalStates).
			Find(&existing).Error
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrActivationExists
		}
		return tx.Create(activation).Error
	})
}

// GetByID retrieves an activation by ID
func (r *ActivationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DomainActivation, error) {
	var activation models.DomainActivation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&activation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActivationNotFound
	}
	return &activation, err
}

// GetBySiteAndHostname retrieves the most recent activation for a
// (site, hostname) pair, terminal or not
func (r *ActivationRepository) GetBySiteAndHostname(ctx context.Context, siteID uuid.UUID, hostname string) (*models.DomainActivation, error) {
	var activation models.DomainActivation
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND hostname = ?", siteID, hostname).
		Order("created_at DESC").
		First(&activation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActivationNotFound
	}
	return &activation, err
}

// GetNonTerminalByHostname retrieves the single non-terminal activation for
// a hostname, if any
func (r *ActivationRepository) GetNonTerminalByHostname(ctx context.Context, hostname string) (*models.DomainActivation, error) {
	var activation models.DomainActivation
	err := r.db.WithContext(ctx).
		Where("hostname = ? AND state IN ?", hostname, models.NonTerminalStates).
		First(&activation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActivationNotFound
	}
	return &activation, err
}

// ListBySite retrieves all activations for a site
func (r *ActivationRepository) ListBySite(ctx context.Context, siteID uuid.UUID, limit, offset int) ([]models.DomainActivation, int64, error) {
	var activations []models.DomainActivation
	var total int64

	query := r.db.WithContext(ctx).Model(&models.DomainActivation{}).Where("site_id = ?", siteID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	err := query.Order("created_at DESC").Find(&activations).Error
	return activations, total, err
}

// GetDue retrieves pending activations whose next check is due, oldest first
func (r *ActivationRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]models.DomainActivation, error) {
	var activations []models.DomainActivation
	err := r.db.WithContext(ctx).
		Where("state IN ? AND next_check_at IS NOT NULL AND next_check_at <= ?", models.PendingStates, now).
		Order("next_check_at ASC").
		Limit(limit).
		Find(&activations).Error
	return activations, err
}

// GetLive retrieves all live activations
func (r *ActivationRepository) GetLive(ctx context.Context) ([]models.DomainActivation, error) {
	var activations []models.DomainActivation
	err := r.db.WithContext(ctx).
		Where("state = ?", models.StateLive).
		Find(&activations).Error
	return activations, err
}

// GetLiveBySite retrieves live activations for a site
func (r *ActivationRepository) GetLiveBySite(ctx context.Context, siteID uuid.UUID) ([]models.DomainActivation, error) {
	var activations []models.DomainActivation
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND state = ?", siteID, models.StateLive).
		Find(&activations).Error
	return activations, err
}

// UpdateCAS persists the activation's mutable fields conditionally on the
// version the caller loaded. A stale version yields ErrVersionConflict and
// no write; the caller retries on the next tick.
func (r *ActivationRepository) UpdateCAS(ctx context.Context, activation *models.DomainActivation) error {
	updates := map[string]interface{}{
		"state":                activation.State,
		"certificate_status":   activation.CertificateStatus,
		"registrar_order_ref":  activation.RegistrarOrderRef,
		"edge_hostname_ref":    activation.EdgeHostnameRef,
		"dns_instructions":     activation.DNSInstructions,
		"failure_reason":       activation.FailureReason,
		"suspended_by_billing": activation.SuspendedByBilling,
		"attempts":             activation.Attempts,
		"last_checked_at":      activation.LastCheckedAt,
		"next_check_at":        activation.NextCheckAt,
		"activated_at":         activation.ActivatedAt,
		"version":              activation.Version + 1,
		"updated_at":           time.Now(),
	}

	result := r.db.WithContext(ctx).Model(&models.DomainActivation{}).
		Where("id = ? AND version = ?", activation.ID, activation.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	activation.Version++
	return nil
}

// SetSuspendedForSite flips the billing-suspension flag. Suspension applies
// only to live activations; clearing applies to every activation of the
// site so a row that goes live later starts unsuspended.
func (r *ActivationRepository) SetSuspendedForSite(ctx context.Context, siteID uuid.UUID, suspended bool) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.DomainActivation{}).
		Where("site_id = ? AND suspended_by_billing = ?", siteID, !suspended)
	if suspended {
		query = query.Where("state = ?", models.StateLive)
	}

	result := query.Updates(map[string]interface{}{
		"suspended_by_billing": suspended,
		"updated_at":           time.Now(),
	})
	return result.RowsAffected, result.Error
}

// LogActivity logs an activation activity entry
func (r *ActivationRepository) LogActivity(ctx context.Context, activity *models.ActivationActivity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

// GetActivities retrieves activities for an activation
func (r *ActivationRepository) GetActivities(ctx context.Context, activationID uuid.UUID, limit int) ([]models.ActivationActivity, error) {
	var activities []models.ActivationActivity
	err := r.db.WithContext(ctx).
		Where("activation_id = ?", activationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// CleanupOldActivities removes activities older than the retention window
func (r *ActivationRepository) CleanupOldActivities(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Where("created_at < ?", threshold).
		Delete(&models.ActivationActivity{})
	return result.RowsAffected, result.Error
}
