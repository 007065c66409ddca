package services

import (
	"context"

	"domain-activation-service/internal/events"
	"domain-activation-service/internal/models"
	"domain-activation-service/internal/providers"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BillingReconcilerStore is the persistence surface the reconciler needs;
// satisfied by repository.BillingRepository
type BillingReconcilerStore interface {
	GetBillingState(ctx context.Context, siteID uuid.UUID) (*models.BillingState, error)
	SaveBillingState(ctx context.Context, state *models.BillingState) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, event *models.ProcessedBillingEvent) (bool, error)
}

// SuspensionStore flips the billing-suspension flag on a site's activations;
// satisfied by repository.ActivationRepository
type SuspensionStore interface {
	SetSuspendedForSite(ctx context.Context, siteID uuid.UUID, suspended bool) (int64, error)
	GetLiveBySite(ctx context.Context, siteID uuid.UUID) ([]models.DomainActivation, error)
}

// BillingReconciler folds verified payment-provider events into per-site
// billing state and keeps the suspension flag on activations in sync.
// Processing is idempotent by provider event id, and events carrying an older
// billing period never override state derived from a newer one.
type BillingReconciler struct {
	billing     BillingReconcilerStore
	activations SuspensionStore
	cache       *redis.Client
	publisher   EventPublisher
}

// NewBillingReconciler creates a new billing reconciler
func NewBillingReconciler(billing BillingReconcilerStore, activations SuspensionStore, cache *redis.Client, publisher EventPublisher) *BillingReconciler {
	return &BillingReconciler{
		billing:     billing,
		activations: activations,
		cache:       cache,
		publisher:   publisher,
	}
}

// HandleEvent applies one verified payment event. Replays of an already
// processed event id are acknowledged without effect.
func (r *BillingReconciler) HandleEvent(ctx context.Context, event *providers.PaymentEvent) error {
	processed, err := r.billing.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		log.Debug().Str("event_id", event.EventID).Msg("Duplicate payment event, skipping")
		return nil
	}

	current, err := r.billing.GetBillingState(ctx, event.SiteID)
	if err != nil {
		return err
	}

	if current != nil && staleEvent(current, event) {
		log.Debug().
			Str("event_id", event.EventID).
			Str("site_id", event.SiteID.String()).
			Msg("Out-of-order payment event for older billing period, ignoring")
		return r.markProcessed(ctx, event)
	}

	next := &models.BillingState{
		SiteID:                 event.SiteID,
		Status:                 statusForEvent(event.Type),
		SubscriptionID:         event.SubscriptionID,
		PlanAllowsCustomDomain: event.PlanAllowsCustomDomain,
	}
	if !event.PeriodEnd.IsZero() {
		periodEnd := event.PeriodEnd
		next.CurrentPeriodEnd = &periodEnd
	} else if current != nil {
		next.CurrentPeriodEnd = current.CurrentPeriodEnd
	}

	if err := r.billing.SaveBillingState(ctx, next); err != nil {
		return err
	}

	if err := r.applySuspension(ctx, event.SiteID, next.Suspended()); err != nil {
		return err
	}

	// The dedup row is written only after the event's effects are durable.
	// A failure above leaves no record, so the provider's redelivery re-runs
	// the event instead of being swallowed as a duplicate; the upserts above
	// make the re-run safe.
	return r.markProcessed(ctx, event)
}

func (r *BillingReconciler) markProcessed(ctx context.Context, event *providers.PaymentEvent) error {
	_, err := r.billing.MarkEventProcessed(ctx, &models.ProcessedBillingEvent{
		EventID:   event.EventID,
		EventType: string(event.Type),
		SiteID:    event.SiteID,
	})
	return err
}

// applySuspension propagates the billing standing onto the site's
// activations and invalidates their cached serving predicate
func (r *BillingReconciler) applySuspension(ctx context.Context, siteID uuid.UUID, suspended bool) error {
	changed, err := r.activations.SetSuspendedForSite(ctx, siteID, suspended)
	if err != nil {
		return err
	}
	if changed == 0 {
		return nil
	}

	live, err := r.activations.GetLiveBySite(ctx, siteID)
	if err != nil {
		log.Warn().Err(err).Str("site_id", siteID.String()).Msg("Failed to load live activations after suspension change")
		return nil
	}

	subject := events.SubjectActivationResumed
	action := "resumed"
	if suspended {
		subject = events.SubjectActivationSuspended
		action = "suspended"
	}

	for _, activation := range live {
		r.invalidateServing(ctx, activation.Hostname)
		if r.publisher != nil {
			event := &events.ActivationEvent{
				ActivationID:       activation.ID.String(),
				SiteID:             siteID.String(),
				Hostname:           activation.Hostname,
				State:              string(activation.State),
				SuspendedByBilling: suspended,
			}
			if err := r.publisher.Publish(ctx, subject, event); err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish suspension event")
			}
		}
	}

	log.Info().
		Str("site_id", siteID.String()).
		Int64("activations", changed).
		Msgf("Billing standing changed, domains %s", action)
	return nil
}

func (r *BillingReconciler) invalidateServing(ctx context.Context, hostname string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, servingCachePrefix+hostname).Err(); err != nil {
		log.Debug().Err(err).Msg("Failed to invalidate serving cache")
	}
}

// staleEvent reports whether the event belongs to a billing period older than
// the stored one. Events without a period end are never considered stale.
func staleEvent(current *models.BillingState, event *providers.PaymentEvent) bool {
	if current.CurrentPeriodEnd == nil || event.PeriodEnd.IsZero() {
		return false
	}
	return event.PeriodEnd.Before(*current.CurrentPeriodEnd)
}

func statusForEvent(eventType providers.PaymentEventType) models.BillingStatus {
	switch eventType {
	case providers.EventSubscriptionActivated:
		return models.BillingStatusActive
	case providers.EventSubscriptionPastDue:
		return models.BillingStatusPastDue
	case providers.EventSubscriptionCancelled:
		return models.BillingStatusCancelled
	default:
		return models.BillingStatusActive
	}
}
