package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"domain-activation-service/internal/events"
	"domain-activation-service/internal/models"
	"domain-activation-service/internal/providers"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBillingReconcilerStore implements BillingReconcilerStore with the same
// first-sight dedup semantics as the real repository
type fakeBillingReconcilerStore struct {
	states    map[uuid.UUID]*models.BillingState
	processed map[string]bool
	saveErr   error
}

func newFakeBillingReconcilerStore() *fakeBillingReconcilerStore {
	return &fakeBillingReconcilerStore{
		states:    make(map[uuid.UUID]*models.BillingState),
		processed: make(map[string]bool),
	}
}

func (f *fakeBillingReconcilerStore) GetBillingState(ctx context.Context, siteID uuid.UUID) (*models.BillingState, error) {
	if state, ok := f.states[siteID]; ok {
		copied := *state
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeBillingReconcilerStore) SaveBillingState(ctx context.Context, state *models.BillingState) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	copied := *state
	f.states[state.SiteID] = &copied
	return nil
}

func (f *fakeBillingReconcilerStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return f.processed[eventID], nil
}

func (f *fakeBillingReconcilerStore) MarkEventProcessed(ctx context.Context, event *models.ProcessedBillingEvent) (bool, error) {
	if f.processed[event.EventID] {
		return false, nil
	}
	f.processed[event.EventID] = true
	return true, nil
}

// SetSuspendedForSite and GetLiveBySite complete the SuspensionStore surface
// on the shared in-memory activation store
func (f *fakeActivationStore) SetSuspendedForSite(ctx context.Context, siteID uuid.UUID, suspended bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var changed int64
	for id, row := range f.rows {
		if row.SiteID != siteID || row.SuspendedByBilling == suspended {
			continue
		}
		if suspended && row.State != models.StateLive {
			continue
		}
		row.SuspendedByBilling = suspended
		f.rows[id] = row
		changed++
	}
	return changed, nil
}

func (f *fakeActivationStore) GetLiveBySite(ctx context.Context, siteID uuid.UUID) ([]models.DomainActivation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.DomainActivation
	for _, row := range f.rows {
		if row.SiteID == siteID && row.State == models.StateLive {
			result = append(result, row)
		}
	}
	return result, nil
}

type reconcilerFixture struct {
	reconciler  *BillingReconciler
	billing     *fakeBillingReconcilerStore
	activations *fakeActivationStore
	publisher   *fakePublisher
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		billing:     newFakeBillingReconcilerStore(),
		activations: newFakeActivationStore(),
		publisher:   &fakePublisher{},
	}
	f.reconciler = NewBillingReconciler(f.billing, f.activations, nil, f.publisher)
	return f
}

func pastDueEvent(siteID uuid.UUID, eventID string, periodEnd time.Time) *providers.PaymentEvent {
	return &providers.PaymentEvent{
		EventID:                eventID,
		Type:                   providers.EventSubscriptionPastDue,
		SiteID:                 siteID,
		SubscriptionID:         "sub-1",
		PeriodEnd:              periodEnd,
		PlanAllowsCustomDomain: true,
	}
}

func activatedEvent(siteID uuid.UUID, eventID string, periodEnd time.Time) *providers.PaymentEvent {
	return &providers.PaymentEvent{
		EventID:                eventID,
		Type:                   providers.EventSubscriptionActivated,
		SiteID:                 siteID,
		SubscriptionID:         "sub-1",
		PeriodEnd:              periodEnd,
		PlanAllowsCustomDomain: true,
	}
}

func TestHandleEvent_SuspendsLiveDomains(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	siteID := uuid.New()

	live := &models.DomainActivation{SiteID: siteID, Hostname: "shop.example.com", State: models.StateLive}
	require.NoError(t, f.activations.Create(ctx, live))
	pending := &models.DomainActivation{SiteID: siteID, Hostname: "other.example.com", State: models.StateAwaitingDNS}
	require.NoError(t, f.activations.Create(ctx, pending))

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, f.reconciler.HandleEvent(ctx, pastDueEvent(siteID, "evt-1", periodEnd)))

	state, _ := f.billing.GetBillingState(ctx, siteID)
	require.NotNil(t, state)
	assert.Equal(t, models.BillingStatusPastDue, state.Status)

	current, err := f.activations.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, current.SuspendedByBilling)
	assert.False(t, current.ServingAllowed())
	// Suspension only touches live activations
	currentPending, err := f.activations.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.False(t, currentPending.SuspendedByBilling)

	assert.Contains(t, f.publisher.published(), events.SubjectActivationSuspended)
}

func TestHandleEvent_ResumeClearsSuspension(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	siteID := uuid.New()

	live := &models.DomainActivation{SiteID: siteID, Hostname: "shop.example.com", State: models.StateLive}
	require.NoError(t, f.activations.Create(ctx, live))

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, f.reconciler.HandleEvent(ctx, pastDueEvent(siteID, "evt-1", periodEnd)))
	require.NoError(t, f.reconciler.HandleEvent(ctx, activatedEvent(siteID, "evt-2", periodEnd.Add(time.Hour))))

	current, err := f.activations.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.False(t, current.SuspendedByBilling)
	assert.True(t, current.ServingAllowed())
	assert.Contains(t, f.publisher.published(), events.SubjectActivationResumed)
}

func TestHandleEvent_ReplayIsNoop(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	siteID := uuid.New()

	live := &models.DomainActivation{SiteID: siteID, Hostname: "shop.example.com", State: models.StateLive}
	require.NoError(t, f.activations.Create(ctx, live))

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	event := pastDueEvent(siteID, "evt-1", periodEnd)
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	// Clear the flag out of band; a replay of the same event must not
	// re-apply it
	_, err := f.activations.SetSuspendedForSite(ctx, siteID, false)
	require.NoError(t, err)

	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	current, err := f.activations.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.False(t, current.SuspendedByBilling)
}

func TestHandleEvent_FailedApplyIsRedeliverable(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	siteID := uuid.New()

	live := &models.DomainActivation{SiteID: siteID, Hostname: "shop.example.com", State: models.StateLive}
	require.NoError(t, f.activations.Create(ctx, live))

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	event := pastDueEvent(siteID, "evt-1", periodEnd)

	// A transient store failure mid-apply surfaces to the webhook handler
	// and must not leave a dedup row behind
	f.billing.saveErr = errors.New("connection reset by peer")
	require.Error(t, f.reconciler.HandleEvent(ctx, event))
	assert.False(t, f.billing.processed["evt-1"])

	// The provider's redelivery applies the event in full
	f.billing.saveErr = nil
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	state, _ := f.billing.GetBillingState(ctx, siteID)
	require.NotNil(t, state)
	assert.Equal(t, models.BillingStatusPastDue, state.Status)

	current, err := f.activations.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, current.SuspendedByBilling)
	assert.False(t, current.ServingAllowed())
	assert.True(t, f.billing.processed["evt-1"])
}

func TestHandleEvent_OutOfOrderPeriodIgnored(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	siteID := uuid.New()

	live := &models.DomainActivation{SiteID: siteID, Hostname: "shop.example.com", State: models.StateLive}
	require.NoError(t, f.activations.Create(ctx, live))

	newer := time.Now().Add(60 * 24 * time.Hour)
	older := time.Now().Add(30 * 24 * time.Hour)

	// The activation for the newer period arrives first
	require.NoError(t, f.reconciler.HandleEvent(ctx, activatedEvent(siteID, "evt-2", newer)))
	// A late past_due from the previous period must not suspend
	require.NoError(t, f.reconciler.HandleEvent(ctx, pastDueEvent(siteID, "evt-1", older)))

	state, _ := f.billing.GetBillingState(ctx, siteID)
	require.NotNil(t, state)
	assert.Equal(t, models.BillingStatusActive, state.Status)

	current, err := f.activations.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.False(t, current.SuspendedByBilling)
}

func TestHandleEvent_NoPeriodEndNeverStale(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	siteID := uuid.New()

	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	require.NoError(t, f.reconciler.HandleEvent(ctx, activatedEvent(siteID, "evt-1", periodEnd)))

	// invoice.payment_failed events carry no period end; they still apply
	noPeriod := pastDueEvent(siteID, "evt-2", time.Time{})
	require.NoError(t, f.reconciler.HandleEvent(ctx, noPeriod))

	state, _ := f.billing.GetBillingState(ctx, siteID)
	require.NotNil(t, state)
	assert.Equal(t, models.BillingStatusPastDue, state.Status)
	// The stored period end survives the period-less event
	require.NotNil(t, state.CurrentPeriodEnd)
	assert.WithinDuration(t, periodEnd, *state.CurrentPeriodEnd, time.Second)
}
