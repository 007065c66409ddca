package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/events"
	"domain-activation-service/internal/models"
	"domain-activation-service/internal/providers"
	"domain-activation-service/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrHostnameInUse     = errors.New("hostname is already attached to another site")
	ErrBillingSuspended  = errors.New("site subscription is not in good standing")
	ErrPlanForbids       = errors.New("site plan does not include custom domains")
	ErrInvalidHostname   = errors.New("invalid hostname")
	ErrDomainUnavailable = errors.New("domain is not available for registration")
)

const (
	servingCachePrefix = "domain:serving:"
	servingCacheTTL    = 30 * time.Second
)

// ActivationStore is the persistence surface the service needs; satisfied by
// repository.ActivationRepository
type ActivationStore interface {
	Create(ctx context.Context, activation *models.DomainActivation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DomainActivation, error)
	GetBySiteAndHostname(ctx context.Context, siteID uuid.UUID, hostname string) (*models.DomainActivation, error)
	GetNonTerminalByHostname(ctx context.Context, hostname string) (*models.DomainActivation, error)
	ListBySite(ctx context.Context, siteID uuid.UUID, limit, offset int) ([]models.DomainActivation, int64, error)
	GetLive(ctx context.Context) ([]models.DomainActivation, error)
	UpdateCAS(ctx context.Context, activation *models.DomainActivation) error
	LogActivity(ctx context.Context, activity *models.ActivationActivity) error
	GetActivities(ctx context.Context, activationID uuid.UUID, limit int) ([]models.ActivationActivity, error)
}

// BillingStore reads the per-site billing gate; satisfied by
// repository.BillingRepository
type BillingStore interface {
	GetBillingState(ctx context.Context, siteID uuid.UUID) (*models.BillingState, error)
}

// EventPublisher publishes activation lifecycle events; satisfied by
// events.Publisher
type EventPublisher interface {
	Publish(ctx context.Context, subject string, event *events.ActivationEvent) error
}

// ActivationService drives the custom-domain activation state machine:
// requested -> awaiting_dns -> awaiting_certificate -> live, with failed and
// removed as terminals. All persistence of machine transitions goes through
// compare-and-set on the row version; a lost race is abandoned and the next
// poll re-reads fresh state.
type ActivationService struct {
	repo      ActivationStore
	billing   BillingStore
	registrar providers.Registrar
	edge      providers.EdgeProvider
	dns       InstructionChecker
	cache     *redis.Client
	publisher EventPublisher
	cfg       *config.Config
	now       func() time.Time
}

// NewActivationService creates a new activation service
func NewActivationService(
	repo ActivationStore,
	billing BillingStore,
	registrar providers.Registrar,
	edge providers.EdgeProvider,
	dns InstructionChecker,
	cache *redis.Client,
	publisher EventPublisher,
	cfg *config.Config,
) *ActivationService {
	return &ActivationService{
		repo:      repo,
		billing:   billing,
		registrar: registrar,
		edge:      edge,
		dns:       dns,
		cache:     cache,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RequestActivation attaches a customer-owned hostname to a site. The call is
// idempotent: repeating it while a non-terminal activation exists for the same
// site returns that activation unchanged.
func (s *ActivationService) RequestActivation(ctx context.Context, siteID uuid.UUID, hostname string) (*models.DomainActivation, error) {
	hostname = NormalizeHostname(hostname)
	if err := ValidateHostname(hostname, s.cfg.DNS.PlatformDomain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHostname, err)
	}

	if err := s.checkBillingGate(ctx, siteID); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetNonTerminalByHostname(ctx, hostname); err == nil {
		if existing.SiteID == siteID {
			return existing, nil
		}
		return nil, ErrHostnameInUse
	} else if !errors.Is(err, repository.ErrActivationNotFound) {
		return nil, err
	}

	return s.createActivation(ctx, siteID, hostname, models.SourceExisting, "")
}

// PurchaseDomain registers a new domain through the registrar and provisions
// it in one step. Registration is a financial operation: it runs exactly once
// and its failure is returned to the caller, never retried.
func (s *ActivationService) PurchaseDomain(ctx context.Context, siteID uuid.UUID, req *models.PurchaseDomainRequest) (*models.DomainActivation, error) {
	hostname := NormalizeHostname(req.Hostname)
	if err := ValidateHostname(hostname, s.cfg.DNS.PlatformDomain); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHostname, err)
	}

	if err := s.checkBillingGate(ctx, siteID); err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetNonTerminalByHostname(ctx, hostname); err == nil {
		if existing.SiteID == siteID {
			return existing, nil
		}
		return nil, ErrHostnameInUse
	} else if !errors.Is(err, repository.ErrActivationNotFound) {
		return nil, err
	}

	availability, err := s.registrar.CheckAvailability(ctx, []string{hostname})
	if err != nil {
		return nil, err
	}
	if len(availability) == 0 || !availability[0].Available {
		return nil, ErrDomainUnavailable
	}

	registration, err := s.registrar.Register(ctx, hostname, req.Years, req.Contact)
	if err != nil {
		return nil, err
	}

	return s.createActivation(ctx, siteID, hostname, models.SourcePurchased, registration.OrderRef)
}

// CheckAvailability performs a bulk registrar availability check
func (s *ActivationService) CheckAvailability(ctx context.Context, names []string) ([]models.DomainAvailability, error) {
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		name = NormalizeHostname(name)
		if err := ValidateHostname(name, s.cfg.DNS.PlatformDomain); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHostname, name, err)
		}
		normalized = append(normalized, name)
	}
	return s.registrar.CheckAvailability(ctx, normalized)
}

// GetActivation returns the most recent activation for a (site, hostname)
func (s *ActivationService) GetActivation(ctx context.Context, siteID uuid.UUID, hostname string) (*models.DomainActivation, error) {
	return s.repo.GetBySiteAndHostname(ctx, siteID, NormalizeHostname(hostname))
}

// ListActivations returns a site's activations
func (s *ActivationService) ListActivations(ctx context.Context, siteID uuid.UUID, limit, offset int) ([]models.DomainActivation, int64, error) {
	return s.repo.ListBySite(ctx, siteID, limit, offset)
}

// GetActivities returns the audit log of a site's activation
func (s *ActivationService) GetActivities(ctx context.Context, siteID uuid.UUID, hostname string, limit int) ([]models.ActivationActivity, error) {
	activation, err := s.repo.GetBySiteAndHostname(ctx, siteID, NormalizeHostname(hostname))
	if err != nil {
		return nil, err
	}
	return s.repo.GetActivities(ctx, activation.ID, limit)
}

// ResolveHostname returns the single non-terminal activation for a hostname,
// used by internal services routing inbound requests
func (s *ActivationService) ResolveHostname(ctx context.Context, hostname string) (*models.DomainActivation, error) {
	return s.repo.GetNonTerminalByHostname(ctx, NormalizeHostname(hostname))
}

// IsServingAllowed is the single predicate the edge-routing layer consults:
// true only for a live, billing-unsuspended activation. Results are cached
// briefly in Redis; the cache degrades to direct reads when unavailable.
func (s *ActivationService) IsServingAllowed(ctx context.Context, hostname string) (bool, error) {
	hostname = NormalizeHostname(hostname)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, servingCachePrefix+hostname).Result(); err == nil {
			return cached == "1", nil
		}
	}

	activation, err := s.repo.GetNonTerminalByHostname(ctx, hostname)
	if errors.Is(err, repository.ErrActivationNotFound) {
		s.cacheServing(ctx, hostname, false)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	allowed := activation.ServingAllowed()
	s.cacheServing(ctx, hostname, allowed)
	return allowed, nil
}

// Teardown detaches a hostname from its site, from any state including
// failed: a failed activation may still hold a provider-side edge object
// that needs cleaning up. Provider cleanup is best-effort; the activation
// always ends in removed so the hostname is immediately reusable.
func (s *ActivationService) Teardown(ctx context.Context, siteID uuid.UUID, hostname string) error {
	hostname = NormalizeHostname(hostname)

	activation, err := s.repo.GetBySiteAndHostname(ctx, siteID, hostname)
	if err != nil {
		return err
	}
	if activation.State == models.StateRemoved {
		return repository.ErrActivationNotFound
	}

	if activation.EdgeHostnameRef != "" {
		if err := s.edge.DeleteCustomHostname(ctx, activation.EdgeHostnameRef); err != nil {
			log.Warn().Err(err).Str("hostname", hostname).Msg("Edge cleanup failed during teardown")
		}
	}
	if activation.Source == models.SourcePurchased {
		if err := s.registrar.DeleteHostRecords(ctx, hostname); err != nil {
			log.Warn().Err(err).Str("hostname", hostname).Msg("Registrar cleanup failed during teardown")
		}
	}

	previous := activation.State
	for attempt := 0; attempt < 3; attempt++ {
		activation.State = models.StateRemoved
		activation.NextCheckAt = nil
		err = s.repo.UpdateCAS(ctx, activation)
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
		activation, err = s.repo.GetByID(ctx, activation.ID)
		if err != nil {
			return err
		}
		if activation.State == models.StateRemoved {
			return nil
		}
	}
	if err != nil {
		return err
	}

	s.invalidateServing(ctx, hostname)
	s.logActivity(ctx, activation, "teardown", "success", "activation removed")
	s.publish(ctx, events.SubjectActivationRemoved, activation, previous)

	log.Info().Str("hostname", hostname).Str("site_id", siteID.String()).Msg("Domain activation removed")
	return nil
}

// Advance executes one reconciliation step for a pending activation. Every
// outcome is persisted with a compare-and-set; a version conflict means
// another worker already advanced this row and the step is abandoned.
func (s *ActivationService) Advance(ctx context.Context, activation *models.DomainActivation) error {
	if activation.IsTerminal() || activation.IsLive() {
		return nil
	}

	now := s.now()
	activation.LastCheckedAt = &now

	var err error
	switch activation.State {
	case models.StateRequested:
		err = s.advanceRequested(ctx, activation)
	case models.StateAwaitingDNS:
		err = s.advanceAwaitingDNS(ctx, activation)
	case models.StateAwaitingCertificate:
		err = s.advanceAwaitingCertificate(ctx, activation)
	default:
		return nil
	}

	if err != nil {
		return s.handleStepError(ctx, activation, err)
	}

	if err := s.repo.UpdateCAS(ctx, activation); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			log.Debug().Str("hostname", activation.Hostname).Msg("Concurrent update, abandoning reconcile step")
			return nil
		}
		return err
	}

	if activation.IsLive() {
		s.invalidateServing(ctx, activation.Hostname)
		s.logActivity(ctx, activation, "activate", "success", "certificate issued, domain live")
		s.publish(ctx, events.SubjectActivationLive, activation, models.StateAwaitingCertificate)
		log.Info().Str("hostname", activation.Hostname).Msg("Domain activation live")
	}

	return nil
}

// advanceRequested provisions the custom hostname at the edge and issues the
// DNS instructions. Instructions are written exactly once; a re-entry into
// this state after a partial failure reuses the existing provider object.
func (s *ActivationService) advanceRequested(ctx context.Context, activation *models.DomainActivation) error {
	hostnameObj, err := s.edge.CreateCustomHostname(ctx, activation.Hostname)
	if err != nil {
		return err
	}

	activation.EdgeHostnameRef = hostnameObj.EdgeHostnameRef
	if activation.DNSInstructions == nil {
		activation.DNSInstructions = hostnameObj.DNSInstructions
	}

	// Registrar-managed domains get their records published automatically
	if activation.Source == models.SourcePurchased {
		records := make([]providers.HostRecord, 0, len(activation.DNSInstructions))
		for _, instr := range activation.DNSInstructions {
			records = append(records, providers.HostRecord{
				RecordType: instr.RecordType,
				Host:       instr.Host,
				Value:      instr.Value,
				TTL:        instr.TTL,
			})
		}
		if err := s.registrar.SetHostRecords(ctx, activation.Hostname, records); err != nil {
			return err
		}
	}

	s.transitionTo(activation, models.StateAwaitingDNS)
	s.logActivity(ctx, activation, "provision", "success", "custom hostname created, awaiting DNS")
	return nil
}

// advanceAwaitingDNS checks whether the customer published the instructed
// records. Not-yet-observed is an ordinary retry, not a provider failure.
func (s *ActivationService) advanceAwaitingDNS(ctx context.Context, activation *models.DomainActivation) error {
	result, err := s.dns.CheckInstructions(ctx, activation)
	if err != nil {
		return err
	}

	if !result.Observed {
		s.scheduleRetry(activation)
		if activation.AttemptsExhausted() {
			return s.fail(ctx, activation, "DNS records were not observed within the retry budget: "+result.Message)
		}
		return nil
	}

	s.transitionTo(activation, models.StateAwaitingCertificate)
	s.logActivity(ctx, activation, "dns_verify", "success", "DNS records observed, awaiting certificate")
	return nil
}

// advanceAwaitingCertificate polls the edge provider's certificate sub-state
// until it reaches active
func (s *ActivationService) advanceAwaitingCertificate(ctx context.Context, activation *models.DomainActivation) error {
	result, err := s.edge.GetCertificateStatus(ctx, activation.EdgeHostnameRef)
	if err != nil {
		return err
	}

	if result.Known {
		// A provider report below the stored sub-state is a regression, not
		// a plain update: the attempt cycle restarts so the re-validation
		// gets a full retry budget
		if result.Status.Rank() < activation.CertificateStatus.Rank() {
			log.Warn().
				Str("hostname", activation.Hostname).
				Str("stored", string(activation.CertificateStatus)).
				Str("reported", string(result.Status)).
				Msg("Certificate sub-state regressed, restarting certificate wait")
			activation.Attempts = 0
		}
		activation.CertificateStatus = result.Status
	}

	if result.Known && result.Status == models.CertStatusActive {
		now := s.now()
		activation.State = models.StateLive
		activation.ActivatedAt = &now
		activation.Attempts = 0
		activation.FailureReason = ""
		activation.NextCheckAt = nil
		return nil
	}

	s.scheduleRetry(activation)
	if activation.AttemptsExhausted() {
		return s.fail(ctx, activation, fmt.Sprintf("certificate did not reach active within the retry budget (last status: %s)", activation.CertificateStatus))
	}
	return nil
}

// RecheckLive re-validates a live activation's certificate. A provider report
// below active is a regression: the activation re-enters awaiting_certificate
// and the polling loop picks it back up.
func (s *ActivationService) RecheckLive(ctx context.Context, activation *models.DomainActivation) error {
	if !activation.IsLive() {
		return nil
	}

	result, err := s.edge.GetCertificateStatus(ctx, activation.EdgeHostnameRef)
	if err != nil {
		if providers.IsNonRetryable(err) {
			if failErr := s.fail(ctx, activation, "custom hostname disappeared at the edge provider: "+err.Error()); failErr != nil {
				return failErr
			}
			return s.persistAndInvalidate(ctx, activation)
		}
		return err
	}

	if !result.Known || result.Status.Rank() >= models.CertStatusActive.Rank() {
		return nil
	}

	log.Warn().
		Str("hostname", activation.Hostname).
		Str("reported", string(result.Status)).
		Msg("Certificate regressed on live domain, re-entering certificate wait")

	activation.State = models.StateAwaitingCertificate
	activation.CertificateStatus = result.Status
	activation.Attempts = 0
	next := s.now().Add(s.cfg.Reconciler.BackoffInitial)
	activation.NextCheckAt = &next

	if err := s.persistAndInvalidate(ctx, activation); err != nil {
		return err
	}
	s.logActivity(ctx, activation, "cert_monitor", "warning", "certificate regression detected")
	return nil
}

// RefreshBillingFlag re-derives the suspension flag of a live activation from
// the current billing state, healing any missed webhook
func (s *ActivationService) RefreshBillingFlag(ctx context.Context, activation *models.DomainActivation) error {
	state, err := s.billing.GetBillingState(ctx, activation.SiteID)
	if err != nil {
		return err
	}

	suspended := state != nil && state.Suspended()
	if activation.SuspendedByBilling == suspended {
		return nil
	}

	activation.SuspendedByBilling = suspended
	return s.persistAndInvalidate(ctx, activation)
}

func (s *ActivationService) createActivation(ctx context.Context, siteID uuid.UUID, hostname string, source models.ActivationSource, orderRef string) (*models.DomainActivation, error) {
	now := s.now()
	activation := &models.DomainActivation{
		SiteID:            siteID,
		Hostname:          hostname,
		Source:            source,
		State:             models.StateRequested,
		RegistrarOrderRef: orderRef,
		CertificateStatus: models.CertStatusInitializing,
		MaxAttempts:       s.cfg.Reconciler.MaxAttempts,
		NextCheckAt:       &now,
	}

	if err := s.repo.Create(ctx, activation); err != nil {
		if errors.Is(err, repository.ErrActivationExists) {
			// Lost a race with a concurrent request for the same hostname
			existing, getErr := s.repo.GetNonTerminalByHostname(ctx, hostname)
			if getErr == nil && existing.SiteID == siteID {
				return existing, nil
			}
			return nil, ErrHostnameInUse
		}
		return nil, err
	}

	s.logActivity(ctx, activation, "request", "success", "activation requested")
	s.publish(ctx, events.SubjectActivationRequested, activation, "")

	// First provisioning step runs inline so the caller usually gets DNS
	// instructions on the next status read; the polling loop covers failure.
	go func() {
		stepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fresh, err := s.repo.GetByID(stepCtx, activation.ID)
		if err != nil {
			return
		}
		if err := s.Advance(stepCtx, fresh); err != nil {
			log.Warn().Err(err).Str("hostname", hostname).Msg("Initial provisioning step failed")
		}
	}()

	log.Info().Str("hostname", hostname).Str("site_id", siteID.String()).Str("source", string(source)).Msg("Domain activation requested")
	return activation, nil
}

func (s *ActivationService) checkBillingGate(ctx context.Context, siteID uuid.UUID) error {
	state, err := s.billing.GetBillingState(ctx, siteID)
	if err != nil {
		return err
	}
	if state == nil {
		// No billing record yet; the reconciler will suspend later if needed
		return nil
	}
	if !state.PlanAllowsCustomDomain {
		return ErrPlanForbids
	}
	if state.Suspended() {
		return ErrBillingSuspended
	}
	return nil
}

// handleStepError applies the provider error taxonomy: transient errors are
// retried with backoff until the budget runs out, non-retryable errors fail
// the activation immediately. Either way the row is persisted.
func (s *ActivationService) handleStepError(ctx context.Context, activation *models.DomainActivation, stepErr error) error {
	if providers.IsNonRetryable(stepErr) {
		if err := s.fail(ctx, activation, stepErr.Error()); err != nil {
			return err
		}
		return s.persistStep(ctx, activation)
	}

	s.scheduleRetry(activation)
	if activation.AttemptsExhausted() {
		if err := s.fail(ctx, activation, "retry budget exhausted: "+stepErr.Error()); err != nil {
			return err
		}
	} else {
		log.Debug().
			Err(stepErr).
			Str("hostname", activation.Hostname).
			Int("attempts", activation.Attempts).
			Msg("Transient provider failure, retrying with backoff")
	}
	return s.persistStep(ctx, activation)
}

func (s *ActivationService) persistStep(ctx context.Context, activation *models.DomainActivation) error {
	err := s.repo.UpdateCAS(ctx, activation)
	if errors.Is(err, repository.ErrVersionConflict) {
		log.Debug().Str("hostname", activation.Hostname).Msg("Concurrent update, abandoning reconcile step")
		return nil
	}
	return err
}

func (s *ActivationService) persistAndInvalidate(ctx context.Context, activation *models.DomainActivation) error {
	if err := s.persistStep(ctx, activation); err != nil {
		return err
	}
	s.invalidateServing(ctx, activation.Hostname)
	return nil
}

// transitionTo moves the activation to the next non-terminal state and resets
// the retry budget; each state gets a fresh set of attempts
func (s *ActivationService) transitionTo(activation *models.DomainActivation, state models.ActivationState) {
	activation.State = state
	activation.Attempts = 0
	next := s.now().Add(s.cfg.Reconciler.BackoffInitial)
	activation.NextCheckAt = &next
}

// scheduleRetry consumes one attempt and schedules the next check with
// exponential backoff
func (s *ActivationService) scheduleRetry(activation *models.DomainActivation) {
	activation.Attempts++
	next := s.now().Add(s.backoffDelay(activation.Attempts))
	activation.NextCheckAt = &next
}

// backoffDelay doubles the initial delay per attempt, capped at the maximum
func (s *ActivationService) backoffDelay(attempts int) time.Duration {
	delay := s.cfg.Reconciler.BackoffInitial
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.Reconciler.BackoffMax {
			return s.cfg.Reconciler.BackoffMax
		}
	}
	if delay > s.cfg.Reconciler.BackoffMax {
		delay = s.cfg.Reconciler.BackoffMax
	}
	return delay
}

// fail moves the activation into the failed terminal state
func (s *ActivationService) fail(ctx context.Context, activation *models.DomainActivation, reason string) error {
	previous := activation.State
	activation.State = models.StateFailed
	activation.FailureReason = reason
	activation.NextCheckAt = nil

	s.logActivity(ctx, activation, "fail", "error", reason)
	s.publish(ctx, events.SubjectActivationFailed, activation, previous)

	log.Warn().Str("hostname", activation.Hostname).Str("reason", reason).Msg("Domain activation failed")
	return nil
}

func (s *ActivationService) cacheServing(ctx context.Context, hostname string, allowed bool) {
	if s.cache == nil {
		return
	}
	value := "0"
	if allowed {
		value = "1"
	}
	if err := s.cache.Set(ctx, servingCachePrefix+hostname, value, servingCacheTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("Failed to cache serving predicate")
	}
}

func (s *ActivationService) invalidateServing(ctx context.Context, hostname string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, servingCachePrefix+hostname).Err(); err != nil {
		log.Debug().Err(err).Msg("Failed to invalidate serving cache")
	}
}

func (s *ActivationService) logActivity(ctx context.Context, activation *models.DomainActivation, action, status, message string) {
	activity := &models.ActivationActivity{
		ActivationID: activation.ID,
		SiteID:       activation.SiteID,
		Action:       action,
		Status:       status,
		Message:      message,
	}
	if err := s.repo.LogActivity(ctx, activity); err != nil {
		log.Warn().Err(err).Msg("Failed to log activation activity")
	}
}

func (s *ActivationService) publish(ctx context.Context, subject string, activation *models.DomainActivation, previous models.ActivationState) {
	if s.publisher == nil {
		return
	}
	event := &events.ActivationEvent{
		ActivationID:       activation.ID.String(),
		SiteID:             activation.SiteID.String(),
		Hostname:           activation.Hostname,
		State:              string(activation.State),
		PreviousState:      string(previous),
		CertificateStatus:  string(activation.CertificateStatus),
		SuspendedByBilling: activation.SuspendedByBilling,
		FailureReason:      activation.FailureReason,
	}
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish activation event")
	}
}
