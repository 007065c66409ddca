package workers

import (
	"context"
	"time"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/repository"
	"domain-activation-service/internal/services"

	"github.com/rs/zerolog/log"
)

// CertMonitorWorker watches live activations for certificate regressions and
// stale billing-suspension flags. Live rows are not part of the regular
// polling schedule; this worker is the only thing that re-examines them.
type CertMonitorWorker struct {
	cfg    *config.Config
	repo   *repository.ActivationRepository
	svc    *services.ActivationService
	stopCh chan struct{}
}

// NewCertMonitorWorker creates a new certificate monitor worker
func NewCertMonitorWorker(cfg *config.Config, repo *repository.ActivationRepository, svc *services.ActivationService) *CertMonitorWorker {
	return &CertMonitorWorker{
		cfg:    cfg,
		repo:   repo,
		svc:    svc,
		stopCh: make(chan struct{}),
	}
}

// Start starts the certificate monitor worker
func (w *CertMonitorWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.cfg.Workers.CertMonitorInterval).Msg("Starting certificate monitor worker")

	ticker := time.NewTicker(w.cfg.Workers.CertMonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Certificate monitor worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			log.Info().Msg("Certificate monitor worker stopped")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// Stop stops the worker
func (w *CertMonitorWorker) Stop() {
	close(w.stopCh)
}

func (w *CertMonitorWorker) run(ctx context.Context) {
	log.Debug().Msg("Running certificate monitor check")

	live, err := w.repo.GetLive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load live activations")
		return
	}

	for i := range live {
		select {
		case <-ctx.Done():
			return
		default:
		}

		activation := &live[i]

		if err := w.svc.RecheckLive(ctx, activation); err != nil {
			log.Error().Err(err).Str("hostname", activation.Hostname).Msg("Certificate recheck failed")
			continue
		}

		if activation.IsLive() {
			if err := w.svc.RefreshBillingFlag(ctx, activation); err != nil {
				log.Error().Err(err).Str("hostname", activation.Hostname).Msg("Billing flag refresh failed")
			}
		}

		// Small delay to avoid hammering the edge provider API
		time.Sleep(500 * time.Millisecond)
	}
}
