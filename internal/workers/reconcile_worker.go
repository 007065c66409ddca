package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/models"
	"domain-activation-service/internal/repository"
	"domain-activation-service/internal/services"

	"github.com/rs/zerolog/log"
)

// ReconcileWorker drives pending activations through the state machine. Each
// tick loads the batch of due rows and advances them on a bounded worker
// pool; a tick that is still running when the next one fires is skipped, so
// ticks never overlap.
type ReconcileWorker struct {
	cfg     *config.Config
	repo    *repository.ActivationRepository
	svc     *services.ActivationService
	running atomic.Bool
	stopCh  chan struct{}
}

// NewReconcileWorker creates a new reconcile worker
func NewReconcileWorker(cfg *config.Config, repo *repository.ActivationRepository, svc *services.ActivationService) *ReconcileWorker {
	return &ReconcileWorker{
		cfg:    cfg,
		repo:   repo,
		svc:    svc,
		stopCh: make(chan struct{}),
	}
}

// Start starts the reconcile worker
func (w *ReconcileWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.cfg.Reconciler.Interval).Msg("Starting reconcile worker")

	ticker := time.NewTicker(w.cfg.Reconciler.Interval)
	defer ticker.Stop()

	// Run immediately on start
	w.run(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconcile worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			log.Info().Msg("Reconcile worker stopped")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// Stop stops the worker
func (w *ReconcileWorker) Stop() {
	close(w.stopCh)
}

func (w *ReconcileWorker) run(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		log.Warn().Msg("Previous reconcile tick still running, skipping")
		return
	}
	defer w.running.Store(false)

	due, err := w.repo.GetDue(ctx, time.Now(), w.cfg.Reconciler.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load due activations")
		return
	}

	if len(due) == 0 {
		return
	}

	log.Debug().Int("count", len(due)).Msg("Reconciling due activations")

	sem := make(chan struct{}, w.cfg.Reconciler.Concurrency)
	var wg sync.WaitGroup

	for i := range due {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(activation *models.DomainActivation) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := w.svc.Advance(ctx, activation); err != nil {
				log.Error().Err(err).Str("hostname", activation.Hostname).Msg("Reconcile step failed")
			}
		}(&due[i])
	}

	wg.Wait()
}
