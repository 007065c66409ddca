package workers

import (
	"context"
	"time"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/repository"

	"github.com/rs/zerolog/log"
)

// CleanupWorker prunes aged audit and dedup rows
type CleanupWorker struct {
	cfg     *config.Config
	repo    *repository.ActivationRepository
	billing *repository.BillingRepository
	stopCh  chan struct{}
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(cfg *config.Config, repo *repository.ActivationRepository, billing *repository.BillingRepository) *CleanupWorker {
	return &CleanupWorker{
		cfg:     cfg,
		repo:    repo,
		billing: billing,
		stopCh:  make(chan struct{}),
	}
}

// Start starts the cleanup worker
func (w *CleanupWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.cfg.Workers.CleanupInterval).Msg("Starting cleanup worker")

	ticker := time.NewTicker(w.cfg.Workers.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Cleanup worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			log.Info().Msg("Cleanup worker stopped")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// Stop stops the worker
func (w *CleanupWorker) Stop() {
	close(w.stopCh)
}

func (w *CleanupWorker) run(ctx context.Context) {
	log.Debug().Msg("Running cleanup")

	if deleted, err := w.repo.CleanupOldActivities(ctx, w.cfg.Retention.Activities); err != nil {
		log.Error().Err(err).Msg("Failed to clean up old activities")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Cleaned up old activation activities")
	}

	if deleted, err := w.billing.CleanupProcessedEvents(ctx, w.cfg.Retention.ProcessedEvents); err != nil {
		log.Error().Err(err).Msg("Failed to clean up processed billing events")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Cleaned up old processed billing events")
	}
}
