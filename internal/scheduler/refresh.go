package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-integrations/internal/config"
	"github.com/smallbiznis/valora-integrations/internal/domain"
	"github.com/smallbiznis/valora-integrations/internal/repository"
	"github.com/smallbiznis/valora-integrations/internal/service/integration"
)

// sweepTimeout caps a single sweep so a hung provider cannot stall the
// scheduler indefinitely.
const sweepTimeout = 2 * time.Minute

// RefreshSweeper periodically refreshes active integrations whose
// access token is inside the refresh margin, so callers rarely see an
// expired credential.
type RefreshSweeper struct {
	integrations repository.IntegrationRepository
	manager      integration.Manager
	cfg          config.Config
	logger       *zap.Logger
	cron         *cron.Cron
}

// NewRefreshSweeper builds the sweeper; Start schedules it.
func NewRefreshSweeper(
	integrations repository.IntegrationRepository,
	manager integration.Manager,
	cfg config.Config,
	logger *zap.Logger,
) *RefreshSweeper {
	if logger == nil {
		logger = zap.L()
	}
	return &RefreshSweeper{
		integrations: integrations,
		manager:      manager,
		cfg:          cfg,
		logger:       logger,
		cron:         cron.New(),
	}
}

// Start registers the sweep on the configured schedule and launches the
// cron runner.
func (s *RefreshSweeper) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.RefreshSweepSpec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("refresh sweeper started", zap.String("schedule", s.cfg.RefreshSweepSpec))
	return nil
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *RefreshSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RefreshSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(s.cfg.RefreshMargin)
	ids, err := s.integrations.ListExpiringActive(ctx, cutoff)
	if err != nil {
		s.logger.Error("list expiring integrations", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	s.logger.Info("refresh sweep", zap.Int("candidates", len(ids)))

	for _, id := range ids {
		if _, err := s.manager.Refresh(ctx, integration.SystemCaller, id); err != nil {
			// Terminal failures are already handled inside Refresh (the
			// integration is marked expired); everything else is retried
			// on the next sweep.
			if errors.Is(err, domain.ErrProviderUnavailable) {
				s.logger.Warn("refresh deferred, provider unavailable", zap.Int64("integration_id", id))
				continue
			}
			s.logger.Error("sweep refresh failed", zap.Error(err), zap.Int64("integration_id", id))
		}
	}
}
