package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cost-sentinel/cost-sentinel/internal/storage"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// configPollInterval is how often the scheduler re-reads the
// notification config to pick up schedule changes.
const configPollInterval = time.Minute

// Scheduler triggers a weekly run from the notification config's cron
// schedule. Schedule changes through the API take effect without a
// restart.
type Scheduler struct {
	orch   *Orchestrator
	store  *storage.Store
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	spec   string
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler.
func NewScheduler(orch *Orchestrator, store *storage.Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{orch: orch, store: store, logger: logger}
}

// Start loads the schedule and begins watching for config changes.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.reload(ctx)
	go s.watchConfig(ctx)
	s.logger.Info("run scheduler started")
}

// Stop halts the scheduler. Triggered runs keep going.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.mu.Unlock()
	s.logger.Info("run scheduler stopped")
}

func (s *Scheduler) watchConfig(ctx context.Context) {
	ticker := time.NewTicker(configPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reload(ctx)
		}
	}
}

// reload swaps in a new cron entry when the configured schedule
// changed.
func (s *Scheduler) reload(ctx context.Context) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		s.logger.Error("failed to load schedule config", "error", err)
		return
	}
	spec := cfg.CronSpec()

	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec && s.cron != nil {
		return
	}

	if s.cron != nil {
		s.cron.Stop()
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() { s.fire(ctx) }); err != nil {
		s.logger.Error("invalid cron schedule", "spec", spec, "error", err)
		return
	}
	c.Start()

	s.cron = c
	s.spec = spec
	s.logger.Info("schedule loaded", "spec", spec,
		"day", cfg.ScheduleDay, "hour_utc", cfg.ScheduleHourUTC)
}

func (s *Scheduler) fire(ctx context.Context) {
	period := models.CurrentPeriod(time.Now().UTC())

	run, err := s.orch.Trigger(ctx, period, models.TriggerScheduled)
	if err != nil {
		if errors.Is(err, storage.ErrRunInFlight) {
			s.logger.Warn("scheduled run skipped, period already running",
				"period", period.String())
			return
		}
		s.logger.Error("scheduled run failed to start",
			"period", period.String(), "error", err)
		return
	}
	s.logger.Info("scheduled run started", "run_id", run.ID, "period", period.String())
}
