package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

func TestScheduler_ReloadPicksUpConfigChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewScheduler(f.orch, f.store, slog.Default())
	defer s.Stop()

	s.reload(ctx)
	assert.Equal(t, "0 9 * * 1", s.spec) // monday 09:00 UTC default

	cfg, err := f.store.GetConfig(ctx)
	require.NoError(t, err)
	cfg.ScheduleDay = "friday"
	cfg.ScheduleHourUTC = 17
	_, err = f.store.SaveConfig(ctx, cfg)
	require.NoError(t, err)

	s.reload(ctx)
	assert.Equal(t, "0 17 * * 5", s.spec)
}

func TestScheduler_FireTriggersCurrentPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	period := models.CurrentPeriod(time.Now().UTC())
	f.addTeam(t, "platform", "111111111111")
	f.source.set("111111111111", period, 1100, nil)
	f.source.set("111111111111", period.Previous(), 1000, nil)

	s := NewScheduler(f.orch, f.store, slog.Default())
	s.fire(ctx)
	f.orch.Wait()

	runs, err := f.db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.TriggerScheduled, runs[0].Trigger)
	assert.Equal(t, period, runs[0].Period)
	assert.Equal(t, models.RunDone, runs[0].State)
}

func TestScheduler_FireSkipsBusyPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	period := models.CurrentPeriod(time.Now().UTC())

	blocker := &models.Run{
		ID:          "run-busy",
		Period:      period,
		State:       models.RunFetching,
		Trigger:     models.TriggerManual,
		TriggeredAt: time.Now().UTC(),
	}
	require.NoError(t, f.db.CreateRun(ctx, blocker))

	s := NewScheduler(f.orch, f.store, slog.Default())
	s.fire(ctx)
	f.orch.Wait()

	runs, err := f.db.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1) // only the blocker
}
