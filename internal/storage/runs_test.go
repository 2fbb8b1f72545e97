package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func newRun(period models.Period) *models.Run {
	return &models.Run{
		ID:          uuid.New().String(),
		Period:      period,
		State:       models.RunPending,
		Trigger:     models.TriggerManual,
		TriggeredAt: time.Now().UTC(),
	}
}

func TestDB_RunLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	period := models.Period{Year: 2026, Month: 7}

	run := newRun(period)
	require.NoError(t, db.CreateRun(ctx, run))

	require.NoError(t, db.UpdateRunState(ctx, run.ID, models.RunFetching))

	loaded, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFetching, loaded.State)
	assert.Equal(t, period, loaded.Period)
	assert.Equal(t, models.TriggerManual, loaded.Trigger)

	run.State = models.RunPartial
	run.AccountsTotal = 3
	run.AccountsSucceeded = 2
	run.AnomaliesDetected = 1
	run.Failures = []models.AccountFailure{
		{AccountID: "123456789012", TeamName: "Platform", Stage: "fetch", Reason: "rate limited"},
	}
	require.NoError(t, db.FinishRun(ctx, run))

	loaded, err = db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunPartial, loaded.State)
	assert.Equal(t, 2, loaded.AccountsSucceeded)
	require.Len(t, loaded.Failures, 1)
	assert.Equal(t, "fetch", loaded.Failures[0].Stage)
	assert.False(t, loaded.CompletedAt.IsZero())
}

func TestDB_RejectsConcurrentRunForPeriod(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	period := models.Period{Year: 2026, Month: 7}

	first := newRun(period)
	require.NoError(t, db.CreateRun(ctx, first))

	second := newRun(period)
	err := db.CreateRun(ctx, second)
	assert.ErrorIs(t, err, ErrRunInFlight)

	// A different period is unaffected.
	other := newRun(models.Period{Year: 2026, Month: 6})
	assert.NoError(t, db.CreateRun(ctx, other))

	// Once the first run finishes, the period opens up again.
	first.State = models.RunDone
	require.NoError(t, db.FinishRun(ctx, first))
	assert.NoError(t, db.CreateRun(ctx, newRun(period)))
}

func TestDB_ActiveRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	period := models.Period{Year: 2026, Month: 7}

	_, err := db.ActiveRun(ctx, period)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	run := newRun(period)
	require.NoError(t, db.CreateRun(ctx, run))

	active, err := db.ActiveRun(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, run.ID, active.ID)

	run.State = models.RunDone
	require.NoError(t, db.FinishRun(ctx, run))
	_, err = db.ActiveRun(ctx, period)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestDB_StaleRuns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	done := newRun(models.Period{Year: 2026, Month: 5})
	require.NoError(t, db.CreateRun(ctx, done))
	done.State = models.RunDone
	require.NoError(t, db.FinishRun(ctx, done))

	older := newRun(models.Period{Year: 2026, Month: 6})
	older.TriggeredAt = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateRun(ctx, older))
	require.NoError(t, db.UpdateRunState(ctx, older.ID, models.RunDelivering))

	newer := newRun(models.Period{Year: 2026, Month: 7})
	newer.TriggeredAt = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateRun(ctx, newer))

	stale, err := db.StaleRuns(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, older.ID, stale[0].ID)
	assert.Equal(t, models.RunDelivering, stale[0].State)
	assert.Equal(t, newer.ID, stale[1].ID)

	// Terminal states never count as stale.
	newer.State = models.RunFailed
	require.NoError(t, db.FinishRun(ctx, newer))
	older.State = models.RunDone
	require.NoError(t, db.FinishRun(ctx, older))

	stale, err = db.StaleRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestDB_ListRuns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for m := time.Month(5); m <= 7; m++ {
		run := newRun(models.Period{Year: 2026, Month: int(m)})
		run.TriggeredAt = time.Date(2026, m, 1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, db.CreateRun(ctx, run))
		run.State = models.RunDone
		require.NoError(t, db.FinishRun(ctx, run))
	}

	runs, err := db.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.Period{Year: 2026, Month: 7}, runs[0].Period)
}

func TestDB_DeliveryLedger(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	period := models.Period{Year: 2026, Month: 7}

	sent, err := db.WasDelivered(ctx, period, "123456789012", "team_alert")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, db.RecordDelivery(ctx, period, "123456789012", "team_alert", []string{"platform@example.com"}))
	require.NoError(t, db.RecordDelivery(ctx, period, "123456789012", "team_alert", []string{"platform@example.com"}))

	sent, err = db.WasDelivered(ctx, period, "123456789012", "team_alert")
	require.NoError(t, err)
	assert.True(t, sent)

	// Kind is part of the ledger key.
	sent, err = db.WasDelivered(ctx, period, "admin", "admin_summary")
	require.NoError(t, err)
	assert.False(t, sent)
}
