package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// ErrRunInFlight is returned when a run is triggered for a period that
// already has a non-terminal run.
var ErrRunInFlight = errors.New("a run is already in progress for this period")

// CreateRun inserts a new run record. The partial unique index on
// in-progress runs makes a concurrent second trigger fail here.
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO runs (id, period, state, trigger_kind, preview, accounts_total, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Period.String(), string(run.State), string(run.Trigger),
		boolToInt(run.Preview), run.AccountsTotal, run.TriggeredAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrRunInFlight
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRunState records a state transition.
func (db *DB) UpdateRunState(ctx context.Context, runID string, state models.RunState) error {
	result, err := db.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, string(state), runID)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// FinishRun writes the terminal state and final counters for a run.
func (db *DB) FinishRun(ctx context.Context, run *models.Run) error {
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE runs
		SET state = ?, accounts_total = ?, accounts_succeeded = ?,
		    anomalies_detected = ?, failures = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		string(run.State), run.AccountsTotal, run.AccountsSucceeded,
		run.AnomaliesDetected, string(failures), run.Error, time.Now().UTC(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// GetRun returns a run by ID.
func (db *DB) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, period, state, trigger_kind, preview, accounts_total,
		       accounts_succeeded, anomalies_detected, failures, error,
		       triggered_at, completed_at
		FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

// ActiveRun returns the in-progress run for a period, or
// provider.ErrNotFound when the period is idle.
func (db *DB) ActiveRun(ctx context.Context, period models.Period) (*models.Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, period, state, trigger_kind, preview, accounts_total,
		       accounts_succeeded, anomalies_detected, failures, error,
		       triggered_at, completed_at
		FROM runs
		WHERE period = ? AND state IN ('pending', 'fetching', 'analyzing', 'composing', 'delivering')`,
		period.String())
	return scanRun(row)
}

// StaleRuns returns every non-terminal run, oldest first. After a
// clean shutdown the result is empty; anything here was interrupted
// mid-run and holds its period's in-flight guard.
func (db *DB) StaleRuns(ctx context.Context) ([]models.Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, period, state, trigger_kind, preview, accounts_total,
		       accounts_succeeded, anomalies_detected, failures, error,
		       triggered_at, completed_at
		FROM runs
		WHERE state IN ('pending', 'fetching', 'analyzing', 'composing', 'delivering')
		ORDER BY triggered_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListRuns returns run records, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, period, state, trigger_kind, preview, accounts_total,
		       accounts_succeeded, anomalies_detected, failures, error,
		       triggered_at, completed_at
		FROM runs ORDER BY triggered_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var period, state, trigger string
	var preview int
	var failures, runErr sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &period, &state, &trigger, &preview,
		&run.AccountsTotal, &run.AccountsSucceeded, &run.AnomaliesDetected,
		&failures, &runErr, &run.TriggeredAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, provider.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Period, err = models.ParsePeriod(period)
	if err != nil {
		return nil, fmt.Errorf("corrupt run record %s: %w", run.ID, err)
	}
	run.State = models.RunState(state)
	run.Trigger = models.RunTrigger(trigger)
	run.Preview = preview != 0
	if runErr.Valid {
		run.Error = runErr.String
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	if failures.Valid && failures.String != "" && failures.String != "null" {
		if err := json.Unmarshal([]byte(failures.String), &run.Failures); err != nil {
			return nil, fmt.Errorf("corrupt failures on run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// WasDelivered reports whether an email of the given kind already went
// out for (period, account). Admin-wide emails use account_id "admin".
func (db *DB) WasDelivered(ctx context.Context, period models.Period, accountID, kind string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM deliveries WHERE period = ? AND account_id = ? AND kind = ?`,
		period.String(), accountID, kind).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query delivery ledger: %w", err)
	}
	return count > 0, nil
}

// RecordDelivery marks an email as sent. Re-recording the same
// delivery is a no-op.
func (db *DB) RecordDelivery(ctx context.Context, period models.Period, accountID, kind string, recipients []string) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deliveries (period, account_id, kind, recipients)
		VALUES (?, ?, ?, ?)`,
		period.String(), accountID, kind, strings.Join(recipients, ","))
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
