// Package pipeline runs the monthly cost analysis: fetch every
// account's costs, compare against the prior month, generate insights,
// compose reports, and deliver them. One run covers one period; the
// run record in sqlite is the source of truth for its progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cost-sentinel/cost-sentinel/internal/analyzer"
	"github.com/cost-sentinel/cost-sentinel/internal/delivery"
	"github.com/cost-sentinel/cost-sentinel/internal/insight"
	"github.com/cost-sentinel/cost-sentinel/internal/logging"
	"github.com/cost-sentinel/cost-sentinel/internal/metrics"
	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/internal/report"
	"github.com/cost-sentinel/cost-sentinel/internal/storage"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// RunStore persists run records and their state transitions.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRunState(ctx context.Context, runID string, state models.RunState) error
	FinishRun(ctx context.Context, run *models.Run) error
	StaleRuns(ctx context.Context) ([]models.Run, error)
}

// Orchestrator drives pipeline runs.
type Orchestrator struct {
	source    provider.MetricsSource
	store     *storage.Store
	runs      RunStore
	insights  *insight.Generator
	deliverer *delivery.Deliverer
	logger    *slog.Logger

	workers     int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	wg sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithWorkers sets the fetch concurrency.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRetryPolicy sets the transient-failure retry policy.
func WithRetryPolicy(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.maxAttempts = attempts
		o.baseDelay = baseDelay
		o.maxDelay = maxDelay
	}
}

// New creates an Orchestrator.
func New(source provider.MetricsSource, store *storage.Store, runs RunStore,
	insights *insight.Generator, deliverer *delivery.Deliverer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:      source,
		store:       store,
		runs:        runs,
		insights:    insights,
		deliverer:   deliverer,
		logger:      slog.Default(),
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Trigger starts a run for the period in the background and returns
// its record. storage.ErrRunInFlight is returned when the period
// already has a non-terminal run.
func (o *Orchestrator) Trigger(ctx context.Context, period models.Period, trigger models.RunTrigger) (*models.Run, error) {
	run, teams, cfg, err := o.prepare(ctx, period, trigger)
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// The run outlives the API request that triggered it.
		o.execute(context.WithoutCancel(ctx), run, teams, cfg)
	}()
	return run, nil
}

// RunSync executes a run to completion. Used by the scheduler and CLI.
func (o *Orchestrator) RunSync(ctx context.Context, period models.Period, trigger models.RunTrigger) (*models.Run, error) {
	run, teams, cfg, err := o.prepare(ctx, period, trigger)
	if err != nil {
		return nil, err
	}
	o.execute(ctx, run, teams, cfg)
	return run, nil
}

// Wait blocks until all background runs finish. Called on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Recover closes out runs left non-terminal by a previous process.
// Called once at startup, before the scheduler or API can trigger
// anything. Each interrupted run is marked failed so the period's
// in-flight guard releases; non-preview runs are then re-triggered,
// which is cheap because persisted snapshots are reused.
func (o *Orchestrator) Recover(ctx context.Context) error {
	stale, err := o.runs.StaleRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list interrupted runs: %w", err)
	}

	for i := range stale {
		run := stale[i]
		runCtx := logging.WithRunID(ctx, run.ID)

		run.State = models.RunFailed
		run.Error = "interrupted by process restart"
		run.CompletedAt = time.Now().UTC()
		if err := o.runs.FinishRun(ctx, &run); err != nil {
			return fmt.Errorf("failed to close interrupted run %s: %w", run.ID, err)
		}
		metrics.RecordRunFinished(string(run.Trigger), string(run.State))
		o.logger.WarnContext(runCtx, "closed interrupted run",
			"period", run.Period.String(),
			"trigger", string(run.Trigger))

		if run.Preview {
			continue
		}
		if _, err := o.Trigger(ctx, run.Period, run.Trigger); err != nil {
			o.logger.ErrorContext(runCtx, "failed to resume interrupted period",
				"period", run.Period.String(), "error", err)
		}
	}
	return nil
}

// prepare snapshots teams and config, then registers the run record.
// The config read here is the one the whole run uses; a concurrent
// config update does not affect a run already started.
func (o *Orchestrator) prepare(ctx context.Context, period models.Period, trigger models.RunTrigger) (*models.Run, []models.Team, models.NotificationConfig, error) {
	teams, err := o.store.ListTeams(ctx)
	if err != nil {
		return nil, nil, models.NotificationConfig{}, fmt.Errorf("failed to list teams: %w", err)
	}
	cfg, err := o.store.GetConfig(ctx)
	if err != nil {
		return nil, nil, models.NotificationConfig{}, fmt.Errorf("failed to load config: %w", err)
	}

	run := &models.Run{
		ID:            "run-" + uuid.New().String()[:8],
		Period:        period,
		State:         models.RunPending,
		Trigger:       trigger,
		Preview:       trigger == models.TriggerPreview,
		TriggeredAt:   time.Now().UTC(),
		AccountsTotal: len(teams),
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, nil, models.NotificationConfig{}, err
	}

	logging.Audit(logging.WithRunID(ctx, run.ID), "run_triggered",
		"period", period.String(),
		"trigger", string(trigger),
		"accounts", len(teams))
	return run, teams, cfg, nil
}

// accountResult is one account's progress through the run.
type accountResult struct {
	team     models.Team
	current  *models.CostSnapshot
	previous *models.CostSnapshot
	anomaly  *models.Anomaly
	insight  *models.Insight
	failure  *models.AccountFailure
}

func (o *Orchestrator) execute(ctx context.Context, run *models.Run, teams []models.Team, cfg models.NotificationConfig) {
	ctx = logging.WithRunID(ctx, run.ID)
	metrics.RunsInProgress.Inc()
	defer metrics.RunsInProgress.Dec()

	if len(teams) == 0 {
		o.logger.WarnContext(ctx, "no teams registered, nothing to do")
		o.finish(ctx, run, nil)
		return
	}

	results := o.fetchStage(ctx, run, teams)
	o.analyzeStage(ctx, run, results, cfg)
	adminReport, teamReports := o.composeStage(ctx, run, results, cfg)
	o.deliverStage(ctx, run, teamReports, adminReport, cfg)

	o.finish(ctx, run, results)
}

func (o *Orchestrator) transition(ctx context.Context, run *models.Run, state models.RunState) {
	run.State = state
	if err := o.runs.UpdateRunState(ctx, run.ID, state); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist run state",
			"state", string(state), "error", err)
	}
	o.logger.InfoContext(ctx, "run state changed", "state", string(state))
}

// fetchStage pulls the current and previous month for every account
// through a bounded worker pool.
func (o *Orchestrator) fetchStage(ctx context.Context, run *models.Run, teams []models.Team) []*accountResult {
	o.transition(ctx, run, models.RunFetching)
	start := time.Now()
	defer func() { metrics.RecordStageDuration("fetch", time.Since(start)) }()

	jobs := make(chan int)
	results := make([]*accountResult, len(teams))

	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.fetchAccount(ctx, teams[i], run.Period)
			}
		}()
	}
	for i := range teams {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// fetchAccount resolves both months for one team. A snapshot already
// persisted for the period is reused, which makes re-running a period
// after a partial run cheap and idempotent.
func (o *Orchestrator) fetchAccount(ctx context.Context, team models.Team, period models.Period) *accountResult {
	ctx = logging.WithAccountID(ctx, team.AccountID)
	res := &accountResult{team: team}
	fail := func(reason string) *accountResult {
		res.failure = &models.AccountFailure{
			AccountID: team.AccountID,
			TeamName:  team.DisplayName,
			Stage:     "fetch",
			Reason:    reason,
		}
		return res
	}

	current, err := o.store.GetSnapshot(ctx, period, team.AccountID)
	switch {
	case err == nil:
		res.current = current
	case provider.IsNotFound(err):
		snap, err := o.fetchWithRetry(ctx, team.AccountID, period)
		if err != nil {
			return fail(err.Error())
		}
		snap.TeamName = team.DisplayName
		if err := o.store.SaveSnapshot(ctx, snap); err != nil {
			return fail(fmt.Sprintf("failed to persist snapshot: %v", err))
		}
		res.current = snap
	default:
		return fail(fmt.Sprintf("failed to read snapshot: %v", err))
	}

	prevPeriod := period.Previous()
	previous, err := o.store.GetSnapshot(ctx, prevPeriod, team.AccountID)
	switch {
	case err == nil:
		res.previous = previous
	case provider.IsNotFound(err):
		snap, err := o.fetchWithRetry(ctx, team.AccountID, prevPeriod)
		if err != nil {
			// A provider that has no data for the prior month means the
			// account is new, not that the run failed.
			if provider.IsNotFound(err) || isMissingData(err) {
				break
			}
			return fail(fmt.Sprintf("previous month: %v", err))
		}
		snap.TeamName = team.DisplayName
		if err := o.store.SaveSnapshot(ctx, snap); err != nil {
			return fail(fmt.Sprintf("failed to persist snapshot: %v", err))
		}
		res.previous = snap
	default:
		return fail(fmt.Sprintf("failed to read snapshot: %v", err))
	}

	return res
}

func isMissingData(err error) bool {
	var fe *provider.FetchError
	return errors.As(err, &fe) && fe.StatusCode == 404
}

// fetchWithRetry retries transient provider failures with capped
// exponential backoff. Permanent failures return immediately.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, accountID string, period models.Period) (*models.CostSnapshot, error) {
	delay := o.baseDelay
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		snap, err := o.source.FetchCosts(ctx, accountID, period)
		if err == nil {
			if snap.Synthetic {
				metrics.SyntheticSnapshots.Inc()
			}
			return snap, nil
		}
		lastErr = err

		if !provider.IsTransient(err) {
			metrics.RecordFetchError(o.source.Name(), false)
			return nil, err
		}
		metrics.RecordFetchError(o.source.Name(), true)

		if attempt == o.maxAttempts {
			break
		}
		metrics.FetchRetries.WithLabelValues(o.source.Name()).Inc()
		o.logger.WarnContext(ctx, "transient fetch failure, retrying",
			"period", period.String(),
			"attempt", attempt,
			"delay", delay.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > o.maxDelay {
			delay = o.maxDelay
		}
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", o.maxAttempts, lastErr)
}

// analyzeStage computes anomalies and insights for fetched accounts.
func (o *Orchestrator) analyzeStage(ctx context.Context, run *models.Run, results []*accountResult, cfg models.NotificationConfig) {
	o.transition(ctx, run, models.RunAnalyzing)
	start := time.Now()
	defer func() { metrics.RecordStageDuration("analyze", time.Since(start)) }()

	anl := analyzer.New(cfg.AnomalyThresholdPercent, analyzer.DefaultTopDrivers)

	for _, res := range results {
		if res.failure != nil {
			continue
		}

		res.anomaly = anl.Analyze(res.current, res.previous)
		if err := o.store.SaveAnomaly(ctx, res.anomaly); err != nil {
			res.failure = &models.AccountFailure{
				AccountID: res.team.AccountID,
				TeamName:  res.team.DisplayName,
				Stage:     "analyze",
				Reason:    fmt.Sprintf("failed to persist anomaly: %v", err),
			}
			continue
		}
		if res.anomaly.IsAnomaly {
			metrics.AnomaliesDetected.Inc()
		}

		ins, err := o.insights.Generate(ctx, insightRequest(res), cfg.AIEnabled)
		if err != nil {
			o.logger.ErrorContext(ctx, "insight generation failed",
				"account_id", res.team.AccountID, "error", err)
			continue
		}
		if ins == nil {
			continue
		}
		ins.AccountID = res.team.AccountID
		ins.Period = run.Period
		if err := o.store.SaveInsight(ctx, ins); err != nil {
			o.logger.ErrorContext(ctx, "failed to persist insight",
				"account_id", res.team.AccountID, "error", err)
			continue
		}
		res.insight = ins
	}
}

func insightRequest(res *accountResult) provider.InsightRequest {
	req := provider.InsightRequest{
		TeamName:         res.team.DisplayName,
		AccountID:        res.team.AccountID,
		Period:           res.current.Period,
		CurrentCost:      res.current.TotalCost,
		CurrentBreakdown: res.current.Breakdown,
		PercentChange:    res.anomaly.PercentChange,
		TopDrivers:       res.anomaly.TopDrivers,
		IsAnomaly:        res.anomaly.IsAnomaly,
	}
	if res.previous != nil {
		req.PreviousCost = res.previous.TotalCost
		req.PreviousBreakdown = res.previous.Breakdown
	}
	return req
}

// composeStage builds the team reports and the admin aggregate.
func (o *Orchestrator) composeStage(ctx context.Context, run *models.Run, results []*accountResult, cfg models.NotificationConfig) (*models.AdminReport, []*models.TeamReport) {
	o.transition(ctx, run, models.RunComposing)
	start := time.Now()
	defer func() { metrics.RecordStageDuration("compose", time.Since(start)) }()

	var teamReports []*models.TeamReport
	var succeeded []report.TeamInput

	for _, res := range results {
		if res.failure != nil {
			continue
		}
		in := report.TeamInput{
			Team:     res.team,
			Period:   run.Period,
			Current:  res.current,
			Previous: res.previous,
			Anomaly:  res.anomaly,
			Insight:  res.insight,
		}
		tr, err := report.ComposeTeam(in)
		if err != nil {
			res.failure = &models.AccountFailure{
				AccountID: res.team.AccountID,
				TeamName:  res.team.DisplayName,
				Stage:     "compose",
				Reason:    err.Error(),
			}
			o.logger.ErrorContext(ctx, "team report composition failed",
				"account_id", res.team.AccountID, "error", err)
			continue
		}
		teamReports = append(teamReports, tr)
		succeeded = append(succeeded, in)
	}

	adminReport := report.ComposeAdmin(report.AdminInput{
		Period:    run.Period,
		Succeeded: succeeded,
		Failures:  collectFailures(results),
	})

	summary, err := o.insights.Summarize(ctx, adminReport, cfg.AIEnabled)
	if err != nil {
		o.logger.ErrorContext(ctx, "executive summary failed", "error", err)
	} else {
		adminReport.ExecutiveSummary = summary
	}

	return adminReport, teamReports
}

// deliverStage emails every composed report. A failure for one team
// never blocks the others or the admin summary. Preview runs skip the
// stage entirely.
func (o *Orchestrator) deliverStage(ctx context.Context, run *models.Run, teamReports []*models.TeamReport, adminReport *models.AdminReport, cfg models.NotificationConfig) {
	o.transition(ctx, run, models.RunDelivering)
	start := time.Now()
	defer func() { metrics.RecordStageDuration("deliver", time.Since(start)) }()

	if run.Preview {
		o.logger.InfoContext(ctx, "preview run, skipping delivery",
			"team_reports", len(teamReports))
		return
	}

	for _, tr := range teamReports {
		if err := o.deliverer.SendTeamReport(ctx, tr); err != nil {
			var de *provider.DeliveryError
			metrics.RecordDeliveryFailure(delivery.KindTeamReport, errors.As(err, &de) && de.RecipientRejected)
			o.logger.ErrorContext(ctx, "team report delivery failed",
				"account_id", tr.Team.AccountID,
				"error", err)
			run.Failures = append(run.Failures, models.AccountFailure{
				AccountID: tr.Team.AccountID,
				TeamName:  tr.Team.DisplayName,
				Stage:     "deliver",
				Reason:    err.Error(),
			})
			continue
		}
		metrics.RecordEmailSent(delivery.KindTeamReport)
	}

	if len(cfg.AdminEmails) == 0 {
		o.logger.WarnContext(ctx, "no admin recipients configured, skipping summary")
		return
	}
	if err := o.deliverer.SendAdminReport(ctx, adminReport, cfg.AdminEmails); err != nil {
		var de *provider.DeliveryError
		metrics.RecordDeliveryFailure(delivery.KindAdminSummary, errors.As(err, &de) && de.RecipientRejected)
		o.logger.ErrorContext(ctx, "admin summary delivery failed", "error", err)
		run.Failures = append(run.Failures, models.AccountFailure{
			AccountID: "admin",
			Stage:     "deliver",
			Reason:    err.Error(),
		})
		return
	}
	metrics.RecordEmailSent(delivery.KindAdminSummary)
}

func collectFailures(results []*accountResult) []models.AccountFailure {
	var failures []models.AccountFailure
	for _, res := range results {
		if res.failure != nil {
			failures = append(failures, *res.failure)
		}
	}
	return failures
}

// finish writes the terminal run record.
func (o *Orchestrator) finish(ctx context.Context, run *models.Run, results []*accountResult) {
	run.Failures = append(collectFailures(results), run.Failures...)

	for _, res := range results {
		if res.failure != nil {
			metrics.RecordAccountOutcome("failed")
			continue
		}
		metrics.RecordAccountOutcome("succeeded")
		run.AccountsSucceeded++
		if res.anomaly != nil && res.anomaly.IsAnomaly {
			run.AnomaliesDetected++
		}
	}

	if len(run.Failures) > 0 {
		run.State = models.RunPartial
	} else {
		run.State = models.RunDone
	}
	run.CompletedAt = time.Now().UTC()

	if err := o.runs.FinishRun(ctx, run); err != nil {
		o.logger.ErrorContext(ctx, "failed to finish run record", "error", err)
	}
	metrics.RecordRunFinished(string(run.Trigger), string(run.State))

	logging.Audit(ctx, "run_finished",
		"state", string(run.State),
		"accounts_succeeded", run.AccountsSucceeded,
		"accounts_total", run.AccountsTotal,
		"anomalies", run.AnomaliesDetected,
		"failures", len(run.Failures))
}
