// Package insight wraps the narrative generator with the degradation
// policy: AI failures never fail a run, every call gets a deadline,
// and calls share a rate limiter so a large tenant list cannot hammer
// the AI provider.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cost-sentinel/cost-sentinel/internal/metrics"
	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRate    = rate.Limit(1) // calls per second
	defaultBurst   = 2
)

// Generator produces insights for accounts, degrading gracefully when
// the AI provider misbehaves.
type Generator struct {
	ai      provider.NarrativeGenerator
	limiter *rate.Limiter
	timeout time.Duration
	enabled bool
	logger  *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithRateLimit sets the shared call rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Generator) { g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New creates a Generator. ai may be nil when AI analysis is disabled;
// every call then returns the deterministic fallback.
func New(ai provider.NarrativeGenerator, enabled bool, opts ...Option) *Generator {
	g := &Generator{
		ai:      ai,
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
		timeout: defaultTimeout,
		enabled: enabled && ai != nil,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the insight for one account, or (nil, nil) when the
// AI provider failed and the report should go out without AI content.
// aiEnabled is the run's config snapshot; a run with AI switched off,
// like a Generator with no provider, gets the deterministic numeric
// fallback instead.
func (g *Generator) Generate(ctx context.Context, req provider.InsightRequest, aiEnabled bool) (*models.Insight, error) {
	if !aiEnabled || !g.enabled {
		return fallback(req), nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	insight, err := g.ai.Generate(callCtx, req)
	metrics.AIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if kind, ok := provider.IsAIError(err); ok {
			metrics.RecordAIFailure(kind)
			g.logger.WarnContext(ctx, "ai insight unavailable, degrading",
				"account_id", req.AccountID,
				"period", req.Period.String(),
				"kind", kind,
				"error", err)
			return nil, nil
		}
		return nil, err
	}
	return insight, nil
}

// Summarize returns the admin report's executive summary. A numeric
// summary is substituted when AI is off for the run, unwired, or down.
func (g *Generator) Summarize(ctx context.Context, report *models.AdminReport, aiEnabled bool) (string, error) {
	if !aiEnabled || !g.enabled {
		return numericSummary(report), nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	summary, err := g.ai.Summarize(callCtx, report)
	metrics.AIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if kind, ok := provider.IsAIError(err); ok {
			metrics.RecordAIFailure(kind)
			g.logger.WarnContext(ctx, "ai summary unavailable, degrading",
				"period", report.Period.String(),
				"kind", kind,
				"error", err)
			return numericSummary(report), nil
		}
		return "", err
	}
	return summary, nil
}

// fallback builds a purely numeric insight from the request, used when
// AI analysis is switched off.
func fallback(req provider.InsightRequest) *models.Insight {
	var b strings.Builder
	fmt.Fprintf(&b, "%s spent $%.2f in %s", req.TeamName, req.CurrentCost, req.Period)
	if req.PercentChange != nil {
		fmt.Fprintf(&b, ", a %+.1f%% change from $%.2f the month before.", *req.PercentChange, req.PreviousCost)
	} else {
		b.WriteString("; no prior month is available for comparison.")
	}
	if len(req.TopDrivers) > 0 {
		drivers := make([]string, 0, len(req.TopDrivers))
		for _, d := range req.TopDrivers {
			drivers = append(drivers, fmt.Sprintf("%s (+$%.2f)", d.Service, d.Delta))
		}
		fmt.Fprintf(&b, " Largest increases: %s.", strings.Join(drivers, ", "))
	}

	return &models.Insight{
		AccountID:   req.AccountID,
		Period:      req.Period,
		Narrative:   b.String(),
		Model:       "fallback",
		GeneratedAt: time.Now().UTC(),
	}
}

// numericSummary is the executive summary used when AI is off or down.
func numericSummary(report *models.AdminReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d accounts spent $%.2f in %s", report.AccountCount, report.TotalCurrent, report.Period)
	if report.PercentChange != nil {
		fmt.Fprintf(&b, " (%+.1f%% month over month)", *report.PercentChange)
	}
	fmt.Fprintf(&b, ". %d anomalies detected.", len(report.Anomalies))

	if len(report.Anomalies) > 0 {
		names := make([]string, 0, len(report.Anomalies))
		for _, a := range report.Anomalies {
			names = append(names, a.TeamName)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, " Affected teams: %s.", strings.Join(names, ", "))
	}
	return b.String()
}
