// Package provider defines the capability interfaces the pipeline
// depends on and the error taxonomy their implementations return.
// The pipeline never imports a concrete provider; swapping Datadog for
// Cost Explorer, or either for a deterministic fake, is a wiring
// change in main.
package provider

import (
	"context"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// MetricsSource fetches one account's costs for one calendar month.
// Current and previous periods are fetched independently so each is
// subject to its own failure.
type MetricsSource interface {
	// Name returns the provider identifier ("datadog" | "costexplorer").
	Name() string

	// FetchCosts returns the snapshot for an account and period, or a
	// *FetchError classified transient/permanent.
	FetchCosts(ctx context.Context, accountID string, period models.Period) (*models.CostSnapshot, error)
}

// InsightRequest carries the numeric facts handed to the AI provider.
// No raw identifiers beyond the account's own data ever leave the
// pipeline through this struct.
type InsightRequest struct {
	TeamName          string
	AccountID         string
	Period            models.Period
	CurrentCost       float64
	PreviousCost      float64
	PercentChange     *float64
	CurrentBreakdown  map[string]float64
	PreviousBreakdown map[string]float64
	TopDrivers        []models.ServiceDelta
	IsAnomaly         bool
}

// NarrativeGenerator produces AI narrative for one account. Failures
// are returned as *AIError and always degrade to a report without AI
// content.
type NarrativeGenerator interface {
	Name() string
	Generate(ctx context.Context, req InsightRequest) (*models.Insight, error)

	// Summarize produces the organization-level executive summary for
	// the admin report.
	Summarize(ctx context.Context, report *models.AdminReport) (string, error)
}

// ObjectStore is idempotent key-value storage over a hierarchical
// namespace. Get returns ErrNotFound for missing keys; Put is an
// upsert.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Email is one message to deliver.
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
}

// Mailer sends email. A failure for one recipient set is isolated from
// others in the same run.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}
