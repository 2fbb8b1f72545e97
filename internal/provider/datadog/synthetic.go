package datadog

import (
	"hash/fnv"
	"time"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// Synthetic breakdown shares, matching typical AWS spend distribution.
var syntheticServices = []struct {
	name  string
	share float64
}{
	{"EC2", 0.40},
	{"RDS", 0.25},
	{"S3", 0.15},
	{"Lambda", 0.10},
	{"CloudWatch", 0.05},
	{"Other", 0.05},
}

// syntheticSnapshot builds deterministic demo data for an account and
// period. The same inputs always produce the same snapshot, so re-runs
// stay idempotent, and the result is flagged Synthetic so reports can
// distinguish it from billing data.
func syntheticSnapshot(accountID string, period models.Period) *models.CostSnapshot {
	h := fnv.New64a()
	h.Write([]byte(accountID))
	h.Write([]byte(period.String()))
	seed := h.Sum64()

	// Base cost in [1000, 50000), derived from the hash.
	base := 1000.0 + float64(seed%49000)

	breakdown := make(map[string]float64, len(syntheticServices))
	var total float64
	for _, svc := range syntheticServices {
		cost := round2(base * svc.share)
		breakdown[svc.name] = cost
		total += cost
	}

	return &models.CostSnapshot{
		AccountID: accountID,
		Period:    period,
		TotalCost: round2(total),
		Breakdown: breakdown,
		Synthetic: true,
		Source:    "synthetic",
		FetchedAt: time.Now().UTC(),
	}
}
