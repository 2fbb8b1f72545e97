// Package analyzer computes month-over-month cost deltas and flags
// anomalies. It is pure computation over two snapshots; fetching and
// persistence live elsewhere.
package analyzer

import (
	"sort"
	"time"

	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

// DefaultTopDrivers is how many service deltas an anomaly carries.
const DefaultTopDrivers = 5

// Analyzer compares cost snapshots against an anomaly threshold.
type Analyzer struct {
	thresholdPercent float64
	topDrivers       int
}

// New creates an Analyzer. thresholdPercent is the strict lower bound
// for flagging an increase; topDrivers caps the driver list (0 means
// DefaultTopDrivers).
func New(thresholdPercent float64, topDrivers int) *Analyzer {
	if topDrivers <= 0 {
		topDrivers = DefaultTopDrivers
	}
	return &Analyzer{thresholdPercent: thresholdPercent, topDrivers: topDrivers}
}

// Analyze compares the current snapshot against the previous period.
// previous may be nil when the account has no history; the result is
// then a new-account record with no percent change and no anomaly.
// Only increases strictly above the threshold are anomalies; a drop of
// any size never is.
func (a *Analyzer) Analyze(current *models.CostSnapshot, previous *models.CostSnapshot) *models.Anomaly {
	anomaly := &models.Anomaly{
		AccountID:   current.AccountID,
		TeamName:    current.TeamName,
		Period:      current.Period,
		CurrentCost: current.TotalCost,
		DetectedAt:  time.Now().UTC(),
	}

	if previous == nil || previous.TotalCost == 0 {
		anomaly.NewAccount = true
		if previous != nil {
			anomaly.PreviousCost = previous.TotalCost
		}
		return anomaly
	}

	anomaly.PreviousCost = previous.TotalCost
	change := (current.TotalCost - previous.TotalCost) / previous.TotalCost * 100
	anomaly.PercentChange = &change
	anomaly.IsAnomaly = change > a.thresholdPercent

	if anomaly.IsAnomaly {
		anomaly.TopDrivers = topDrivers(current.Breakdown, previous.Breakdown, a.topDrivers)
	}
	return anomaly
}

// topDrivers ranks services by cost increase, descending, ties broken
// by service name. Services that decreased or held flat are excluded;
// services present in only one period count with the other side as 0.
func topDrivers(current, previous map[string]float64, limit int) []models.ServiceDelta {
	services := make(map[string]struct{}, len(current)+len(previous))
	for svc := range current {
		services[svc] = struct{}{}
	}
	for svc := range previous {
		services[svc] = struct{}{}
	}

	var deltas []models.ServiceDelta
	for svc := range services {
		delta := current[svc] - previous[svc]
		if delta <= 0 {
			continue
		}
		deltas = append(deltas, models.ServiceDelta{Service: svc, Delta: delta})
	}

	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Delta != deltas[j].Delta {
			return deltas[i].Delta > deltas[j].Delta
		}
		return deltas[i].Service < deltas[j].Service
	})

	if len(deltas) > limit {
		deltas = deltas[:limit]
	}
	return deltas
}
