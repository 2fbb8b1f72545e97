package models

import "time"

// CostSnapshot is one account's cost for one calendar month. Exactly
// one snapshot exists per (account, period); re-fetching overwrites in
// place.
type CostSnapshot struct {
	AccountID string             `json:"account_id"`
	TeamName  string             `json:"team_name"`
	Period    Period             `json:"period"`
	TotalCost float64            `json:"total_cost"`
	Breakdown map[string]float64 `json:"breakdown"`

	// Synthetic marks deterministic demo data substituted when the
	// metrics provider is unreachable. Downstream consumers surface it
	// so synthetic figures are never mistaken for billing data.
	Synthetic bool      `json:"synthetic,omitempty"`
	Source    string    `json:"source,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ServiceDelta is one service's cost movement between two periods.
type ServiceDelta struct {
	Service string  `json:"service"`
	Delta   float64 `json:"delta"`
}

// Anomaly is the derived month-over-month comparison for one account.
// Recomputed each run from two CostSnapshots and persisted per period,
// deduplicated by account.
type Anomaly struct {
	AccountID    string  `json:"account_id"`
	TeamName     string  `json:"team_name"`
	Period       Period  `json:"period"`
	CurrentCost  float64 `json:"current_cost"`
	PreviousCost float64 `json:"previous_cost"`

	// PercentChange is nil when the previous period had zero cost; the
	// account is reported as new instead.
	PercentChange *float64       `json:"percent_change"`
	NewAccount    bool           `json:"new_account,omitempty"`
	IsAnomaly     bool           `json:"is_anomaly"`
	TopDrivers    []ServiceDelta `json:"top_drivers,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// ChangeOrZero returns the percent change, treating new accounts as 0.
func (a *Anomaly) ChangeOrZero() float64 {
	if a.PercentChange == nil {
		return 0
	}
	return *a.PercentChange
}
