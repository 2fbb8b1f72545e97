package models

// TeamReport is the per-tenant view of one run. It only ever carries
// records for a single account; the composer rejects anything else.
type TeamReport struct {
	Team     Team          `json:"team"`
	Period   Period        `json:"period"`
	Current  *CostSnapshot `json:"current"`
	Previous *CostSnapshot `json:"previous"`
	Anomaly  *Anomaly      `json:"anomaly"`

	// Insight is nil when AI analysis was unavailable for this account.
	Insight       *Insight `json:"insight,omitempty"`
	AIUnavailable bool     `json:"ai_unavailable,omitempty"`
}

// TeamSpend is one row of the admin report's spending table.
type TeamSpend struct {
	TeamName      string   `json:"team_name"`
	AccountID     string   `json:"account_id"`
	CurrentCost   float64  `json:"current_cost"`
	PreviousCost  float64  `json:"previous_cost"`
	PercentChange *float64 `json:"percent_change"`
}

// AccountFailure records an account the run could not process.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	TeamName  string `json:"team_name"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// AdminReport aggregates every account in a run for administrators.
// Totals cover successfully fetched accounts only; failed accounts are
// listed separately and excluded from the sums.
type AdminReport struct {
	Period            Period           `json:"period"`
	AccountCount      int              `json:"account_count"`
	TotalCurrent      float64          `json:"total_current"`
	TotalPrevious     float64          `json:"total_previous"`
	PercentChange     *float64         `json:"percent_change"`
	TopSpenders       []TeamSpend      `json:"top_spenders,omitempty"`
	Anomalies         []Anomaly        `json:"anomalies,omitempty"`
	Recommendations   []string         `json:"recommendations,omitempty"`
	Failures          []AccountFailure `json:"failures,omitempty"`
	ExecutiveSummary  string           `json:"executive_summary,omitempty"`
	ContainsSynthetic bool             `json:"contains_synthetic,omitempty"`
}
