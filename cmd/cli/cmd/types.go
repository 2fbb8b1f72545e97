package cmd

// CLI-specific response types with string timestamps. The CLI receives
// JSON and displays timestamps directly; the server's models use
// time.Time which serializes to RFC3339 strings.

// Team is a monitored cloud account and its owners.
type Team struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"display_name"`
	AccountID         string   `json:"account_id"`
	NotificationEmail string   `json:"notification_email"`
	AdminEmails       []string `json:"admin_emails,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

// Run is one pipeline execution as reported by the API.
type Run struct {
	ID                string       `json:"id"`
	Period            string       `json:"period"`
	State             string       `json:"state"`
	Trigger           string       `json:"trigger"`
	Preview           bool         `json:"preview"`
	TriggeredAt       string       `json:"triggered_at"`
	CompletedAt       string       `json:"completed_at,omitempty"`
	AccountsTotal     int          `json:"accounts_total"`
	AccountsSucceeded int          `json:"accounts_succeeded"`
	AnomaliesDetected int          `json:"anomalies_detected"`
	Failures          []RunFailure `json:"failures,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// RunFailure is one account a run could not process.
type RunFailure struct {
	AccountID string `json:"account_id"`
	TeamName  string `json:"team_name"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// NotificationConfig is the server's runtime pipeline configuration.
type NotificationConfig struct {
	AnomalyThresholdPercent float64  `json:"anomaly_threshold_percent"`
	ScheduleDay             string   `json:"schedule_day"`
	ScheduleHourUTC         int      `json:"schedule_hour"`
	AdminEmails             []string `json:"admin_emails,omitempty"`
	AIEnabled               bool     `json:"ai_enabled"`
	Version                 int      `json:"version"`
	UpdatedAt               string   `json:"updated_at"`
}

// Anomaly is one account's month-over-month verdict.
type Anomaly struct {
	AccountID     string   `json:"account_id"`
	TeamName      string   `json:"team_name"`
	Period        string   `json:"period"`
	CurrentCost   float64  `json:"current_cost"`
	PreviousCost  float64  `json:"previous_cost"`
	PercentChange *float64 `json:"percent_change"`
	IsAnomaly     bool     `json:"is_anomaly"`
	NewAccount    bool     `json:"new_account,omitempty"`
}

// CostSnapshot is one account-month of spend.
type CostSnapshot struct {
	AccountID string             `json:"account_id"`
	TeamName  string             `json:"team_name,omitempty"`
	Period    string             `json:"period"`
	TotalCost float64            `json:"total_cost"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
	Source    string             `json:"source,omitempty"`
	Synthetic bool               `json:"synthetic,omitempty"`
}
