package models

import "time"

// PredictionRange is the AI's forecast for the next period's cost.
type PredictionRange struct {
	Low        float64 `json:"low"`
	High       float64 `json:"high"`
	Confidence string  `json:"confidence,omitempty"` // "low", "medium", "high"
}

// Insight is the AI-generated narrative for one account and period.
// Optional: a failed or disabled AI call leaves the report without one.
type Insight struct {
	AccountID       string          `json:"account_id"`
	Period          Period          `json:"period"`
	Narrative       string          `json:"narrative"`
	Prediction      PredictionRange `json:"prediction_range"`
	Recommendations []string        `json:"recommendations,omitempty"`
	Model           string          `json:"model,omitempty"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
