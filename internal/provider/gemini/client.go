// Package gemini implements provider.NarrativeGenerator against the
// Gemini generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-1.5-flash"
	defaultTimeout = 45 * time.Second
)

// Client generates cost narratives with a Gemini model.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the Gemini client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithModel sets the model name.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Gemini client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "gemini"
}

// insightPayload is the structured response the model is asked to
// return for per-account analysis.
type insightPayload struct {
	Narrative       string   `json:"narrative"`
	PredictedLow    float64  `json:"predicted_low"`
	PredictedHigh   float64  `json:"predicted_high"`
	Confidence      string   `json:"confidence"`
	Recommendations []string `json:"recommendations"`
}

// Generate produces the per-account insight. All failures map to
// *provider.AIError so the caller can degrade instead of aborting.
func (c *Client) Generate(ctx context.Context, req provider.InsightRequest) (*models.Insight, error) {
	prompt := buildInsightPrompt(req)

	text, err := c.generateContent(ctx, insightSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var payload insightPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &payload); err != nil {
		return nil, &provider.AIError{Kind: "malformed", Message: "response is not the requested JSON shape", Err: err}
	}
	if payload.Narrative == "" {
		return nil, &provider.AIError{Kind: "malformed", Message: "response missing narrative"}
	}

	return &models.Insight{
		AccountID: req.AccountID,
		Period:    req.Period,
		Narrative: payload.Narrative,
		Prediction: models.PredictionRange{
			Low:        payload.PredictedLow,
			High:       payload.PredictedHigh,
			Confidence: payload.Confidence,
		},
		Recommendations: payload.Recommendations,
		Model:           c.model,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

// Summarize produces the executive summary for the admin report.
func (c *Client) Summarize(ctx context.Context, report *models.AdminReport) (string, error) {
	text, err := c.generateContent(ctx, summarySystemPrompt, buildSummaryPrompt(report))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Gemini REST request/response shapes.

type generateRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generateContent(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.7,
			TopP:            0.95,
			MaxOutputTokens: 2048,
		},
	})
	if err != nil {
		return "", &provider.AIError{Kind: "malformed", Message: "failed to encode request", Err: err}
	}

	reqURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", &provider.AIError{Kind: "unavailable", Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", &provider.AIError{Kind: "timeout", Message: "generation timed out", Err: err}
		}
		return "", &provider.AIError{Kind: "unavailable", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &provider.AIError{
			Kind:    "unavailable",
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &provider.AIError{Kind: "malformed", Message: "failed to decode response", Err: err}
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", &provider.AIError{Kind: "malformed", Message: "response has no candidates"}
	}

	return result.Candidates[0].Content.Parts[0].Text, nil
}

// extractJSON strips markdown code fences the model sometimes wraps
// around JSON output.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

const insightSystemPrompt = `You are a cloud cost optimization expert. Analyze the provided cost data and explain why costs changed, naming specific services. Respond ONLY with a JSON object of this exact shape:
{"narrative": "...", "predicted_low": 0, "predicted_high": 0, "confidence": "low|medium|high", "recommendations": ["..."]}
The narrative must be concise and actionable. predicted_low/predicted_high bound next month's expected cost in dollars. Order recommendations by impact, highest first.`

const summarySystemPrompt = `You are a CFO's assistant writing cost reports. Write a 3-4 sentence executive summary of the organization's cloud spend: overall trend, key concerns, and recommended immediate actions. Professional language, no markdown.`

func buildInsightPrompt(req provider.InsightRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cost data for %s (account %s), period %s:\n\n", req.TeamName, req.AccountID, req.Period)
	fmt.Fprintf(&b, "Current month: $%.2f\n", req.CurrentCost)
	fmt.Fprintf(&b, "Previous month: $%.2f\n", req.PreviousCost)
	if req.PercentChange != nil {
		fmt.Fprintf(&b, "Change: %+.1f%%\n", *req.PercentChange)
	} else {
		b.WriteString("Change: n/a (new account)\n")
	}
	fmt.Fprintf(&b, "Anomaly flagged: %v\n", req.IsAnomaly)

	b.WriteString("\nService breakdown (current):\n")
	writeBreakdown(&b, req.CurrentBreakdown)
	b.WriteString("\nService breakdown (previous):\n")
	writeBreakdown(&b, req.PreviousBreakdown)

	if len(req.TopDrivers) > 0 {
		b.WriteString("\nTop cost drivers (computed):\n")
		for _, d := range req.TopDrivers {
			fmt.Fprintf(&b, "- %s: %+.2f\n", d.Service, d.Delta)
		}
	}
	return b.String()
}

func buildSummaryPrompt(report *models.AdminReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization: %d accounts, period %s\n", report.AccountCount, report.Period)
	fmt.Fprintf(&b, "Current month spend: $%.2f\n", report.TotalCurrent)
	fmt.Fprintf(&b, "Previous month spend: $%.2f\n", report.TotalPrevious)
	if report.PercentChange != nil {
		fmt.Fprintf(&b, "Month-over-month change: %+.1f%%\n", *report.PercentChange)
	}
	fmt.Fprintf(&b, "Anomalies detected: %d\n", len(report.Anomalies))
	for i, a := range report.Anomalies {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- %s: %+.1f%% ($%.2f)\n", a.TeamName, a.ChangeOrZero(), a.CurrentCost)
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "Accounts excluded due to fetch failure: %d\n", len(report.Failures))
	}
	return b.String()
}

func writeBreakdown(b *strings.Builder, breakdown map[string]float64) {
	services := make([]string, 0, len(breakdown))
	for svc := range breakdown {
		services = append(services, svc)
	}
	sort.Strings(services)
	for _, svc := range services {
		fmt.Fprintf(b, "- %s: $%.2f\n", svc, breakdown[svc])
	}
}
