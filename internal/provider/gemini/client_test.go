package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

func geminiReply(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	require.NoError(t, err)
	return body
}

func sampleRequest(t *testing.T) provider.InsightRequest {
	t.Helper()
	p, err := models.ParsePeriod("2026-07")
	require.NoError(t, err)
	change := 45.2
	return provider.InsightRequest{
		TeamName:         "platform",
		AccountID:        "123456789012",
		Period:           p,
		CurrentCost:      45230,
		PreviousCost:     38500,
		PercentChange:    &change,
		CurrentBreakdown: map[string]float64{"EC2": 30000, "RDS": 15230},
		IsAnomaly:        true,
	}
}

func TestGenerate_ParsesStructuredResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-1.5-flash:generateContent")
		w.Write(geminiReply(t, `{"narrative": "EC2 usage doubled.", "predicted_low": 44000, "predicted_high": 52000, "confidence": "medium", "recommendations": ["Buy savings plans"]}`))
	}))
	defer server.Close()

	client := NewClient("key", WithBaseURL(server.URL))

	insight, err := client.Generate(context.Background(), sampleRequest(t))
	require.NoError(t, err)

	assert.Equal(t, "EC2 usage doubled.", insight.Narrative)
	assert.InDelta(t, 44000, insight.Prediction.Low, 0.001)
	assert.InDelta(t, 52000, insight.Prediction.High, 0.001)
	assert.Equal(t, "medium", insight.Prediction.Confidence)
	assert.Equal(t, []string{"Buy savings plans"}, insight.Recommendations)
	assert.Equal(t, "123456789012", insight.AccountID)
}

func TestGenerate_StripsCodeFences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(geminiReply(t, "```json\n{\"narrative\": \"ok\", \"predicted_low\": 1, \"predicted_high\": 2, \"confidence\": \"low\", \"recommendations\": []}\n```"))
	}))
	defer server.Close()

	client := NewClient("key", WithBaseURL(server.URL))

	insight, err := client.Generate(context.Background(), sampleRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "ok", insight.Narrative)
}

func TestGenerate_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(geminiReply(t, "I cannot produce JSON today."))
	}))
	defer server.Close()

	client := NewClient("key", WithBaseURL(server.URL))

	_, err := client.Generate(context.Background(), sampleRequest(t))
	require.Error(t, err)
	kind, ok := provider.IsAIError(err)
	require.True(t, ok)
	assert.Equal(t, "malformed", kind)
}

func TestGenerate_ProviderUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient("key", WithBaseURL(server.URL))

	_, err := client.Generate(context.Background(), sampleRequest(t))
	require.Error(t, err)
	kind, ok := provider.IsAIError(err)
	require.True(t, ok)
	assert.Equal(t, "unavailable", kind)
}

func TestSummarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(geminiReply(t, "Spend rose 12% month over month, driven by two accounts."))
	}))
	defer server.Close()

	client := NewClient("key", WithBaseURL(server.URL))

	p, err := models.ParsePeriod("2026-07")
	require.NoError(t, err)
	summary, err := client.Summarize(context.Background(), &models.AdminReport{
		Period:        p,
		AccountCount:  5,
		TotalCurrent:  120000,
		TotalPrevious: 107000,
	})
	require.NoError(t, err)
	assert.Contains(t, summary, "12%")
}
