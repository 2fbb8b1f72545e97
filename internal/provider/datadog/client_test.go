package datadog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const testAccount = "123456789012"

func testPeriod(t *testing.T) models.Period {
	t.Helper()
	p, err := models.ParsePeriod("2026-07")
	require.NoError(t, err)
	return p
}

func TestFetchCosts_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("DD-API-KEY"))
		assert.Equal(t, "test-app-key", r.Header.Get("DD-APPLICATION-KEY"))
		assert.Equal(t, "2026-07", r.URL.Query().Get("start_month"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": [{
				"type": "cost_by_org",
				"id": "abc",
				"attributes": {
					"org_name": "team-a (123456789012)",
					"account_id": "123456789012",
					"charges": [
						{"charge_type": "EC2", "cost": 1200.50},
						{"charge_type": "RDS", "cost": 300.25},
						{"charge_type": "EC2", "cost": 99.25}
					]
				}
			}]
		}`))
	}))
	defer server.Close()

	client := NewClient("test-api-key", "test-app-key", WithBaseURL(server.URL), WithMinInterval(0))

	snap, err := client.FetchCosts(context.Background(), testAccount, testPeriod(t))
	require.NoError(t, err)

	assert.Equal(t, testAccount, snap.AccountID)
	assert.InDelta(t, 1600.0, snap.TotalCost, 0.001)
	assert.InDelta(t, 1299.75, snap.Breakdown["EC2"], 0.001)
	assert.False(t, snap.Synthetic)
	assert.Equal(t, "datadog_cloud_cost", snap.Source)
}

func TestFetchCosts_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient("k", "a", WithBaseURL(server.URL), WithMinInterval(0))

	_, err := client.FetchCosts(context.Background(), testAccount, testPeriod(t))
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
}

func TestFetchCosts_ForbiddenIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors": ["Forbidden"]}`))
	}))
	defer server.Close()

	client := NewClient("k", "a", WithBaseURL(server.URL), WithMinInterval(0))

	_, err := client.FetchCosts(context.Background(), testAccount, testPeriod(t))
	require.Error(t, err)
	assert.False(t, provider.IsTransient(err))
	assert.Contains(t, err.Error(), "Forbidden")
}

func TestFetchCosts_InvalidAccountID(t *testing.T) {
	client := NewClient("k", "a", WithMinInterval(0))

	_, err := client.FetchCosts(context.Background(), "not-an-account", testPeriod(t))
	require.Error(t, err)
	assert.False(t, provider.IsTransient(err))
}

func TestFetchCosts_DemoModeIsDeterministic(t *testing.T) {
	client := NewClient("", "", WithMinInterval(0))
	require.True(t, client.DemoMode())

	period := testPeriod(t)

	first, err := client.FetchCosts(context.Background(), testAccount, period)
	require.NoError(t, err)
	second, err := client.FetchCosts(context.Background(), testAccount, period)
	require.NoError(t, err)

	assert.True(t, first.Synthetic)
	assert.Equal(t, first.TotalCost, second.TotalCost)
	assert.Equal(t, first.Breakdown, second.Breakdown)

	// Different accounts get different synthetic data.
	other, err := client.FetchCosts(context.Background(), "210987654321", period)
	require.NoError(t, err)
	assert.NotEqual(t, first.TotalCost, other.TotalCost)
}
