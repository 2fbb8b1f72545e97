// Package datadog implements provider.MetricsSource against the
// Datadog Cloud Cost Management v2 API.
package datadog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cost-sentinel/cost-sentinel/internal/provider"
	"github.com/cost-sentinel/cost-sentinel/pkg/models"
)

const (
	defaultSite    = "datadoghq.com"
	defaultTimeout = 30 * time.Second
)

// Client fetches AWS cost data from Datadog.
type Client struct {
	apiKey     string
	appKey     string
	baseURL    string
	httpClient *http.Client

	// demoMode substitutes deterministic synthetic data when no
	// credentials are configured, so non-production deployments keep
	// producing reports. Snapshots are flagged Synthetic.
	demoMode bool

	// Rate limiting
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// ClientOption configures the Datadog client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSite sets the Datadog site (e.g. "datadoghq.eu").
func WithSite(site string) ClientOption {
	return func(c *Client) {
		if site != "" {
			c.baseURL = "https://api." + site
		}
	}
}

// WithMinInterval sets the minimum interval between requests.
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.minInterval = d
	}
}

// NewClient creates a Datadog cost client. With empty credentials the
// client runs in demo mode and serves synthetic data.
func NewClient(apiKey, appKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:      apiKey,
		appKey:      appKey,
		baseURL:     "https://api." + defaultSite,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		demoMode:    apiKey == "" || appKey == "",
		minInterval: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return "datadog"
}

// DemoMode reports whether the client serves synthetic data.
func (c *Client) DemoMode() bool {
	return c.demoMode
}

// FetchCosts returns the cost snapshot for an account and period.
func (c *Client) FetchCosts(ctx context.Context, accountID string, period models.Period) (*models.CostSnapshot, error) {
	if !models.ValidAccountID(accountID) {
		return nil, &provider.FetchError{
			Provider:  c.Name(),
			AccountID: accountID,
			Message:   "account_id must be 12 digits",
		}
	}

	if c.demoMode {
		return syntheticSnapshot(accountID, period), nil
	}

	c.rateLimit()

	reqURL := fmt.Sprintf("%s/api/v2/cost_by_org?%s", c.baseURL, url.Values{
		"start_month": {period.String()},
		"end_month":   {period.String()},
		"view":        {"sub_org"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("DD-API-KEY", c.apiKey)
	req.Header.Set("DD-APPLICATION-KEY", c.appKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network-level failures are worth retrying.
		return nil, &provider.FetchError{
			Provider:  c.Name(),
			AccountID: accountID,
			Message:   err.Error(),
			Transient: true,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleError(resp, accountID)
	}

	var result costByOrgResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &provider.FetchError{
			Provider:  c.Name(),
			AccountID: accountID,
			Message:   fmt.Sprintf("failed to decode response: %v", err),
			Err:       err,
		}
	}

	snapshot := c.parseResponse(&result, accountID, period)
	if snapshot == nil {
		return nil, &provider.FetchError{
			Provider:  c.Name(),
			AccountID: accountID,
			Message:   fmt.Sprintf("no cost data for account in period %s", period),
		}
	}
	return snapshot, nil
}

// parseResponse sums charges for the org entries matching the account.
func (c *Client) parseResponse(result *costByOrgResponse, accountID string, period models.Period) *models.CostSnapshot {
	var total float64
	breakdown := make(map[string]float64)

	for _, entry := range result.Data {
		if entry.Attributes.AccountID != accountID && !strings.Contains(entry.Attributes.OrgName, accountID) {
			continue
		}
		for _, ch := range entry.Attributes.Charges {
			chargeType := ch.ChargeType
			if chargeType == "" {
				chargeType = "Other"
			}
			total += ch.Cost
			breakdown[chargeType] += ch.Cost
		}
	}

	if total <= 0 {
		return nil
	}

	return &models.CostSnapshot{
		AccountID: accountID,
		Period:    period,
		TotalCost: round2(total),
		Breakdown: roundMap(breakdown),
		Source:    "datadog_cloud_cost",
		FetchedAt: time.Now().UTC(),
	}
}

// handleError converts an error response into a classified FetchError.
func (c *Client) handleError(resp *http.Response, accountID string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(body))
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && len(apiErr.Errors) > 0 {
		message = strings.Join(apiErr.Errors, "; ")
	}

	return provider.NewFetchError(c.Name(), accountID, resp.StatusCode, message, nil)
}

// rateLimit enforces the minimum interval between requests.
func (c *Client) rateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = round2(v)
	}
	return out
}
