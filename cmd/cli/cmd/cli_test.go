package cmd

// The CLI package uses package-level variables for cobra flags, which
// creates shared mutable state between tests. testMu serializes tests
// that touch it; state is saved before modification and restored via
// t.Cleanup (LIFO: close mock server, restore state, unlock).

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
)

var testMu sync.Mutex

type globalStateSnapshot struct {
	serverURL    string
	outputFormat string

	teamAddEmail  string
	teamAddAdmins []string

	runPeriod  string
	runPreview bool
	runsLimit  int

	reportPeriod string

	costsAccountID string
	costsPeriod    string
	costsLimit     int

	envServerURL string
}

func saveGlobalState() globalStateSnapshot {
	return globalStateSnapshot{
		serverURL:      serverURL,
		outputFormat:   outputFormat,
		teamAddEmail:   teamAddEmail,
		teamAddAdmins:  teamAddAdmins,
		runPeriod:      runPeriod,
		runPreview:     runPreview,
		runsLimit:      runsLimit,
		reportPeriod:   reportPeriod,
		costsAccountID: costsAccountID,
		costsPeriod:    costsPeriod,
		costsLimit:     costsLimit,
		envServerURL:   os.Getenv("COST_SENTINEL_URL"),
	}
}

func restoreGlobalState(saved globalStateSnapshot) {
	serverURL = saved.serverURL
	outputFormat = saved.outputFormat
	teamAddEmail = saved.teamAddEmail
	teamAddAdmins = saved.teamAddAdmins
	runPeriod = saved.runPeriod
	runPreview = saved.runPreview
	runsLimit = saved.runsLimit
	reportPeriod = saved.reportPeriod
	costsAccountID = saved.costsAccountID
	costsPeriod = saved.costsPeriod
	costsLimit = saved.costsLimit

	if saved.envServerURL != "" {
		os.Setenv("COST_SENTINEL_URL", saved.envServerURL)
	} else {
		os.Unsetenv("COST_SENTINEL_URL")
	}
}

func resetGlobalStateToDefaults() {
	serverURL = "http://localhost:8080"
	outputFormat = "table"
	teamAddEmail = ""
	teamAddAdmins = nil
	runPeriod = ""
	runPreview = false
	runsLimit = 20
	reportPeriod = ""
	costsAccountID = ""
	costsPeriod = ""
	costsLimit = 24
}

func setupTestWithCleanup(t *testing.T) {
	t.Helper()

	testMu.Lock()
	saved := saveGlobalState()
	resetGlobalStateToDefaults()

	t.Cleanup(func() {
		restoreGlobalState(saved)
		testMu.Unlock()
	})
}

func setupMockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
	})
	serverURL = server.URL
	return server
}

// captureOutput captures stdout during function execution
func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

var mockTeam = map[string]interface{}{
	"id":                 "team-a1b2c3d4",
	"display_name":       "platform",
	"account_id":         "123456789012",
	"notification_email": "platform@example.com",
	"created_at":         "2026-07-01T00:00:00Z",
}

var mockRun = map[string]interface{}{
	"id":                 "run-e5f6a7b8",
	"period":             "2026-07",
	"state":              "done",
	"trigger":            "manual",
	"triggered_at":       "2026-08-03T09:00:00Z",
	"completed_at":       "2026-08-03T09:01:12Z",
	"accounts_total":     3,
	"accounts_succeeded": 3,
	"anomalies_detected": 1,
}

func TestTeamsListCommand(t *testing.T) {
	setupTestWithCleanup(t)
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/teams" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"teams": []interface{}{mockTeam},
			"count": 1,
		})
	})

	output := captureOutput(func() {
		if err := runTeamsList(nil, nil); err != nil {
			t.Errorf("runTeamsList failed: %v", err)
		}
	})

	if !strings.Contains(output, "platform") {
		t.Errorf("output missing team name: %s", output)
	}
	if !strings.Contains(output, "123456789012") {
		t.Errorf("output missing account ID: %s", output)
	}
	if !strings.Contains(output, "Total: 1 teams") {
		t.Errorf("output missing count: %s", output)
	}
}

func TestTeamsAddCommand(t *testing.T) {
	setupTestWithCleanup(t)
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["account_id"] != "123456789012" {
			t.Errorf("unexpected account_id: %v", body["account_id"])
		}
		if body["notification_email"] != "platform@example.com" {
			t.Errorf("unexpected email: %v", body["notification_email"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(mockTeam)
	})

	teamAddEmail = "platform@example.com"

	output := captureOutput(func() {
		if err := runTeamsAdd(nil, []string{"platform", "123456789012"}); err != nil {
			t.Errorf("runTeamsAdd failed: %v", err)
		}
	})

	if !strings.Contains(output, "team-a1b2c3d4") {
		t.Errorf("output missing team ID: %s", output)
	}
}

func TestTeamsAddCommand_DuplicateAccount(t *testing.T) {
	setupTestWithCleanup(t)
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	teamAddEmail = "platform@example.com"

	err := runTeamsAdd(nil, []string{"platform", "123456789012"})
	if err == nil {
		t.Fatal("expected error for duplicate account")
	}
	if !strings.Contains(err.Error(), "already registered") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunsTriggerCommand(t *testing.T) {
	setupTestWithCleanup(t)
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["period"] != "2026-07" {
			t.Errorf("unexpected period: %v", body["period"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(mockRun)
	})

	runPeriod = "2026-07"

	output := captureOutput(func() {
		if err := runRunsTrigger(nil, nil); err != nil {
			t.Errorf("runRunsTrigger failed: %v", err)
		}
	})

	if !strings.Contains(output, "run-e5f6a7b8") {
		t.Errorf("output missing run ID: %s", output)
	}
}

func TestRunsTriggerCommand_PeriodBusy(t *testing.T) {
	setupTestWithCleanup(t)
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := runRunsTrigger(nil, nil)
	if err == nil {
		t.Fatal("expected error when a run is in flight")
	}
	if !strings.Contains(err.Error(), "already in progress") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunsGetCommand_JSONOutput(t *testing.T) {
	setupTestWithCleanup(t)
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-e5f6a7b8" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mockRun)
	})

	outputFormat = "json"

	output := captureOutput(func() {
		if err := runRunsGet(nil, []string{"run-e5f6a7b8"}); err != nil {
			t.Errorf("runRunsGet failed: %v", err)
		}
	})

	var run Run
	if err := json.Unmarshal([]byte(output), &run); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if run.State != "done" {
		t.Errorf("unexpected state: %s", run.State)
	}
}

func TestAnomaliesCommand(t *testing.T) {
	setupTestWithCleanup(t)
	change := 45.2
	setupMockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("period") != "2026-07" {
			t.Errorf("unexpected period query: %s", r.URL.RawQuery)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"period": "2026-07",
			"anomalies": []Anomaly{{
				AccountID:     "123456789012",
				TeamName:      "platform",
				Period:        "2026-07",
				CurrentCost:   4520,
				PreviousCost:  3112,
				PercentChange: &change,
				IsAnomaly:     true,
			}},
			"count": 1,
		})
	})

	costsPeriod = "2026-07"

	output := captureOutput(func() {
		if err := runAnomalies(nil, nil); err != nil {
			t.Errorf("runAnomalies failed: %v", err)
		}
	})

	if !strings.Contains(output, "+45.2%") {
		t.Errorf("output missing percent change: %s", output)
	}
	if !strings.Contains(output, "YES") {
		t.Errorf("output missing anomaly flag: %s", output)
	}
}

func TestPctString(t *testing.T) {
	t.Parallel()

	if got := pctString(nil); got != "new" {
		t.Errorf("pctString(nil) = %q, want %q", got, "new")
	}

	v := -12.34
	if got := pctString(&v); got != "-12.3%" {
		t.Errorf("pctString(-12.34) = %q, want %q", got, "-12.3%")
	}
}
