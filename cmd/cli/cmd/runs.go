package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	runPeriod  string
	runPreview bool
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Trigger and inspect pipeline runs",
	Long:  `Trigger analysis runs and inspect their progress and outcomes.`,
}

var runsTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a run for a period",
	Long: `Trigger an analysis run. Defaults to the current month; one run per
period may be in flight at a time. With --preview the full pipeline
executes but no email is sent and nothing is recorded as delivered.`,
	RunE: runRunsTrigger,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get [run-id]",
	Short: "Get run details",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.AddCommand(runsTriggerCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)

	runsTriggerCmd.Flags().StringVarP(&runPeriod, "period", "p", "", "Period to analyze (YYYY-MM, default current month)")
	runsTriggerCmd.Flags().BoolVar(&runPreview, "preview", false, "Run the pipeline without sending email")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")
}

func runRunsTrigger(cmd *cobra.Command, args []string) error {
	reqBody := map[string]interface{}{}
	if runPeriod != "" {
		reqBody["period"] = runPeriod
	}
	if runPreview {
		reqBody["preview"] = true
	}
	jsonBody, _ := json.Marshal(reqBody)

	reqURL := fmt.Sprintf("%s/api/v1/runs", serverURL)
	resp, err := http.Post(reqURL, "application/json", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("a run is already in progress for this period")
	}
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to trigger run: %s", string(body))
	}

	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	kind := "Run"
	if run.Preview {
		kind = "Preview run"
	}
	fmt.Printf("%s %s accepted for %s.\n", kind, run.ID, run.Period)
	fmt.Printf("Check progress with: cost-sentinel runs get %s\n", run.ID)
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	reqURL := fmt.Sprintf("%s/api/v1/runs?limit=%d", serverURL, runsLimit)

	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var result struct {
		Runs  []Run `json:"runs"`
		Count int   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Runs) == 0 {
		fmt.Println("No runs yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPERIOD\tSTATE\tTRIGGER\tACCOUNTS\tANOMALIES\tTRIGGERED")
	fmt.Fprintln(w, "--\t------\t-----\t-------\t--------\t---------\t---------")
	for _, run := range result.Runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			run.ID, run.Period, run.State, run.Trigger,
			run.AccountsSucceeded, run.AccountsTotal,
			run.AnomaliesDetected, run.TriggeredAt)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d runs\n", result.Count)
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	runID := args[0]

	reqURL := fmt.Sprintf("%s/api/v1/runs/%s", serverURL, runID)
	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", runID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(run)
	}

	fmt.Printf("Run ID:       %s\n", run.ID)
	fmt.Printf("Period:       %s\n", run.Period)
	fmt.Printf("State:        %s\n", run.State)
	fmt.Printf("Trigger:      %s\n", run.Trigger)
	if run.Preview {
		fmt.Println("Preview:      yes (no email sent)")
	}
	fmt.Printf("Accounts:     %d/%d succeeded\n", run.AccountsSucceeded, run.AccountsTotal)
	fmt.Printf("Anomalies:    %d\n", run.AnomaliesDetected)
	fmt.Printf("Triggered At: %s\n", run.TriggeredAt)
	if run.CompletedAt != "" {
		fmt.Printf("Completed At: %s\n", run.CompletedAt)
	}
	if run.Error != "" {
		fmt.Printf("\nError: %s\n", run.Error)
	}

	if len(run.Failures) > 0 {
		fmt.Println("\nFailed accounts:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  ACCOUNT\tTEAM\tSTAGE\tREASON")
		for _, f := range run.Failures {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", f.AccountID, f.TeamName, f.Stage, f.Reason)
		}
		w.Flush()
	}

	return nil
}
