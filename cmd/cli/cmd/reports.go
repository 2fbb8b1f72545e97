package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reportPeriod string

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "View composed cost reports",
	Long:  `View the per-team and executive reports composed from stored run data.`,
}

var reportsTeamCmd = &cobra.Command{
	Use:   "team [account-id]",
	Short: "View one team's report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsTeam,
}

var reportsAdminCmd = &cobra.Command{
	Use:   "admin",
	Short: "View the executive summary report",
	RunE:  runReportsAdmin,
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.AddCommand(reportsTeamCmd)
	reportsCmd.AddCommand(reportsAdminCmd)

	reportsCmd.PersistentFlags().StringVarP(&reportPeriod, "period", "p", "", "Period (YYYY-MM, default current month)")
}

// teamReport mirrors the server's team report response.
type teamReport struct {
	Team          Team          `json:"team"`
	Period        string        `json:"period"`
	Current       *CostSnapshot `json:"current"`
	Previous      *CostSnapshot `json:"previous"`
	Anomaly       *Anomaly      `json:"anomaly"`
	AIUnavailable bool          `json:"ai_unavailable,omitempty"`
	Insight       *struct {
		Narrative       string   `json:"narrative"`
		Recommendations []string `json:"recommendations,omitempty"`
	} `json:"insight,omitempty"`
}

// adminReport mirrors the server's admin report response.
type adminReport struct {
	Period           string    `json:"period"`
	AccountCount     int       `json:"account_count"`
	TotalCurrent     float64   `json:"total_current"`
	TotalPrevious    float64   `json:"total_previous"`
	PercentChange    *float64  `json:"percent_change"`
	Anomalies        []Anomaly `json:"anomalies,omitempty"`
	ExecutiveSummary string    `json:"executive_summary,omitempty"`
	TopSpenders      []struct {
		TeamName      string   `json:"team_name"`
		AccountID     string   `json:"account_id"`
		CurrentCost   float64  `json:"current_cost"`
		PercentChange *float64 `json:"percent_change"`
	} `json:"top_spenders,omitempty"`
	Failures []RunFailure `json:"failures,omitempty"`
}

func pctString(p *float64) string {
	if p == nil {
		return "new"
	}
	return fmt.Sprintf("%+.1f%%", *p)
}

func runReportsTeam(cmd *cobra.Command, args []string) error {
	reqURL := fmt.Sprintf("%s/api/v1/reports/team/%s", serverURL, url.PathEscape(args[0]))
	if reportPeriod != "" {
		reqURL += "?period=" + url.QueryEscape(reportPeriod)
	}

	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("no report available: %s", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var report teamReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("Cost report for %s (%s)\n", report.Team.DisplayName, report.Period)
	fmt.Println()
	fmt.Printf("Account:       %s\n", report.Team.AccountID)
	fmt.Printf("Current cost:  $%.2f\n", report.Current.TotalCost)
	if report.Previous != nil {
		fmt.Printf("Previous cost: $%.2f\n", report.Previous.TotalCost)
	}
	if report.Anomaly != nil {
		fmt.Printf("Change:        %s\n", pctString(report.Anomaly.PercentChange))
		if report.Anomaly.IsAnomaly {
			fmt.Println("\nANOMALY: this account's spend increase exceeded the threshold.")
		}
	}
	if report.Current.Synthetic {
		fmt.Println("\nNote: figures are synthetic demo data, not billing data.")
	}
	if report.Insight != nil {
		fmt.Printf("\n%s\n", report.Insight.Narrative)
		for _, rec := range report.Insight.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	} else if report.AIUnavailable {
		fmt.Println("\nAI analysis was unavailable for this report.")
	}

	return nil
}

func runReportsAdmin(cmd *cobra.Command, args []string) error {
	reqURL := fmt.Sprintf("%s/api/v1/reports/admin", serverURL)
	if reportPeriod != "" {
		reqURL += "?period=" + url.QueryEscape(reportPeriod)
	}

	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var report adminReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Printf("Executive cost summary (%s)\n", report.Period)
	fmt.Println()
	fmt.Printf("Accounts:  %d\n", report.AccountCount)
	fmt.Printf("Current:   $%.2f\n", report.TotalCurrent)
	fmt.Printf("Previous:  $%.2f\n", report.TotalPrevious)
	if report.PercentChange != nil {
		fmt.Printf("Change:    %+.1f%%\n", *report.PercentChange)
	}

	if report.ExecutiveSummary != "" {
		fmt.Printf("\n%s\n", report.ExecutiveSummary)
	}

	if len(report.Anomalies) > 0 {
		fmt.Println("\nAnomalies:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  TEAM\tACCOUNT\tCURRENT\tCHANGE")
		for _, a := range report.Anomalies {
			fmt.Fprintf(w, "  %s\t%s\t$%.2f\t%s\n",
				a.TeamName, a.AccountID, a.CurrentCost, pctString(a.PercentChange))
		}
		w.Flush()
	}

	if len(report.TopSpenders) > 0 {
		fmt.Println("\nTop spenders:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  TEAM\tACCOUNT\tCURRENT\tCHANGE")
		for _, s := range report.TopSpenders {
			fmt.Fprintf(w, "  %s\t%s\t$%.2f\t%s\n",
				s.TeamName, s.AccountID, s.CurrentCost, pctString(s.PercentChange))
		}
		w.Flush()
	}

	if len(report.Failures) > 0 {
		fmt.Println("\nFailed accounts (excluded from totals):")
		for _, f := range report.Failures {
			fmt.Printf("  %s (%s): %s at %s stage\n", f.TeamName, f.AccountID, f.Reason, f.Stage)
		}
	}

	return nil
}
