package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	costsAccountID string
	costsPeriod    string
	costsLimit     int
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Query stored cost history",
	Long:  `Query the cost snapshots persisted by past runs.`,
	RunE:  runCosts,
}

var anomaliesCmd = &cobra.Command{
	Use:   "anomalies",
	Short: "List anomalies detected for a period",
	RunE:  runAnomalies,
}

func init() {
	rootCmd.AddCommand(costsCmd)
	rootCmd.AddCommand(anomaliesCmd)

	costsCmd.Flags().StringVarP(&costsAccountID, "account", "a", "", "Filter by 12-digit account ID")
	costsCmd.Flags().StringVarP(&costsPeriod, "period", "p", "", "Filter by period (YYYY-MM)")
	costsCmd.Flags().IntVarP(&costsLimit, "limit", "n", 24, "Maximum snapshots to list")

	anomaliesCmd.Flags().StringVarP(&costsPeriod, "period", "p", "", "Period (YYYY-MM, default current month)")
}

func runCosts(cmd *cobra.Command, args []string) error {
	params := url.Values{}
	if costsAccountID != "" {
		params.Set("account_id", costsAccountID)
	}
	if costsPeriod != "" {
		params.Set("period", costsPeriod)
	}
	params.Set("limit", strconv.Itoa(costsLimit))

	reqURL := fmt.Sprintf("%s/api/v1/costs?%s", serverURL, params.Encode())

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
		Snapshots []CostSnapshot `json:"snapshots"`
		Count     int            `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Snapshots) == 0 {
		fmt.Println("No cost history found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tACCOUNT\tTEAM\tTOTAL\tSOURCE")
	fmt.Fprintln(w, "------\t-------\t----\t-----\t------")
	for _, s := range result.Snapshots {
		source := s.Source
		if s.Synthetic {
			source += " (synthetic)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t%s\n",
			s.Period, s.AccountID, s.TeamName, s.TotalCost, source)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d snapshots\n", result.Count)
	return nil
}

func runAnomalies(cmd *cobra.Command, args []string) error {
	reqURL := fmt.Sprintf("%s/api/v1/anomalies", serverURL)
	if costsPeriod != "" {
		reqURL += "?period=" + url.QueryEscape(costsPeriod)
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

	var result struct {
		Period    string    `json:"period"`
		Anomalies []Anomaly `json:"anomalies"`
		Count     int       `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Anomalies) == 0 {
		fmt.Printf("No comparison records for %s.\n", result.Period)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tTEAM\tCURRENT\tPREVIOUS\tCHANGE\tANOMALY")
	fmt.Fprintln(w, "-------\t----\t-------\t--------\t------\t-------")
	for _, a := range result.Anomalies {
		flag := ""
		if a.IsAnomaly {
			flag = "YES"
		}
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.2f\t%s\t%s\n",
			a.AccountID, a.TeamName, a.CurrentCost, a.PreviousCost,
			pctString(a.PercentChange), flag)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d accounts compared\n", result.Count)
	return nil
}
