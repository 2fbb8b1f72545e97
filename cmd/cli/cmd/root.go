package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cost-sentinel",
	Short: "Cost Sentinel CLI - manage cloud cost anomaly reporting",
	Long: `Cost Sentinel monitors per-account cloud spend, flags month-over-month
anomalies, and mails per-team and executive reports.

This CLI tool allows you to:
- Register teams and their cloud accounts
- View and update the notification schedule and anomaly threshold
- Trigger and inspect pipeline runs
- Query composed reports, cost history, and anomalies`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("COST_SENTINEL_URL", "http://localhost:8080"), "Cost Sentinel server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
