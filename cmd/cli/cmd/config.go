package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and update the notification configuration",
	Long: `View and update the server's runtime configuration: anomaly
threshold, weekly schedule, admin recipients, and AI analysis.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Update a configuration value",
	Long: `Update one configuration value. Supported keys:
  threshold  - anomaly threshold percent (e.g. 20)
  day        - schedule weekday (e.g. monday)
  hour       - schedule hour UTC (0-23)
  admins     - comma-separated admin emails
  ai         - enable AI narratives (true/false)

The remaining values are preserved. Changes take effect on the next
scheduled run; in-flight runs keep the configuration they started with.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func fetchConfig() (*NotificationConfig, error) {
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/config", serverURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server error: %s", string(body))
	}

	var cfg NotificationConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &cfg, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := fetchConfig()
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	}

	fmt.Println("Cost Sentinel Configuration")
	fmt.Println("===========================")
	fmt.Println()
	fmt.Printf("Anomaly Threshold:  %.1f%%\n", cfg.AnomalyThresholdPercent)
	fmt.Printf("Schedule:           %s at %02d:00 UTC\n", cfg.ScheduleDay, cfg.ScheduleHourUTC)
	fmt.Printf("AI Narratives:      %t\n", cfg.AIEnabled)
	if len(cfg.AdminEmails) > 0 {
		fmt.Printf("Admin Emails:       %s\n", strings.Join(cfg.AdminEmails, ", "))
	} else {
		fmt.Println("Admin Emails:       (none, admin summary not sent)")
	}
	fmt.Printf("Version:            %d\n", cfg.Version)
	if cfg.UpdatedAt != "" {
		fmt.Printf("Updated At:         %s\n", cfg.UpdatedAt)
	}

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	// Read-modify-write so a single key change preserves the rest.
	cfg, err := fetchConfig()
	if err != nil {
		return err
	}

	switch key {
	case "threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid threshold %q: %w", value, err)
		}
		cfg.AnomalyThresholdPercent = v
	case "day":
		cfg.ScheduleDay = strings.ToLower(value)
	case "hour":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid hour %q: %w", value, err)
		}
		cfg.ScheduleHourUTC = v
	case "admins":
		cfg.AdminEmails = nil
		for _, e := range strings.Split(value, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.AdminEmails = append(cfg.AdminEmails, e)
			}
		}
	case "ai":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid ai value %q: %w", value, err)
		}
		cfg.AIEnabled = v
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	reqBody := map[string]interface{}{
		"anomaly_threshold_percent": cfg.AnomalyThresholdPercent,
		"schedule_day":              cfg.ScheduleDay,
		"schedule_hour":             cfg.ScheduleHourUTC,
		"admin_emails":              cfg.AdminEmails,
		"ai_enabled":                cfg.AIEnabled,
	}
	jsonBody, _ := json.Marshal(reqBody)

	req, _ := http.NewRequest("PUT", fmt.Sprintf("%s/api/v1/config", serverURL), bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to update config: %s", string(body))
	}

	var updated NotificationConfig
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Configuration updated (version %d).\n", updated.Version)
	return nil
}
