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
	teamAddEmail  string
	teamAddAdmins []string
)

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Manage monitored teams",
	Long:  `Register, list, and remove teams and their cloud accounts.`,
}

var teamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered teams",
	RunE:  runTeamsList,
}

var teamsAddCmd = &cobra.Command{
	Use:   "add [name] [account-id]",
	Short: "Register a team for a 12-digit cloud account",
	Args:  cobra.ExactArgs(2),
	RunE:  runTeamsAdd,
}

var teamsRemoveCmd = &cobra.Command{
	Use:   "remove [team-id]",
	Short: "Remove a team",
	Args:  cobra.ExactArgs(1),
	RunE:  runTeamsRemove,
}

func init() {
	rootCmd.AddCommand(teamsCmd)

	teamsCmd.AddCommand(teamsListCmd)
	teamsCmd.AddCommand(teamsAddCmd)
	teamsCmd.AddCommand(teamsRemoveCmd)

	teamsAddCmd.Flags().StringVarP(&teamAddEmail, "email", "e", "", "Notification email (required)")
	teamsAddCmd.Flags().StringSliceVar(&teamAddAdmins, "admin", nil, "Additional admin email (repeatable)")
	teamsAddCmd.MarkFlagRequired("email")
}

func runTeamsList(cmd *cobra.Command, args []string) error {
	reqURL := fmt.Sprintf("%s/api/v1/teams", serverURL)

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
		Teams []Team `json:"teams"`
		Count int    `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if len(result.Teams) == 0 {
		fmt.Println("No teams registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACCOUNT\tEMAIL")
	fmt.Fprintln(w, "--\t----\t-------\t-----")
	for _, team := range result.Teams {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			team.ID, team.DisplayName, team.AccountID, team.NotificationEmail)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d teams\n", result.Count)
	return nil
}

func runTeamsAdd(cmd *cobra.Command, args []string) error {
	reqBody := map[string]interface{}{
		"display_name":       args[0],
		"account_id":         args[1],
		"notification_email": teamAddEmail,
	}
	if len(teamAddAdmins) > 0 {
		reqBody["admin_emails"] = teamAddAdmins
	}
	jsonBody, _ := json.Marshal(reqBody)

	reqURL := fmt.Sprintf("%s/api/v1/teams", serverURL)
	resp, err := http.Post(reqURL, "application/json", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("account %s is already registered to a team", args[1])
	}
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add team: %s", string(body))
	}

	var team Team
	if err := json.NewDecoder(resp.Body).Decode(&team); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Team %s registered for account %s (id: %s).\n",
		team.DisplayName, team.AccountID, team.ID)
	return nil
}

func runTeamsRemove(cmd *cobra.Command, args []string) error {
	teamID := args[0]

	reqURL := fmt.Sprintf("%s/api/v1/teams/%s", serverURL, teamID)
	req, _ := http.NewRequest("DELETE", reqURL, nil)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("team not found: %s", teamID)
	}
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to remove team: %s", string(body))
	}

	fmt.Printf("Team %s removed. Cost history for its account is retained.\n", teamID)
	return nil
}
