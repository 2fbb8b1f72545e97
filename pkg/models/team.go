package models

import (
	"fmt"
	"regexp"
	"time"
)

// accountIDPattern matches the 12-digit cloud account identifier format.
var accountIDPattern = regexp.MustCompile(`^\d{12}$`)

// Team maps one monitored cloud account to the people who own it.
// Teams are immutable once referenced by a persisted CostSnapshot;
// snapshots carry a denormalized team name so removal never orphans
// history.
type Team struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	AccountID         string    `json:"account_id"`
	NotificationEmail string    `json:"notification_email"`
	AdminEmails       []string  `json:"admin_emails,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Validate checks required fields and the account ID format.
func (t *Team) Validate() error {
	if t.DisplayName == "" {
		return fmt.Errorf("team display_name is required")
	}
	if !ValidAccountID(t.AccountID) {
		return fmt.Errorf("invalid account_id %q: must be 12 digits", t.AccountID)
	}
	if t.NotificationEmail == "" {
		return fmt.Errorf("team notification_email is required")
	}
	return nil
}

// Recipients returns all addresses that receive this team's reports.
func (t *Team) Recipients() []string {
	out := make([]string, 0, 1+len(t.AdminEmails))
	out = append(out, t.NotificationEmail)
	out = append(out, t.AdminEmails...)
	return out
}

// ValidAccountID reports whether s is a well-formed account identifier.
func ValidAccountID(s string) bool {
	return accountIDPattern.MatchString(s)
}
