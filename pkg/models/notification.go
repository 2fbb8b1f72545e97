package models

import (
	"fmt"
	"strings"
	"time"
)

// Weekday names accepted in NotificationConfig.ScheduleDay.
var scheduleDays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NotificationConfig is the process-wide, runtime-mutable pipeline
// configuration. It is read once at the start of each run; a run never
// observes a value that mutates mid-run.
type NotificationConfig struct {
	AnomalyThresholdPercent float64  `json:"anomaly_threshold_percent"`
	ScheduleDay             string   `json:"schedule_day"`  // weekday name, e.g. "monday"
	ScheduleHourUTC         int      `json:"schedule_hour"` // 0-23
	AdminEmails             []string `json:"admin_emails,omitempty"`
	AIEnabled               bool     `json:"ai_enabled"`

	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultNotificationConfig returns the configuration used before any
// operator update.
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		AnomalyThresholdPercent: 20.0,
		ScheduleDay:             "monday",
		ScheduleHourUTC:         9,
		AIEnabled:               true,
		Version:                 1,
	}
}

// Validate checks schedule and threshold bounds.
func (c *NotificationConfig) Validate() error {
	if _, ok := scheduleDays[strings.ToLower(c.ScheduleDay)]; !ok {
		return fmt.Errorf("invalid schedule_day %q", c.ScheduleDay)
	}
	if c.ScheduleHourUTC < 0 || c.ScheduleHourUTC > 23 {
		return fmt.Errorf("schedule_hour must be 0-23, got %d", c.ScheduleHourUTC)
	}
	if c.AnomalyThresholdPercent <= 0 {
		return fmt.Errorf("anomaly_threshold_percent must be positive, got %v", c.AnomalyThresholdPercent)
	}
	return nil
}

// Weekday returns the configured schedule day as a time.Weekday.
func (c *NotificationConfig) Weekday() time.Weekday {
	if d, ok := scheduleDays[strings.ToLower(c.ScheduleDay)]; ok {
		return d
	}
	return time.Monday
}

// CronSpec renders the schedule as a standard 5-field cron expression
// in UTC, e.g. "0 9 * * 1" for Mondays at 09:00.
func (c *NotificationConfig) CronSpec() string {
	return fmt.Sprintf("0 %d * * %d", c.ScheduleHourUTC, int(c.Weekday()))
}
