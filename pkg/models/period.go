package models

import (
	"fmt"
	"time"
)

// Period is a closed calendar month, the unit of cost comparison.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// ParsePeriod parses a "YYYY-MM" string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q (want YYYY-MM): %w", s, err)
	}
	return Period{Year: t.Year(), Month: int(t.Month())}, nil
}

// CurrentPeriod returns the period containing t.
func CurrentPeriod(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// Previous returns the calendar month before p.
func (p Period) Previous() Period {
	t := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// Start returns the first instant of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the exclusive end of the period (first instant of the next month).
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// String formats the period as "YYYY-MM".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// MarshalText implements encoding.TextMarshaler so periods can be used
// as JSON map keys and query parameters.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
