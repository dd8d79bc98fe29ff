package campaigns

import (
	"fmt"
	"strings"
	"time"
)

// Window is a daily dialing interval in the schedule's timezone, "HH:MM".
// End is exclusive. An End before Start wraps past midnight.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Schedule bounds when a campaign dials. A zero schedule is always open.
type Schedule struct {
	Timezone  string              `json:"timezone,omitempty"`
	StartDate *time.Time          `json:"start_date,omitempty"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
	Windows   map[string][]Window `json:"windows,omitempty"` // keyed by lowercase weekday name
}

func (s Schedule) location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Ended reports whether t is past the end date.
func (s Schedule) Ended(t time.Time) bool {
	return s.EndDate != nil && !t.Before(*s.EndDate)
}

// Started reports whether t is at or after the start date.
func (s Schedule) Started(t time.Time) bool {
	return s.StartDate == nil || !t.Before(*s.StartDate)
}

// Open reports whether t falls inside the date range and a weekday window.
func (s Schedule) Open(t time.Time) bool {
	if !s.Started(t) || s.Ended(t) {
		return false
	}
	if len(s.Windows) == 0 {
		return true
	}

	local := t.In(s.location())
	minute := local.Hour()*60 + local.Minute()
	today := strings.ToLower(local.Weekday().String())
	yesterday := strings.ToLower(local.AddDate(0, 0, -1).Weekday().String())

	for _, w := range s.Windows[today] {
		start, end, err := w.bounds()
		if err != nil {
			continue
		}
		if start <= end && minute >= start && minute < end {
			return true
		}
		if start > end && minute >= start {
			return true
		}
	}
	// Overnight windows opened yesterday.
	for _, w := range s.Windows[yesterday] {
		start, end, err := w.bounds()
		if err != nil {
			continue
		}
		if start > end && minute < end {
			return true
		}
	}
	return false
}

func (w Window) bounds() (int, int, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(w.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("campaigns: invalid clock %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate checks timezone and window syntax.
func (s Schedule) Validate() error {
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("campaigns: invalid timezone %q", s.Timezone)
		}
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return fmt.Errorf("campaigns: end date before start date")
	}
	for day, ws := range s.Windows {
		for _, w := range ws {
			if _, _, err := w.bounds(); err != nil {
				return fmt.Errorf("campaigns: %s: %w", day, err)
			}
		}
	}
	return nil
}
