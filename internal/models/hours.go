package models

import (
	"fmt"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// WorkingHours is a same-day window in minutes since midnight.
type WorkingHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether minute falls inside the window, both ends inclusive.
func (w WorkingHours) Contains(minute int) bool {
	return w.Start <= minute && minute <= w.End
}

func (w WorkingHours) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

type HoursParseError struct {
	Input  string
	Reason string
}

func (e *HoursParseError) Error() string {
	return fmt.Sprintf("parse working hours %q: %s", e.Input, e.Reason)
}

var clockLayouts = []string{"15:04", "3:04 PM", "3:04PM", "3 PM", "3PM"}

// ParseWorkingHours parses "HH:MM-HH:MM" (an en dash is accepted as separator too).
// Overnight windows are rejected.
func ParseWorkingHours(raw string) (WorkingHours, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "–", "-")
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return WorkingHours{}, &HoursParseError{Input: raw, Reason: "expected a single '-' separator"}
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return WorkingHours{}, &HoursParseError{Input: raw, Reason: err.Error()}
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return WorkingHours{}, &HoursParseError{Input: raw, Reason: err.Error()}
	}
	if start > end {
		return WorkingHours{}, &HoursParseError{Input: raw, Reason: "start after end"}
	}
	return WorkingHours{Start: start, End: end}, nil
}

func parseClock(value string) (int, error) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if v == "" {
		return 0, fmt.Errorf("empty time")
	}
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	if v == "24:00" {
		return minutesPerDay - 1, nil
	}
	return 0, fmt.Errorf("invalid time %q", value)
}

// MinuteOfDay returns hour*60+minute of t in loc.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Hour()*60 + t.Minute()
}

// DecodeHours parses raw and returns nil on failure, for use at the store edge.
func DecodeHours(raw string) *WorkingHours {
	w, err := ParseWorkingHours(raw)
	if err != nil {
		return nil
	}
	return &w
}
