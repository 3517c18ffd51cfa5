package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// ErrInvalidWindow is wrapped by ParseWindow failures.
var ErrInvalidWindow = errors.New("invalid time window")

// WithinWindow reports whether minute falls inside w.
// Start is inclusive and end exclusive in both the normal and the
// wrapping case, so a window never fires twice at its end minute.
func WithinWindow(minute int, w domain.TimeWindow) bool {
	if w.Start <= w.End {
		return minute >= w.Start && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

// MinuteOfDay returns t's minute of day in t's own location.
// Callers pass local time; clock.RealClock does.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// GroupActive reports whether any window of g contains minute.
// A group without windows is never active.
func GroupActive(g domain.RuleGroup, minute int) bool {
	for _, w := range g.Windows {
		if WithinWindow(minute, w) {
			return true
		}
	}
	return false
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (domain.TimeWindow, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return domain.TimeWindow{}, fmt.Errorf("%w: %q: want HH:MM-HH:MM", ErrInvalidWindow, s)
	}
	start, err := domain.ParseClock(startStr)
	if err != nil {
		return domain.TimeWindow{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	end, err := domain.ParseClock(endStr)
	if err != nil {
		return domain.TimeWindow{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}
	return domain.TimeWindow{Start: start, End: end}, nil
}

// ParseWindows parses each entry with ParseWindow.
func ParseWindows(specs []string) ([]domain.TimeWindow, error) {
	windows := make([]domain.TimeWindow, 0, len(specs))
	for _, s := range specs {
		w, err := ParseWindow(s)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}
