package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// NextBoundary returns the earliest instant strictly after now at which a
// verdict may change: a window of an enabled group starting or ending, or
// the break ending. While a break is in effect only its end counts, since
// nothing blocks before it. Reports false when no boundary exists.
func NextBoundary(cfg domain.Configuration, now time.Time) (time.Time, bool) {
	if !cfg.ExtensionEnabled {
		return time.Time{}, false
	}
	if cfg.Break.InEffect(now) {
		return cfg.Break.EndTime().In(now.Location()), true
	}

	var (
		next  time.Time
		found bool
	)
	consider := func(minute int) {
		t := nextOccurrence(now, minute)
		if !found || t.Before(next) {
			next, found = t, true
		}
	}

	for _, g := range cfg.RuleGroups {
		if !g.Enabled || g.Validate() != nil {
			continue
		}
		for _, w := range g.Windows {
			if w.Start == w.End {
				continue
			}
			consider(w.Start)
			consider(w.End)
		}
	}
	return next, found
}

// nextOccurrence returns the first wall-clock instant after now whose
// minute of day is minute.
func nextOccurrence(now time.Time, minute int) time.Time {
	y, m, d := now.Date()
	t := time.Date(y, m, d, minute/60, minute%60, 0, 0, now.Location())
	if !t.After(now) {
		t = time.Date(y, m, d+1, minute/60, minute%60, 0, 0, now.Location())
	}
	return t
}
