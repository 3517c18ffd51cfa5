package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Evaluate decides whether hostname must be blocked at now.
//
// Order encodes priority: a disabled extension or a break in effect allows
// everything; any matching deny group blocks; otherwise the active allow
// groups, if any, are unioned.
func Evaluate(cfg domain.Configuration, hostname string, now time.Time) domain.Verdict {
	if !cfg.ExtensionEnabled {
		return domain.Verdict{Detail: "extension disabled"}
	}
	if cfg.Break.InEffect(now) {
		return domain.Verdict{Detail: "break in effect"}
	}
	return EvaluateGroups(cfg.RuleGroups, hostname, MinuteOfDay(now))
}

// EvaluateGroups applies the deny-then-allow rules at a minute of day.
// Malformed groups are skipped and listed in the verdict trace.
func EvaluateGroups(groups []domain.RuleGroup, hostname string, minute int) domain.Verdict {
	var (
		skipped     []string
		activeAllow []domain.RuleGroup
	)

	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		if err := g.Validate(); err != nil {
			skipped = append(skipped, g.ID)
			continue
		}
		if !GroupActive(g, minute) {
			continue
		}

		switch g.Mode {
		case domain.ModeDeny:
			if p, ok := matchAny(hostname, g.Patterns); ok {
				return domain.Verdict{
					Block:   true,
					Reason:  domain.ReasonDenyMatch,
					GroupID: g.ID,
					Pattern: p,
					Detail:  "listed in deny group",
					Skipped: skipped,
				}
			}
		case domain.ModeAllow:
			activeAllow = append(activeAllow, g)
		}
	}

	if len(activeAllow) == 0 {
		return domain.Verdict{Detail: "no allow-list in force", Skipped: skipped}
	}

	for _, g := range activeAllow {
		if p, ok := matchAny(hostname, g.Patterns); ok {
			return domain.Verdict{
				GroupID: g.ID,
				Pattern: p,
				Detail:  "listed in allow group",
				Skipped: skipped,
			}
		}
	}

	return domain.Verdict{
		Block:   true,
		Reason:  domain.ReasonNotInAllow,
		Detail:  "not in any active allow group",
		Skipped: skipped,
	}
}
