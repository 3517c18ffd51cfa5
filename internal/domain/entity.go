// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the number of minute-of-day values (0..1439).
const MinutesPerDay = 24 * 60

// Mode selects how a rule group treats its site list.
type Mode string

const (
	// ModeAllow blocks every site not listed while the group is active.
	ModeAllow Mode = "ALLOW"
	// ModeDeny blocks every listed site while the group is active.
	ModeDeny Mode = "DENY"
)

// ParseMode accepts "allow"/"deny" and the legacy "whitelist"/"blacklist" names.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALLOW", "WHITELIST":
		return ModeAllow, nil
	case "DENY", "BLACKLIST":
		return ModeDeny, nil
	default:
		return "", fmt.Errorf("unsupported mode: %q", s)
	}
}

// UnmarshalJSON accepts every spelling ParseMode does.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeAllow || m == ModeDeny
}

// TimeWindow is a daily window in minutes of day. End < Start wraps past
// midnight; Start == End is never active.
type TimeWindow struct {
	Start int
	End   int
}

// Valid reports whether both bounds are minute-of-day values.
func (w TimeWindow) Valid() bool {
	return w.Start >= 0 && w.Start < MinutesPerDay && w.End >= 0 && w.End < MinutesPerDay
}

// Wraps reports whether the window crosses midnight.
func (w TimeWindow) Wraps() bool { return w.End < w.Start }

// String renders the window as "HH:MM-HH:MM".
func (w TimeWindow) String() string {
	return FormatClock(w.Start) + "-" + FormatClock(w.End)
}

type timeWindowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON encodes the window with "HH:MM" bounds, the format the
// settings export has always used.
func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeWindowJSON{Start: FormatClock(w.Start), End: FormatClock(w.End)})
}

// UnmarshalJSON decodes "HH:MM" bounds.
func (w *TimeWindow) UnmarshalJSON(data []byte) error {
	var raw timeWindowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseClock(raw.Start)
	if err != nil {
		return err
	}
	end, err := ParseClock(raw.End)
	if err != nil {
		return err
	}
	w.Start, w.End = start, end
	return nil
}

// ParseClock converts "HH:MM" into a minute of day.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders a minute of day as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// RuleGroup is one allow-list or deny-list with its own active windows.
type RuleGroup struct {
	ID       string       `json:"id,omitempty"`
	Name     string       `json:"name,omitempty"`
	Enabled  bool         `json:"enabled"`
	Mode     Mode         `json:"type"`
	Patterns []string     `json:"urls"`
	Windows  []TimeWindow `json:"times"`

	// Malformed is set by a store that could not decode the group's lists.
	Malformed string `json:"-"`
}

// Validate checks the fields the evaluator relies on.
func (g RuleGroup) Validate() error {
	if g.Malformed != "" {
		return fmt.Errorf("group %s: %s", g.ID, g.Malformed)
	}
	if !g.Mode.Valid() {
		return fmt.Errorf("group %s: unsupported mode %q", g.ID, g.Mode)
	}
	for _, w := range g.Windows {
		if !w.Valid() {
			return fmt.Errorf("group %s: window %d-%d out of range", g.ID, w.Start, w.End)
		}
	}
	return nil
}

// BreakState is a time-boxed suspension of all blocking.
type BreakState struct {
	Active         bool  `json:"active"`
	EndTimeEpochMs int64 `json:"endTimeEpochMs"`
}

// InEffect reports whether the break suspends blocking at now.
// An active break whose end time has passed counts as inactive.
func (b BreakState) InEffect(now time.Time) bool {
	return b.Active && b.EndTimeEpochMs > now.UnixMilli()
}

// EndTime returns the break end as a time.Time.
func (b BreakState) EndTime() time.Time {
	return time.UnixMilli(b.EndTimeEpochMs)
}

// Configuration is an immutable settings snapshot.
type Configuration struct {
	ExtensionEnabled bool        `json:"isExtensionEnabled"`
	RuleGroups       []RuleGroup `json:"ruleSets"`
	Break            BreakState  `json:"break"`

	// Revision increases on every persisted change. Not exported.
	Revision uint64 `json:"-"`
}

// Reason explains a BLOCK verdict.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonDenyMatch  Reason = "DENY_MATCH"
	ReasonNotInAllow Reason = "NOT_IN_ALLOW"
)

// Verdict is the outcome of evaluating one hostname at one instant.
type Verdict struct {
	Block  bool
	Reason Reason

	// Trace fields; they never influence the decision.
	GroupID string   // group that blocked (deny) or allowed (allow match)
	Pattern string   // pattern that matched
	Detail  string   // short human-readable cause
	Skipped []string // malformed groups ignored in this pass
}

// IsBlocked is a convenience accessor.
func (v Verdict) IsBlocked() bool { return v.Block }

// String renders "ALLOW" or "BLOCK(<reason>)".
func (v Verdict) String() string {
	if v.Block {
		return "BLOCK(" + string(v.Reason) + ")"
	}
	return "ALLOW"
}

// Tab is one open browser tab as reported by the host.
type Tab struct {
	ID     string
	URL    string
	Active bool
}

// ActionKind identifies a tab mutation.
type ActionKind string

const (
	ActionBlock   ActionKind = "navigate-to-block"
	ActionRestore ActionKind = "navigate-to-original"
)

// TabAction is a navigation the tab collaborator must perform.
type TabAction struct {
	TabID   string
	Kind    ActionKind
	URL     string // navigation target
	FromURL string // URL the tab showed when the action was computed
	Verdict Verdict
}

// Trigger names the event that caused a reconciliation pass.
type Trigger string

const (
	TriggerStartup            Trigger = "startup"
	TriggerTabActivated       Trigger = "tab-activated"
	TriggerNavigationComplete Trigger = "navigation-complete"
	TriggerConfigChanged      Trigger = "config-changed"
	TriggerPeriodicTick       Trigger = "periodic-tick"
	TriggerRuleBoundary       Trigger = "rule-boundary"
	TriggerBreakEnded         Trigger = "break-ended"
	TriggerManual             Trigger = "manual"
)

// EnforcementResult captures what happened during a single reconciliation pass.
type EnforcementResult struct {
	Trigger    Trigger
	Revision   uint64
	TabsSeen   int
	Applied    []TabAction
	Failed     []TabAction
	Errors     []error
	ExecutedAt time.Time
	DurationMs int64
}
