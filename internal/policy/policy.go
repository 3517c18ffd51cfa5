// Package policy holds the pure decision logic: time windows, hostname
// patterns, rule evaluation, the block-page address and rule boundaries.
// It also carries the built-in site presets.
package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// DefaultTickInterval is how often tabs are reconciled when nothing else happens.
const DefaultTickInterval = 30 * time.Second

// Preset is a named, built-in site list that can seed a rule group.
type Preset interface {
	// ID returns unique identifier (e.g., "gaming", "social").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// Patterns returns hostname patterns, exact or "*.base".
	Patterns() []string

	// DefaultMode is the mode a group created from the preset gets.
	DefaultMode() domain.Mode
}

// ToGroup converts a Preset into an enabled rule group active during windows.
func ToGroup(p Preset, windows []domain.TimeWindow) domain.RuleGroup {
	patterns := make([]string, len(p.Patterns()))
	copy(patterns, p.Patterns())
	return domain.RuleGroup{
		Name:     p.Name(),
		Enabled:  true,
		Mode:     p.DefaultMode(),
		Patterns: patterns,
		Windows:  windows,
	}
}
