package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGroupNotFound is returned when a rule group ID does not exist.
	ErrGroupNotFound = errors.New("rule group not found")

	// ErrBreakActive rejects a second break while one is in effect.
	ErrBreakActive = errors.New("a break is already active")
)

// ConfigStore owns the authoritative configuration.
// Implementation: SQLCipher encrypted database.
type ConfigStore interface {
	// Load returns a consistent snapshot of the whole configuration.
	Load() (Configuration, error)

	// Revision returns the current revision without loading the snapshot.
	Revision() (uint64, error)

	// SetEnabled flips the global enable flag.
	SetEnabled(enabled bool) error

	// SetBreak persists the break state.
	SetBreak(state BreakState) error

	// StartBreak stores state only if no break is in effect at now, checking
	// and writing as one step. Otherwise it returns the current break and
	// ErrBreakActive.
	StartBreak(state BreakState, now time.Time) (BreakState, error)

	// AddGroup appends a group and returns it with its assigned ID.
	AddGroup(group RuleGroup) (RuleGroup, error)

	// UpdateGroup replaces the group with the same ID.
	UpdateGroup(group RuleGroup) error

	// RemoveGroup deletes a group by ID.
	RemoveGroup(id string) error

	// ReplaceGroups atomically replaces every group (used by import).
	ReplaceGroups(groups []RuleGroup) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// TabManager is the browser collaborator.
type TabManager interface {
	// List returns a snapshot of the open tabs.
	List(ctx context.Context) ([]Tab, error)

	// Navigate points a tab at url.
	Navigate(ctx context.Context, tabID, url string) error
}

// ProcessManager handles OS process lookups.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)
}

// DecisionCache memoizes verdicts for a (revision, minute, host) key.
type DecisionCache interface {
	Get(key string) (Verdict, bool)
	Put(key string, v Verdict)
	Purge()
	Len() int
	Stats() (hits, misses, evictions uint64)
}

// Enforcer runs one reconciliation pass.
type Enforcer interface {
	Enforce(ctx context.Context, trigger Trigger) (*EnforcementResult, error)
}

// EventSource reports browser events that should trigger reconciliation.
type EventSource interface {
	// Run blocks until ctx is canceled, calling notify for each event.
	Run(ctx context.Context, notify func(Trigger)) error
}

// KeySource supplies the settings database key, creating one on first use.
type KeySource interface {
	Ensure() ([]byte, error)
}
