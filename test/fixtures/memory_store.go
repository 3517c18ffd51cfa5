package fixtures

import (
	"fmt"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// MemoryStore implements domain.ConfigStore in memory with the same
// revision and ID semantics as the encrypted store.
type MemoryStore struct {
	mu      sync.Mutex
	cfg     domain.Configuration
	nextID  int
	LoadErr error
}

// NewMemoryStore creates an enabled, empty configuration.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cfg: domain.Configuration{ExtensionEnabled: true}}
}

func (s *MemoryStore) Load() (domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return domain.Configuration{}, s.LoadErr
	}
	cfg := s.cfg
	cfg.RuleGroups = make([]domain.RuleGroup, len(s.cfg.RuleGroups))
	for i, g := range s.cfg.RuleGroups {
		g.Patterns = append([]string(nil), g.Patterns...)
		g.Windows = append([]domain.TimeWindow(nil), g.Windows...)
		cfg.RuleGroups[i] = g
	}
	return cfg, nil
}

func (s *MemoryStore) Revision() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Revision, s.LoadErr
}

func (s *MemoryStore) SetEnabled(enabled bool) error {
	return s.update(func(cfg *domain.Configuration) error {
		cfg.ExtensionEnabled = enabled
		return nil
	})
}

func (s *MemoryStore) SetBreak(state domain.BreakState) error {
	return s.update(func(cfg *domain.Configuration) error {
		cfg.Break = state
		return nil
	})
}

func (s *MemoryStore) StartBreak(state domain.BreakState, now time.Time) (domain.BreakState, error) {
	var current domain.BreakState
	err := s.update(func(cfg *domain.Configuration) error {
		if cfg.Break.InEffect(now) {
			current = cfg.Break
			return domain.ErrBreakActive
		}
		cfg.Break = state
		return nil
	})
	return current, err
}

func (s *MemoryStore) AddGroup(group domain.RuleGroup) (domain.RuleGroup, error) {
	err := s.update(func(cfg *domain.Configuration) error {
		group.ID = s.allocateID()
		cfg.RuleGroups = append(cfg.RuleGroups, group)
		return nil
	})
	if err != nil {
		return domain.RuleGroup{}, err
	}
	return group, nil
}

func (s *MemoryStore) UpdateGroup(group domain.RuleGroup) error {
	return s.update(func(cfg *domain.Configuration) error {
		for i := range cfg.RuleGroups {
			if cfg.RuleGroups[i].ID == group.ID {
				cfg.RuleGroups[i] = group
				return nil
			}
		}
		return fmt.Errorf("%w: %s", domain.ErrGroupNotFound, group.ID)
	})
}

func (s *MemoryStore) RemoveGroup(id string) error {
	return s.update(func(cfg *domain.Configuration) error {
		for i := range cfg.RuleGroups {
			if cfg.RuleGroups[i].ID == id {
				cfg.RuleGroups = append(cfg.RuleGroups[:i], cfg.RuleGroups[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", domain.ErrGroupNotFound, id)
	})
}

func (s *MemoryStore) ReplaceGroups(groups []domain.RuleGroup) error {
	return s.update(func(cfg *domain.Configuration) error {
		cfg.RuleGroups = nil
		seen := make(map[string]bool)
		for _, g := range groups {
			if g.ID == "" || seen[g.ID] {
				g.ID = s.allocateID()
			}
			seen[g.ID] = true
			cfg.RuleGroups = append(cfg.RuleGroups, g)
		}
		return nil
	})
}

func (s *MemoryStore) Close() error { return nil }

// update applies fn and bumps the revision only if fn succeeds.
func (s *MemoryStore) update(fn func(cfg *domain.Configuration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	next.RuleGroups = append([]domain.RuleGroup(nil), s.cfg.RuleGroups...)
	if err := fn(&next); err != nil {
		return err
	}
	next.Revision++
	s.cfg = next
	return nil
}

func (s *MemoryStore) allocateID() string {
	s.nextID++
	return fmt.Sprintf("g%d", s.nextID)
}

// Ensure MemoryStore implements domain.ConfigStore.
var _ domain.ConfigStore = (*MemoryStore)(nil)
