// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

// DefaultApplyConcurrency bounds parallel tab navigations within one pass.
const DefaultApplyConcurrency = 4

// EnforcerImpl implements domain.Enforcer.
type EnforcerImpl struct {
	store       domain.ConfigStore
	tabs        domain.TabManager
	page        policy.BlockPage
	clock       clock.Clock
	cache       domain.DecisionCache
	concurrency int
	logger      *zap.Logger

	// mu serializes passes; lastRevision is guarded by it.
	mu           sync.Mutex
	lastRevision uint64
}

// NewEnforcer creates a new tab enforcer without a decision cache.
func NewEnforcer(
	store domain.ConfigStore,
	tabs domain.TabManager,
	page policy.BlockPage,
	clk clock.Clock,
	logger *zap.Logger,
) domain.Enforcer {
	return NewEnforcerWithCache(store, tabs, page, clk, nil, DefaultApplyConcurrency, logger)
}

// NewEnforcerWithCache creates an enforcer that memoizes verdicts.
func NewEnforcerWithCache(
	store domain.ConfigStore,
	tabs domain.TabManager,
	page policy.BlockPage,
	clk clock.Clock,
	cache domain.DecisionCache,
	concurrency int,
	logger *zap.Logger,
) domain.Enforcer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &EnforcerImpl{
		store:       store,
		tabs:        tabs,
		page:        page,
		clock:       clk,
		cache:       cache,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enforce runs one reconciliation pass from a fresh snapshot.
// Configuration, tab list and the current instant are each read once.
func (e *EnforcerImpl) Enforce(ctx context.Context, trigger domain.Trigger) (*domain.EnforcementResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock.Now()

	cfg, err := e.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	tabs, err := e.tabs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}

	result := &domain.EnforcementResult{
		Trigger:    trigger,
		Revision:   cfg.Revision,
		TabsSeen:   len(tabs),
		Applied:    make([]domain.TabAction, 0),
		Failed:     make([]domain.TabAction, 0),
		Errors:     make([]error, 0),
		ExecutedAt: now,
	}

	for _, g := range cfg.RuleGroups {
		if !g.Enabled {
			continue
		}
		if err := g.Validate(); err != nil {
			e.logger.Warn("skipping malformed rule group",
				zap.String("group", g.ID),
				zap.Error(err))
		}
	}

	actions := ReconcileWith(cfg, tabs, now, e.page, e.evaluator(cfg))
	e.apply(ctx, actions, result)

	result.DurationMs = time.Since(start).Milliseconds()
	if e.cache != nil {
		hits, misses, evictions := e.cache.Stats()
		e.logger.Debug("decision cache",
			zap.Int("entries", e.cache.Len()),
			zap.Uint64("hits", hits),
			zap.Uint64("misses", misses),
			zap.Uint64("evictions", evictions))
	}
	return result, nil
}

// evaluator returns policy.Evaluate, memoized when a cache is configured.
// The cache is dropped whenever the configuration revision moves.
func (e *EnforcerImpl) evaluator(cfg domain.Configuration) EvaluateFunc {
	if e.cache == nil {
		return policy.Evaluate
	}
	if cfg.Revision != e.lastRevision {
		e.cache.Purge()
		e.lastRevision = cfg.Revision
	}
	return func(cfg domain.Configuration, hostname string, now time.Time) domain.Verdict {
		key := DecisionKey(cfg, hostname, now)
		if v, ok := e.cache.Get(key); ok {
			return v
		}
		v := policy.Evaluate(cfg, hostname, now)
		e.cache.Put(key, v)
		return v
	}
}

// DecisionKey identifies every input a verdict depends on.
func DecisionKey(cfg domain.Configuration, hostname string, now time.Time) string {
	return fmt.Sprintf("%d|%d|%t|%s", cfg.Revision, policy.MinuteOfDay(now), cfg.Break.InEffect(now), hostname)
}

// apply performs the navigations. A failing tab (closed mid-pass, say) is
// recorded and logged; it never stops the others.
func (e *EnforcerImpl) apply(ctx context.Context, actions []domain.TabAction, result *domain.EnforcementResult) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(e.concurrency)

	for _, action := range actions {
		action := action
		g.Go(func() error {
			err := e.tabs.Navigate(ctx, action.TabID, action.URL)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				e.logger.Warn("failed to navigate tab",
					zap.String("tab", action.TabID),
					zap.String("action", string(action.Kind)),
					zap.Error(err))
				result.Failed = append(result.Failed, action)
				result.Errors = append(result.Errors, fmt.Errorf("tab %s: %w", action.TabID, err))
				return nil
			}

			e.logger.Info("tab updated",
				zap.String("tab", action.TabID),
				zap.String("action", string(action.Kind)),
				zap.String("from", action.FromURL),
				zap.String("verdict", action.Verdict.String()),
				zap.String("group", action.Verdict.GroupID),
				zap.String("pattern", action.Verdict.Pattern))
			result.Applied = append(result.Applied, action)
			return nil
		})
	}

	_ = g.Wait()
}

// Ensure EnforcerImpl implements domain.Enforcer.
var _ domain.Enforcer = (*EnforcerImpl)(nil)
