// Package daemon implements the watcher loop that decides when tabs are
// reconciled.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

// pendingTriggers bounds queued external triggers. Anything beyond it is
// dropped, since a queued pass will already see the latest tabs.
const pendingTriggers = 8

// BrowserProbe reports whether a browser is running at all.
type BrowserProbe interface {
	Running() bool
}

// BreakChecker reads the break state, clearing it when it has expired.
type BreakChecker interface {
	State() (domain.BreakState, error)
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	TickInterval       time.Duration // Safety-net pass interval
	ConfigPollInterval time.Duration // How often the store revision is compared
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		TickInterval:       policy.DefaultTickInterval,
		ConfigPollInterval: 2 * time.Second,
	}
}

// Watcher is the enforcement event loop. Every trigger runs one full
// reconciliation pass before the next trigger is taken.
type Watcher struct {
	config   WatcherConfig
	enforcer domain.Enforcer
	store    domain.ConfigStore
	breaker  BreakChecker
	probe    BrowserProbe
	clock    clock.Clock
	logger   *zap.Logger

	triggers     chan domain.Trigger
	lastRevision uint64
}

// NewWatcher creates a watcher. breaker and probe may be nil.
func NewWatcher(
	config WatcherConfig,
	enforcer domain.Enforcer,
	store domain.ConfigStore,
	breaker BreakChecker,
	probe BrowserProbe,
	clk clock.Clock,
	logger *zap.Logger,
) *Watcher {
	return &Watcher{
		config:   config,
		enforcer: enforcer,
		store:    store,
		breaker:  breaker,
		probe:    probe,
		clock:    clk,
		logger:   logger,
		triggers: make(chan domain.Trigger, pendingTriggers),
	}
}

// Notify queues a pass. It never blocks: when the queue is full the trigger
// is coalesced into the passes already waiting.
func (w *Watcher) Notify(trigger domain.Trigger) {
	select {
	case w.triggers <- trigger:
	default:
		w.logger.Debug("trigger coalesced", zap.String("trigger", string(trigger)))
	}
}

// Run starts the watcher loop.
// This blocks until context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher started",
		zap.Duration("tick_interval", w.config.TickInterval),
		zap.Duration("config_poll_interval", w.config.ConfigPollInterval))

	if rev, err := w.store.Revision(); err == nil {
		w.lastRevision = rev
	} else {
		w.logger.Warn("failed to read configuration revision", zap.Error(err))
	}

	// Run enforcement immediately on startup
	w.expireBreak()
	w.runEnforcement(ctx, domain.TriggerStartup)

	tickTicker := time.NewTicker(w.config.TickInterval)
	pollTicker := time.NewTicker(w.config.ConfigPollInterval)
	boundary := w.armBoundary(nil)

	defer func() {
		tickTicker.Stop()
		pollTicker.Stop()
		if boundary != nil {
			boundary.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return ctx.Err()

		case <-tickTicker.C:
			w.expireBreak()
			w.runEnforcement(ctx, domain.TriggerPeriodicTick)

		case <-pollTicker.C:
			if w.configChanged() {
				w.runEnforcement(ctx, domain.TriggerConfigChanged)
				boundary = w.armBoundary(boundary)
			}

		case <-timerC(boundary):
			w.expireBreak()
			w.runEnforcement(ctx, domain.TriggerRuleBoundary)
			boundary = w.armBoundary(nil)

		case trigger := <-w.triggers:
			w.runEnforcement(ctx, trigger)
		}
	}
}

// runEnforcement executes one reconciliation pass.
func (w *Watcher) runEnforcement(ctx context.Context, trigger domain.Trigger) {
	if w.probe != nil && !w.probe.Running() {
		w.logger.Debug("no browser running, skipping pass", zap.String("trigger", string(trigger)))
		return
	}

	w.logger.Debug("running enforcement", zap.String("trigger", string(trigger)))

	result, err := w.enforcer.Enforce(ctx, trigger)
	if err != nil {
		w.logger.Error("enforcement failed", zap.String("trigger", string(trigger)), zap.Error(err))
		return
	}

	if len(result.Applied) > 0 || len(result.Failed) > 0 {
		w.logger.Info("enforcement completed",
			zap.String("trigger", string(trigger)),
			zap.Uint64("revision", result.Revision),
			zap.Int("tabs_seen", result.TabsSeen),
			zap.Int("tabs_updated", len(result.Applied)),
			zap.Int("tabs_failed", len(result.Failed)),
			zap.Int64("duration_ms", result.DurationMs))
	}
}

// configChanged compares the store revision with the last one seen.
func (w *Watcher) configChanged() bool {
	rev, err := w.store.Revision()
	if err != nil {
		w.logger.Warn("failed to read configuration revision", zap.Error(err))
		return false
	}
	if rev == w.lastRevision {
		return false
	}
	w.logger.Debug("configuration changed",
		zap.Uint64("from", w.lastRevision),
		zap.Uint64("to", rev))
	w.lastRevision = rev
	return true
}

// expireBreak lets the breaker clear a break that ran out. The breaker
// notifies break-ended itself.
func (w *Watcher) expireBreak() {
	if w.breaker == nil {
		return
	}
	if _, err := w.breaker.State(); err != nil {
		w.logger.Warn("failed to check break state", zap.Error(err))
	}
}

// armBoundary replaces prev with a timer for the next instant a verdict may
// change. Returns nil when there is none.
func (w *Watcher) armBoundary(prev *time.Timer) *time.Timer {
	if prev != nil {
		prev.Stop()
	}

	cfg, err := w.store.Load()
	if err != nil {
		w.logger.Warn("failed to load configuration for boundary", zap.Error(err))
		return nil
	}

	now := w.clock.Now()
	next, ok := policy.NextBoundary(cfg, now)
	if !ok {
		w.logger.Debug("no upcoming rule boundary")
		return nil
	}

	w.logger.Debug("next rule boundary", zap.Time("at", next))
	return time.NewTimer(next.Sub(now))
}

// timerC returns t's channel, or nil (which never fires) for no timer.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
