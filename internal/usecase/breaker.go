package usecase

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	MinBreakMinutes = 1
	MaxBreakMinutes = 60
)

var (
	// ErrInvalidDuration rejects a break outside MinBreakMinutes..MaxBreakMinutes.
	ErrInvalidDuration = errors.New("break duration must be between 1 and 60 minutes")

	// ErrBreakActive rejects a second break while one is in effect.
	ErrBreakActive = domain.ErrBreakActive
)

// Breaker implements the break override state machine on top of the
// configuration store. Expiry is lazy: whoever reads an expired break
// clears it.
type Breaker struct {
	store  domain.ConfigStore
	clock  clock.Clock
	logger *zap.Logger
	notify func(domain.Trigger)
}

// NewBreaker creates a break controller.
func NewBreaker(store domain.ConfigStore, clk clock.Clock, logger *zap.Logger) *Breaker {
	return &Breaker{
		store:  store,
		clock:  clk,
		logger: logger,
		notify: func(domain.Trigger) {},
	}
}

// SetNotifier registers the callback run once whenever a break ends, so the
// tabs it unblocked get re-blocked.
func (b *Breaker) SetNotifier(fn func(domain.Trigger)) {
	if fn == nil {
		fn = func(domain.Trigger) {}
	}
	b.notify = fn
}

// Start begins a break of the given length.
func (b *Breaker) Start(minutes int) (domain.BreakState, error) {
	if minutes < MinBreakMinutes || minutes > MaxBreakMinutes {
		return domain.BreakState{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, minutes)
	}

	now := b.clock.Now()
	state := domain.BreakState{
		Active:         true,
		EndTimeEpochMs: now.Add(time.Duration(minutes) * time.Minute).UnixMilli(),
	}
	current, err := b.store.StartBreak(state, now)
	if errors.Is(err, domain.ErrBreakActive) {
		return current, ErrBreakActive
	}
	if err != nil {
		return domain.BreakState{}, fmt.Errorf("failed to save break: %w", err)
	}

	b.logger.Info("break started",
		zap.Int("minutes", minutes),
		zap.Time("ends_at", state.EndTime()))
	return state, nil
}

// End finishes the current break. Ending when no break is active is a no-op.
func (b *Breaker) End() error {
	cfg, err := b.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Break.Active {
		return nil
	}

	if err := b.store.SetBreak(domain.BreakState{}); err != nil {
		return fmt.Errorf("failed to clear break: %w", err)
	}

	b.logger.Info("break ended by request")
	b.notify(domain.TriggerBreakEnded)
	return nil
}

// State returns the current break state, clearing it first if it expired.
func (b *Breaker) State() (domain.BreakState, error) {
	cfg, err := b.store.Load()
	if err != nil {
		return domain.BreakState{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Break.Active && !cfg.Break.InEffect(b.clock.Now()) {
		if err := b.store.SetBreak(domain.BreakState{}); err != nil {
			return domain.BreakState{}, fmt.Errorf("failed to clear expired break: %w", err)
		}
		b.logger.Info("break expired", zap.Time("ended_at", cfg.Break.EndTime()))
		b.notify(domain.TriggerBreakEnded)
		return domain.BreakState{}, nil
	}

	return cfg.Break, nil
}

// Remaining returns how long the break has left, zero when inactive.
func (b *Breaker) Remaining(state domain.BreakState) time.Duration {
	if !state.InEffect(b.clock.Now()) {
		return 0
	}
	return state.EndTime().Sub(b.clock.Now())
}
