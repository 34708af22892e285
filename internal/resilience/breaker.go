// Package resilience keeps session reconnection from hammering a dead or
// flapping remote endpoint.
//
// [Breaker] guards stream dials: repeated dial failures trip it, suppressing
// further dials until a cool-down elapses, after which a single probe dial
// decides whether the endpoint is back. [Reconnector] drives the retry loop
// itself, spacing attempts with exponential backoff and jitter and consulting
// the breaker before every dial.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while dials are suppressed:
// either the cool-down has not elapsed, or a probe dial is already in flight.
var ErrBreakerOpen = errors.New("resilience: dial suppressed, breaker open")

// BreakerState is the current mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed allows every dial; consecutive failures are counted.
	BreakerClosed BreakerState = iota

	// BreakerOpen suppresses all dials until the cool-down elapses.
	BreakerOpen

	// BreakerProbing allows exactly one in-flight dial whose outcome decides
	// whether the breaker closes or re-opens.
	BreakerProbing
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the guarded endpoint in log messages.
	Name string

	// TripAfter is the number of consecutive dial failures before the breaker
	// opens. Default: 4.
	TripAfter int

	// CoolDown is how long dials stay suppressed before a probe dial is
	// allowed. Default: 20s.
	CoolDown time.Duration
}

// Breaker guards stream dials against a persistently failing endpoint. Ask
// [Breaker.Allow] before dialing and report the outcome with
// [Breaker.Record]; while the breaker is open, Allow rejects immediately, so
// the caller skips both the dial and its backoff delay.
//
// Recovery is probe-based: once the cool-down elapses, a single dial is let
// through. Its success closes the breaker, its failure restarts the
// cool-down. One probe is enough here — there is only ever one session being
// dialed at a time.
type Breaker struct {
	name      string
	tripAfter int
	coolDown  time.Duration

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probeBusy bool
}

// NewBreaker creates a [Breaker] in the closed state. Zero-value config
// fields are replaced with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 4
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 20 * time.Second
	}
	return &Breaker{
		name:      cfg.Name,
		tripAfter: cfg.TripAfter,
		coolDown:  cfg.CoolDown,
	}
}

// Allow reports whether a dial may proceed right now. It returns
// [ErrBreakerOpen] while dials are suppressed. A nil return must be matched
// by a [Breaker.Record] call with the dial's outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.coolDown {
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probeBusy = true
		slog.Info("cool-down elapsed, allowing a probe dial", "endpoint", b.name)
		return nil

	case BreakerProbing:
		if b.probeBusy {
			return ErrBreakerOpen
		}
		b.probeBusy = true
		return nil

	default:
		return nil
	}
}

// Record feeds a dial outcome back into the breaker. A probe failure
// restarts the cool-down; a probe success closes the breaker. In the closed
// state, the consecutive-failure count trips the breaker at the configured
// threshold and any success resets it.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerProbing {
		b.probeBusy = false
		if err != nil {
			b.reopenLocked("probe dial failed, suppressing dials again")
			return
		}
		b.state = BreakerClosed
		b.failures = 0
		slog.Info("probe dial succeeded, dials allowed again", "endpoint", b.name)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.tripAfter {
		b.reopenLocked("repeated dial failures, suppressing dials")
	}
}

// reopenLocked moves the breaker to open and restarts the cool-down. Must be
// called with b.mu held.
func (b *Breaker) reopenLocked(msg string) {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	slog.Warn(msg,
		"endpoint", b.name,
		"consecutive_failures", b.failures,
		"cool_down", b.coolDown,
	)
}

// State returns the breaker's current [BreakerState]. An open breaker whose
// cool-down has elapsed is reported as [BreakerProbing]; the actual
// transition happens on the next [Breaker.Allow].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.coolDown {
		return BreakerProbing
	}
	return b.state
}
