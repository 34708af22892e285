package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ReconnectConfig holds tuning knobs for a [Reconnector].
type ReconnectConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// InitialDelay is the wait before the first retry. Default: 1s.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Default: 2.
	Multiplier float64

	// MaxAttempts bounds the retries per Do call. Default: 5.
	MaxAttempts int

	// Breaker, when set, gates every attempt. A tripped breaker makes Do
	// return [ErrBreakerOpen] without waiting out the remaining attempts.
	Breaker *Breaker
}

// Reconnector retries a dial with exponential backoff and jitter. Every
// attempt is cleared with the configured [Breaker] first, so failure bursts
// across many Do calls eventually cut retries short instead of hammering a
// dead endpoint.
type Reconnector struct {
	name         string
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	maxAttempts  int
	breaker      *Breaker
}

// NewReconnector creates a [Reconnector] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewReconnector(cfg ReconnectConfig) *Reconnector {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(BreakerConfig{Name: cfg.Name})
	}
	return &Reconnector{
		name:         cfg.Name,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
		multiplier:   cfg.Multiplier,
		maxAttempts:  cfg.MaxAttempts,
		breaker:      cfg.Breaker,
	}
}

// Do calls fn until it succeeds, the attempt budget is exhausted, the breaker
// opens, or ctx is cancelled. The delay before each retry grows by the
// multiplier and carries up to 25% random jitter.
func (r *Reconnector) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := r.initialDelay
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.breaker.Allow(); err != nil {
			return fmt.Errorf("resilience: %s: giving up: %w", r.name, err)
		}
		err := fn(ctx)
		r.breaker.Record(err)
		if err == nil {
			if attempt > 1 {
				slog.Info("reconnected", "name", r.name, "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		wait := jitter(delay)
		slog.Warn("attempt failed, backing off",
			"name", r.name,
			"attempt", attempt,
			"retry_in", wait.Round(time.Millisecond),
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = min(time.Duration(float64(delay)*r.multiplier), r.maxDelay)
	}

	return fmt.Errorf("resilience: %s: %d attempts failed: %w", r.name, r.maxAttempts, lastErr)
}

// jitter spreads d by ±25% so simultaneous clients don't retry in lockstep.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}
