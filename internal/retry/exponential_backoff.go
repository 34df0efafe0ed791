// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/wallclock"
)

const (
	defaultMinInterval = time.Second / 8
	defaultMaxInterval = 30 * time.Second
	jitterSpread       = .05
)

// ExponentialBackoff doubles the wait after every failed attempt, from
// MinInterval up to MaxInterval, with up to 5% jitter either way.
type ExponentialBackoff struct {
	// MaxAttempts bounds the number of attempts; zero means unbounded.
	MaxAttempts uint64

	// MinInterval defaults to 125ms.
	MinInterval time.Duration

	// MaxInterval defaults to 30s.
	MaxInterval time.Duration

	// Timeout bounds all attempts together.
	Timeout time.Duration

	NoJitter bool

	Logger *slog.Logger

	// Clock defaults to wallclock.Instance.
	Clock wallclock.WallClock
}

// Start runs task until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends. The last error is returned.
func (e *ExponentialBackoff) Start(
	ctx context.Context,
	name string,
	task Task,
) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	l := log.Wrap(e.Logger)
	attr := slog.String("task", name)

	var attempt uint64
	for {
		attempt++
		retryable, err := task(ctx)
		if err == nil {
			if attempt > 1 {
				l.Debug(ctx, "retried task succeeded",
					attr, slog.Uint64("attempt", attempt))
			}
			return nil
		}

		wait := e.Interval(ctx, attempt, retryable)
		if wait == 0 {
			l.Info(ctx, "task failed",
				attr,
				slog.Uint64("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return err
		}

		l.Info(ctx, "task failed; retrying",
			attr,
			slog.Uint64("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-e.clock().After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Interval is the wait after the given failed attempt, or zero when no
// further attempt should be made.
func (e *ExponentialBackoff) Interval(
	ctx context.Context,
	attempt uint64,
	retryable bool,
) time.Duration {
	if !retryable || attempt == e.MaxAttempts || ctx.Err() != nil {
		return 0
	}

	lo, hi := e.MinInterval, e.MaxInterval
	if lo <= 0 {
		lo = defaultMinInterval
	}
	if hi <= 0 {
		hi = defaultMaxInterval
	}

	wait := lo
	for i := uint64(1); i < attempt && wait < hi; i++ {
		wait *= 2
	}
	wait = min(wait, max(hi, lo))

	if e.NoJitter {
		return wait
	}
	spread := 1 - jitterSpread + 2*jitterSpread*rand.Float64() // #nosec G404
	return time.Duration(float64(wait) * spread)
}

func (e *ExponentialBackoff) clock() wallclock.WallClock {
	if e.Clock != nil {
		return e.Clock
	}
	return wallclock.Instance
}
