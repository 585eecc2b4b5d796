// Package backoff provides fixed-schedule retry and polling helpers.
package backoff

import (
	"context"
	"fmt"
	"time"
)

type Strategy struct {
	Delays []time.Duration
}

var (
	Quick = Strategy{
		Delays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
		},
	}

	Standard = Strategy{
		Delays: []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
		},
	}

	// Polling is tuned for waiting on an interactive OAuth callback:
	// fast at first, then a steady two-second cadence.
	Polling = Strategy{
		Delays: []time.Duration{
			500 * time.Millisecond,
			500 * time.Millisecond,
			1 * time.Second,
			1 * time.Second,
			2 * time.Second,
		},
	}
)

type RetryFunc func(ctx context.Context, attempt int) error

func Retry(ctx context.Context, strategy Strategy, fn RetryFunc) error {
	var lastErr error

	for i := 0; i < len(strategy.Delays); i++ {
		if err := fn(ctx, i+1); err != nil {
			lastErr = err

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(strategy.Delays[i]):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", len(strategy.Delays), lastErr)
}

// PollFunc reports whether polling is done. Returning an error stops the poll.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poll invokes fn on the strategy's schedule until it reports done, errors, or
// the deadline passes. Past the end of the schedule the last delay repeats.
func Poll(ctx context.Context, strategy Strategy, deadline time.Time, fn PollFunc) error {
	for i := 0; ; i++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("polling deadline exceeded")
		}

		delay := strategy.Delays[len(strategy.Delays)-1]
		if i < len(strategy.Delays) {
			delay = strategy.Delays[i]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
