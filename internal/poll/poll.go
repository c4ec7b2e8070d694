// Package poll converts a submit-then-poll remote resource into a single
// blocking call with a deadline. It is the only place that knows how to wait:
// execution contexts, commands, statements, and job runs all drive their
// status fetches through Wait.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/lakerun/internal/platform"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultInterval = 5 * time.Second
	DefaultMaxWait  = 30 * time.Minute

	// transientBudget is how many consecutive transient fetch failures are
	// absorbed before the wait gives up. The counter resets on any
	// successful fetch.
	transientBudget = 3
)

// Wait outcomes other than a terminal snapshot.
var (
	// ErrTimedOut means the resource never reached a terminal state within
	// MaxWait. It is always distinguishable from a real failure.
	ErrTimedOut = errors.New("wait timed out before terminal state")
	// ErrCancelled means the caller's context was cancelled between poll
	// iterations. An in-flight status fetch is never interrupted.
	ErrCancelled = errors.New("wait cancelled")
	// ErrAborted means a status fetch failed permanently (resource gone,
	// authorization revoked); retrying cannot help.
	ErrAborted = errors.New("wait aborted on permanent failure")
	// ErrExhausted means transient fetch failures exceeded the retry budget.
	ErrExhausted = errors.New("wait gave up after repeated transient failures")
)

// Options tunes one Wait call. Both fields are optional.
type Options struct {
	// Interval is the pause between status fetches.
	Interval time.Duration
	// MaxWait bounds the whole wait, measured from loop entry. A slow
	// individual status fetch counts against it.
	MaxWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	return o
}

// Wait repeatedly calls fetch until done reports a terminal snapshot, the
// deadline passes, or ctx is cancelled. The first fetch happens immediately;
// a resource that is already terminal returns with zero extra delay.
//
// Cancellation is cooperative: it is checked at the top of every iteration
// and during sleeps, but fetch runs under context.WithoutCancel so an
// outstanding status call always completes and its result is honored.
//
// Rather than sleeping past the deadline, Wait performs one final immediate
// fetch when the next sleep would overshoot MaxWait, then reports ErrTimedOut.
func Wait[T any](ctx context.Context, opts Options, fetch func(context.Context) (T, error), done func(T) bool) (T, error) {
	opts = opts.withDefaults()

	var zero T
	start := time.Now()
	transientLeft := transientBudget
	finalPoll := false

	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		snap, err := fetch(context.WithoutCancel(ctx))
		switch {
		case err == nil:
			transientLeft = transientBudget
			if done(snap) {
				return snap, nil
			}
		case platform.IsTransient(err):
			transientLeft--
			if transientLeft < 0 {
				return zero, fmt.Errorf("%w: %w", ErrExhausted, err)
			}
		default:
			// Permanent failures and not-found abort immediately.
			return zero, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		if finalPoll {
			return zero, fmt.Errorf("%w after %s", ErrTimedOut, time.Since(start).Round(time.Millisecond))
		}

		if time.Since(start)+opts.Interval >= opts.MaxWait {
			// One last immediate fetch instead of sleeping past the deadline.
			finalPoll = true
			continue
		}

		select {
		case <-time.After(opts.Interval):
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}
