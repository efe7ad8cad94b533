// Package scheduler provides the fixed-delay polling loop used to track
// asynchronous label purchases until they reach a terminal state.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PollFunc performs one polling attempt. It reports done=true when the
// loop should stop, or an error to stop with failure. A (false, nil)
// result schedules another attempt after the poller's interval.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poller runs a polling function at a fixed delay until it reports a
// terminal result or its context is canceled. The loop is a single
// owning goroutine-friendly task — no structural recursion, no dangling
// timers after cancellation. Retries are unbounded: termination relies
// on the polled resource eventually reaching a terminal state.
type Poller struct {
	interval time.Duration
	logger   *zap.Logger
	attempts atomic.Int64
}

// NewPoller creates a poller with the given fixed delay between attempts
func NewPoller(interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		interval: interval,
		logger:   logger,
	}
}

// Run executes fn immediately and then once per interval until fn
// reports done or fails, or ctx is canceled. The first attempt carries
// no delay; every re-poll waits the full interval. Returns fn's error,
// or ctx.Err() on cancellation.
func (p *Poller) Run(ctx context.Context, name string, fn PollFunc) error {
	for {
		p.attempts.Add(1)
		done, err := fn(ctx)
		if err != nil {
			p.logger.Debug("poll attempt failed",
				zap.String("task", name),
				zap.Int64("attempts", p.attempts.Load()),
				zap.Error(err),
			)
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("poll canceled",
				zap.String("task", name),
				zap.Int64("attempts", p.attempts.Load()),
			)
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// Attempts returns the number of attempts made across runs
func (p *Poller) Attempts() int64 {
	return p.attempts.Load()
}
