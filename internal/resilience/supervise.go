package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// ErrPanic wraps a value recovered from a supervised task.
var ErrPanic = errors.New("resilience: task panicked")

type superviseConfig struct {
	backoff    time.Duration
	maxBackoff time.Duration
	onRestart  func(attempt int, err error)
}

// SuperviseOption configures [Supervise].
type SuperviseOption func(*superviseConfig)

// WithBackoff sets the initial restart delay and its cap. The delay doubles
// after each consecutive failure. Defaults: 100ms and 30s.
func WithBackoff(initial, maxDelay time.Duration) SuperviseOption {
	return func(c *superviseConfig) {
		c.backoff = initial
		c.maxBackoff = maxDelay
	}
}

// OnRestart registers a callback invoked before each restart with the
// 1-based restart count and the error that caused it.
func OnRestart(fn func(attempt int, err error)) SuperviseOption {
	return func(c *superviseConfig) { c.onRestart = fn }
}

// Supervise runs fn until it returns nil or ctx is done. A panic in fn is
// recovered into an error wrapping [ErrPanic]. Any error restarts fn after a
// backoff. Supervise returns nil once ctx is done, so it can be handed to an
// errgroup without cancelling siblings.
func Supervise(ctx context.Context, name string, fn func(ctx context.Context) error, opts ...SuperviseOption) error {
	cfg := superviseConfig{backoff: 100 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	delay := cfg.backoff
	for attempt := 1; ; attempt++ {
		err := runGuarded(ctx, fn)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		slog.Warn("resilience: task failed, restarting",
			"task", name,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)
		if cfg.onRestart != nil {
			cfg.onRestart(attempt, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay = min(delay*2, cfg.maxBackoff)
	}
}

func runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("resilience: recovered panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}
