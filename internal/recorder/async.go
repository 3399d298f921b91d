package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDropped is returned by [Async.Record] when the queue is full or closed.
var ErrDropped = errors.New("recorder: event dropped")

// Async queues events for a background writer. Record never blocks.
type Async struct {
	next    Recorder
	queue   chan Event
	timeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Int64
}

var _ Recorder = (*Async)(nil)

// NewAsync starts a writer for next with room for buffer queued events. Each
// write is bounded by a 5s timeout.
func NewAsync(next Recorder, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		next:    next,
		queue:   make(chan Event, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	a.wg.Go(a.run)
	return a
}

// Record implements [Recorder]. It enqueues ev, or drops it with a warning
// when the queue is full.
func (a *Async) Record(_ context.Context, ev Event) error {
	if a.closed.Load() {
		return ErrDropped
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		n := a.dropped.Add(1)
		slog.Warn("recorder: queue full, dropping event",
			"guild_id", ev.GuildID,
			"user_id", ev.UserID,
			"dropped_total", n,
		)
		return ErrDropped
	}
}

// Dropped returns the number of events dropped so far.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) run() {
	for {
		select {
		case ev := <-a.queue:
			a.write(ev)
		case <-a.done:
			for {
				select {
				case ev := <-a.queue:
					a.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.Record(ctx, ev); err != nil {
		slog.Warn("recorder: write failed", "guild_id", ev.GuildID, "error", err)
	}
}

// Close stops accepting events and waits for queued ones to be written, or
// for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		close(a.done)
	})
	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
