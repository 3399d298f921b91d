// Package playback plays catalog sounds into a voice connection.
//
// Each guild owns one [Queue]: a bounded FIFO drained by a single consumer,
// so at most one sound plays per guild and requests finish in the order they
// were enqueued. A [Player] decodes the sound file and applies the request
// volume together with the [Ducker] gain, which ramps down while anyone in
// the guild is speaking and back up once everyone is silent.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Playable plays one request. [*Player] satisfies it.
type Playable interface {
	Play(ctx context.Context, req Request, out chan<- audio.AudioFrame) error
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithMetrics records playback outcomes and queue depth into m.
func WithMetrics(m *observe.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// Queue is a per-guild playback FIFO. Call [Queue.Run] from exactly one
// goroutine to consume it.
//
// All exported methods are safe for concurrent use.
type Queue struct {
	guildID  string
	player   Playable
	out      chan<- audio.AudioFrame
	tunables Tunables
	metrics  *observe.Metrics

	mu            sync.Mutex
	items         []Request
	playing       *Request
	cancelPlaying context.CancelFunc
	onComplete    func(Request, error)
	closed        bool

	notify chan struct{}
	done   chan struct{}
}

// NewQueue returns an empty queue that plays through player into out.
func NewQueue(guildID string, player Playable, out chan<- audio.AudioFrame, t Tunables, opts ...QueueOption) *Queue {
	q := &Queue{
		guildID:  guildID,
		player:   player,
		out:      out,
		tunables: t,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	return q
}

// OnComplete registers fn to run after every request, in completion order,
// with nil or the playback error. Subsequent calls replace the previous
// registration. fn runs on the consumer goroutine and must not block.
func (q *Queue) OnComplete(fn func(Request, error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = fn
}

// Enqueue appends req. It returns [ErrQueueFull] when playback.queue_size
// requests are already pending.
func (q *Queue) Enqueue(req Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if limit := q.tunables.Int(settings.PlaybackQueueSize, q.guildID); len(q.items) >= limit {
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(q.items))
	}
	q.items = append(q.items, req)
	q.metrics.QueueDepth.Add(context.Background(), 1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Clear drops every pending request and returns how many were dropped. The
// sound currently playing is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearLocked()
}

func (q *Queue) clearLocked() int {
	n := len(q.items)
	q.items = nil
	if n > 0 {
		q.metrics.QueueDepth.Add(context.Background(), -int64(n))
	}
	return n
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Playing returns the request being played, if any.
func (q *Queue) Playing() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing == nil {
		return Request{}, false
	}
	return *q.playing, true
}

// Close rejects further requests, drops pending ones, stops the current sound
// and makes Run return. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.clearLocked()
	if q.cancelPlaying != nil {
		q.cancelPlaying()
	}
	close(q.done)
}

// Run consumes the queue until ctx ends or Close is called. A failing sound
// is logged and counted, then the next one starts.
func (q *Queue) Run(ctx context.Context) error {
	for {
		req, pctx, cancel, ok := q.dequeue(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.done:
				return nil
			case <-q.notify:
			}
			continue
		}
		err := q.play(ctx, pctx, req)
		cancel()
		q.finish(req, err)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// dequeue pops the oldest request and marks it playing under a fresh
// timeout context. Returns ok=false when empty or closed.
func (q *Queue) dequeue(ctx context.Context) (Request, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return Request{}, nil, nil, false
	}
	req := q.items[0]
	q.items[0] = Request{}
	q.items = q.items[1:]
	q.metrics.QueueDepth.Add(context.Background(), -1)

	timeout := q.tunables.Duration(settings.PlaybackTimeout, q.guildID)
	pctx, cancel := context.WithTimeout(ctx, timeout)
	q.playing = &req
	q.cancelPlaying = cancel
	return req, pctx, cancel, true
}

func (q *Queue) play(ctx, pctx context.Context, req Request) (err error) {
	start := time.Now()
	ctx, span := observe.StartPlayback(ctx, q.guildID, req.Sound.Title)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %q: panic: %v", ErrPlaybackError, req.Sound.Title, r)
		}
		status := observe.StatusOK
		switch {
		case errors.Is(err, ErrPlaybackTimeout):
			status = observe.StatusTimeout
		case err != nil:
			status = observe.StatusError
		}
		if !errors.Is(err, context.Canceled) {
			q.metrics.RecordPlayback(ctx, status, time.Since(start))
		}
		observe.EndSpan(span, err)
	}()

	perr := q.player.Play(pctx, req, q.out)
	switch {
	case perr == nil:
		return nil
	case ctx.Err() != nil || q.isClosed():
		return fmt.Errorf("playback: %q: %w", req.Sound.Title, context.Canceled)
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %q after %s", ErrPlaybackTimeout, req.Sound.Title, q.tunables.Duration(settings.PlaybackTimeout, q.guildID))
	default:
		return fmt.Errorf("%w: %q: %w", ErrPlaybackError, req.Sound.Title, perr)
	}
}

func (q *Queue) finish(req Request, err error) {
	q.mu.Lock()
	q.playing = nil
	q.cancelPlaying = nil
	fn := q.onComplete
	q.mu.Unlock()

	switch {
	case err == nil:
		slog.Debug("playback: finished", "guild_id", q.guildID, "sound", req.Sound.Title, "request_id", req.ID)
	case errors.Is(err, context.Canceled):
		slog.Debug("playback: cancelled", "guild_id", q.guildID, "sound", req.Sound.Title)
	default:
		slog.Warn("playback: sound failed, advancing queue",
			"guild_id", q.guildID,
			"sound", req.Sound.Title,
			"requested_by", req.RequestedBy,
			"error", err,
		)
	}
	if fn != nil {
		fn(req, err)
	}
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
