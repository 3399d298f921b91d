package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Buffered is the high-accuracy [Engine]. Each speaking user has a rolling
// buffer of recent audio and one supervised task that transcribes it at the
// end of speech or when the buffer fills, at most once per debounce
// interval. The buffer is cleared after every attempt whatever the outcome.
//
// Transcriber calls go through a bounded worker pool and each has its own
// watchdog. They run detached from engine cancellation: StopListening waits
// for them, bounded by the drain timeout, instead of abandoning a native call
// mid-flight.
type Buffered struct {
	guildID     string
	transcriber stt.Transcriber
	tunables    Tunables
	opts        options

	mu        sync.Mutex
	listening bool
	cancel    context.CancelFunc
	ctx       context.Context
	group     *errgroup.Group
	pool      *semaphore.Weighted
	onResult  ResultFunc
	users     map[string]*bufferUser
}

type bufferUser struct {
	id     string
	conv   audio.FormatConverter
	limit  int
	cancel context.CancelFunc
	wake   chan struct{}

	mu  sync.Mutex
	pcm []byte
}

var (
	_ Engine = (*Buffered)(nil)
	_ Sink   = (*Buffered)(nil)
)

// NewBuffered returns a stopped buffered engine for guildID.
func NewBuffered(guildID string, t stt.Transcriber, tunables Tunables, opts ...Option) *Buffered {
	return &Buffered{
		guildID:     guildID,
		transcriber: t,
		tunables:    tunables,
		opts:        buildOptions(opts),
	}
}

// Name implements [Engine].
func (b *Buffered) Name() string { return "buffered" }

// StartListening implements [Engine].
func (b *Buffered) StartListening(ctx context.Context, onResult ResultFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return ErrAlreadyListening
	}
	workers := max(b.tunables.Int(settings.RecognitionWorkers, b.guildID), 1)
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.group = &errgroup.Group{}
	b.pool = semaphore.NewWeighted(int64(workers))
	b.onResult = onResult
	b.users = make(map[string]*bufferUser)
	b.listening = true
	slog.Info("recognition: listening", "guild_id", b.guildID, "engine", b.Name(), "workers", workers)
	return nil
}

// StopListening implements [Engine].
func (b *Buffered) StopListening(ctx context.Context) error {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return nil
	}
	b.listening = false
	b.cancel()
	g := b.group
	b.users = nil
	b.mu.Unlock()

	drain := b.tunables.Duration(settings.RecognitionDrainTimeout, b.guildID)
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	t := time.NewTimer(drain)
	defer t.Stop()
	select {
	case <-done:
		slog.Info("recognition: stopped", "guild_id", b.guildID, "engine", b.Name())
		return nil
	case <-t.C:
		slog.Warn("recognition: drain timeout, in-flight transcriptions left to finish",
			"guild_id", b.guildID,
			"timeout", drain,
		)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recognition: stop buffered: %w", ctx.Err())
	}
}

// CurrentSink implements [Engine].
func (b *Buffered) CurrentSink() Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.listening {
		return nil
	}
	return b
}

// Write implements [Sink]. The oldest audio is overwritten once the buffer
// holds recognition.buffer worth of speech.
func (b *Buffered) Write(userID string, frame audio.AudioFrame) {
	u := b.user(userID)
	if u == nil {
		return
	}
	pcm := u.conv.Convert(frame).Data
	if len(pcm) == 0 {
		return
	}

	u.mu.Lock()
	u.pcm = append(u.pcm, pcm...)
	if over := len(u.pcm) - u.limit; over > 0 {
		u.pcm = append(u.pcm[:0], u.pcm[over:]...)
	}
	full := len(u.pcm) >= u.limit
	u.mu.Unlock()

	if full {
		u.signal()
	}
}

// EndOfSpeech implements [Sink].
func (b *Buffered) EndOfSpeech(userID string) {
	b.mu.Lock()
	u := b.users[userID]
	b.mu.Unlock()
	if u != nil {
		u.signal()
	}
}

// Forget implements [Sink]. Buffered audio is discarded.
func (b *Buffered) Forget(userID string) {
	b.mu.Lock()
	u := b.users[userID]
	delete(b.users, userID)
	b.mu.Unlock()
	if u != nil {
		u.cancel()
	}
}

// user returns userID's state, starting its task on first use.
func (b *Buffered) user(userID string) *bufferUser {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.listening {
		return nil
	}
	if u, ok := b.users[userID]; ok {
		return u
	}

	window := b.tunables.Duration(settings.RecognitionBuffer, b.guildID)
	ctx, cancel := context.WithCancel(b.ctx)
	u := &bufferUser{
		id:     userID,
		conv:   audio.FormatConverter{Target: RecognitionFormat},
		limit:  max(RecognitionFormat.FrameBytes(window), RecognitionFormat.FrameBytes(audio.FrameDuration)),
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	b.users[userID] = u

	pool, onResult := b.pool, b.onResult
	b.group.Go(func() error {
		return resilience.Supervise(ctx, "recognition.buffered."+userID, func(ctx context.Context) error {
			return b.loop(ctx, u, pool, onResult)
		})
	})
	return u
}

// loop waits for a wake-up, applies the debounce, then transcribes a
// snapshot of the buffer. It returns nil when ctx ends.
func (b *Buffered) loop(ctx context.Context, u *bufferUser, pool *semaphore.Weighted, onResult ResultFunc) error {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-u.wake:
		}

		debounce := b.tunables.Duration(settings.RecognitionDebounce, b.guildID)
		if wait := debounce - b.opts.now().Sub(last); !last.IsZero() && wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}

		pcm := u.take()
		last = b.opts.now()
		if len(pcm) == 0 {
			continue
		}
		b.attempt(ctx, u.id, pcm, pool, onResult)
	}
}

// attempt runs one transcription on the worker pool.
func (b *Buffered) attempt(ctx context.Context, userID string, pcm []byte, pool *semaphore.Weighted, onResult ResultFunc) {
	if err := pool.Acquire(ctx, 1); err != nil {
		return
	}
	defer pool.Release(1)

	watchdog := b.tunables.Duration(settings.RecognitionWatchdog, b.guildID)
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), watchdog)
	defer cancel()

	callCtx, span := observe.StartTranscription(callCtx, b.guildID, userID, b.Name())
	start := time.Now()
	tr, err := b.transcriber.Transcribe(callCtx, pcm, RecognitionFormat.SampleRate)
	b.opts.metrics.RecordRecognition(callCtx, b.Name(), time.Since(start))
	observe.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("watchdog expired after %s: %w", watchdog, err)
		}
		b.opts.metrics.RecordRecognizerFault(callCtx, b.Name())
		observe.Logger(callCtx).Warn("recognition: transcription failed",
			"guild_id", b.guildID,
			"user_id", userID,
			"engine", b.Name(),
			"error", fmt.Errorf("%w: %w", ErrRecognizerFault, err),
		)
		return
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	if ctx.Err() != nil {
		slog.Debug("recognition: discarding result after stop", "guild_id", b.guildID, "user_id", userID)
		return
	}
	b.opts.metrics.RecordTranscript(callCtx, b.Name())
	onResult(userID, text)
}

func (u *bufferUser) signal() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// take returns the buffered audio and clears the buffer.
func (u *bufferUser) take() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	pcm := u.pcm
	u.pcm = nil
	return pcm
}
