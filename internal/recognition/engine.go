// Package recognition turns per-user voice audio into finalized transcript
// text.
//
// Two [Engine] variants exist. [Streaming] feeds audio to a streaming
// [stt.Provider] as it arrives and reports each final result immediately.
// [Buffered] keeps a rolling buffer per user and hands it to a batch
// [stt.Transcriber] at the end of speech or when the buffer fills. Both report
// only finalized, non-empty text through a [ResultFunc]; partial hypotheses
// never leave the package.
//
// A [Selector] picks the variant for a guild once per listening session.
package recognition

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
)

var (
	// ErrEngineUnavailable is returned by a [Factory] whose backend is not
	// configured or could not be loaded.
	ErrEngineUnavailable = errors.New("recognition: engine unavailable")

	// ErrRecognizerFault wraps backend failures that forced a reset. It is
	// logged and counted, never returned to callers.
	ErrRecognizerFault = errors.New("recognition: recognizer fault")

	// ErrAlreadyListening is returned by StartListening on a running engine.
	ErrAlreadyListening = errors.New("recognition: already listening")
)

// RecognitionFormat is the audio format handed to recognizers.
var RecognitionFormat = audio.Format{SampleRate: 16000, Channels: 1}

// ResultFunc receives one finalized transcript.
type ResultFunc func(userID, text string)

// Sink accepts inbound audio while an engine is listening. All methods are
// safe for concurrent use and never block on the recognizer.
type Sink interface {
	// Write hands one frame of userID's speech to the engine.
	Write(userID string, frame audio.AudioFrame)

	// EndOfSpeech signals that userID stopped speaking.
	EndOfSpeech(userID string)

	// Forget releases all state held for userID.
	Forget(userID string)
}

// Engine is a recognition backend bound to one guild.
type Engine interface {
	// Name identifies the variant, e.g. "streaming".
	Name() string

	// StartListening begins accepting audio. Results are reported through
	// onResult from engine goroutines until StopListening.
	StartListening(ctx context.Context, onResult ResultFunc) error

	// StopListening cancels all per-user work and waits, bounded, for
	// in-flight recognizer calls to finish. Calling it on a stopped engine is
	// a no-op.
	StopListening(ctx context.Context) error

	// CurrentSink returns the audio sink, or nil when not listening.
	CurrentSink() Sink
}

// Tunables supplies per-guild engine settings. *settings.Store satisfies it.
type Tunables interface {
	Int(name, guildID string) int
	Duration(name, guildID string) time.Duration
	String(name, guildID string) string
}

type options struct {
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures an engine.
type Option func(*options)

// WithMetrics records engine metrics on m instead of the default instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for debounce bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}
