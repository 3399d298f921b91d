package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TranscriberFallback is an [stt.Transcriber] that tries backends in order,
// skipping any whose breaker is open.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback returns a fallback with primary as its first entry.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg CircuitBreakerConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after those already registered.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Names returns the backend names in failover order.
func (f *TranscriberFallback) Names() []string { return f.group.Names() }

// Transcribe implements [stt.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, pcm, sampleRate)
	})
}
