package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Transcriber = (*Native)(nil)

// NativeOption configures a [Native] transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the recognition language.
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// Native runs whisper.cpp in-process. The model is loaded once; each
// Transcribe call gets a fresh inference context. Calls are serialized
// because a loaded model shares its compute buffers.
//
// Requires cgo and libwhisper at build time.
type Native struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex
}

// NewNative loads the ggml model at modelPath.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the model.
func (n *Native) Close() error {
	if n.model == nil {
		return nil
	}
	return n.model.Close()
}

// Transcribe runs inference over pcm, which must be 16 kHz mono. whisper.cpp
// cannot be interrupted, so ctx is only checked before the run starts.
func (n *Native) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Transcript, error) {
	if sampleRate != 0 && sampleRate != defaultSampleRate {
		return stt.Transcript{}, fmt.Errorf("whisper: native needs %d Hz input, got %d", defaultSampleRate, sampleRate)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: language rejected, using model default", "language", n.language, "err", err)
	}
	if err := wctx.Process(toFloat32(pcm), nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		IsFinal:  true,
		Duration: pcmDuration(pcm, defaultSampleRate),
	}, nil
}
