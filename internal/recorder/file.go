package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileRecorder appends events to a file as JSON lines.
type FileRecorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

var _ Recorder = (*FileRecorder)(nil)

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %q: %w", path, err)
	}
	return &FileRecorder{f: f, enc: json.NewEncoder(f)}, nil
}

// Record implements [Recorder].
func (r *FileRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return os.ErrClosed
	}
	if err := r.enc.Encode(ev); err != nil {
		return fmt.Errorf("recorder: write event: %w", err)
	}
	return nil
}

// Close closes the file. Later Record calls fail with os.ErrClosed.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
