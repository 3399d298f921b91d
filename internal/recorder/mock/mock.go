// Package mock provides a capturing [recorder.Recorder] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/internal/recorder"
)

// Recorder stores every event it receives. Err, if set, is returned by Record
// after the event is stored.
type Recorder struct {
	mu     sync.Mutex
	Err    error
	events []recorder.Event
	notify chan struct{}
}

var _ recorder.Recorder = (*Recorder)(nil)

// Record implements [recorder.Recorder].
func (r *Recorder) Record(_ context.Context, ev recorder.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.notify != nil {
		select {
		case r.notify <- struct{}{}:
		default:
		}
	}
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []recorder.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Notify returns a channel that receives a value after each Record.
func (r *Recorder) Notify() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notify == nil {
		r.notify = make(chan struct{}, 1)
	}
	return r.notify
}
