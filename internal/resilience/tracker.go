package resilience

import (
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/settings"
)

// Tunables supplies the per-guild decode-fault limits. *settings.Store
// satisfies it.
type Tunables interface {
	Int(name, guildID string) int
	Duration(name, guildID string) time.Duration
}

// Verdict is the outcome of recording one fault.
type Verdict struct {
	// Log is true for every log_interval-th fault since the last reset.
	Log bool

	// Count is the number of faults since the last reset.
	Count int

	// Reconnect is true when the faults inside the window exceed the
	// threshold. The tracker has already been cleared when this is set.
	Reconnect bool
}

// ErrorTracker counts inbound decode faults for one guild in a sliding time
// window.
type ErrorTracker struct {
	guildID  string
	tunables Tunables

	mu     sync.Mutex
	stamps []time.Time
	count  int
}

// NewErrorTracker returns an empty tracker for guildID.
func NewErrorTracker(guildID string, t Tunables) *ErrorTracker {
	return &ErrorTracker{guildID: guildID, tunables: t}
}

// Record registers a fault at now.
func (e *ErrorTracker) Record(now time.Time) Verdict {
	threshold := e.tunables.Int(settings.DecodeErrorThreshold, e.guildID)
	window := e.tunables.Duration(settings.DecodeErrorWindow, e.guildID)
	interval := max(e.tunables.Int(settings.DecodeErrorLogInterval, e.guildID), 1)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.purgeLocked(now, window)
	e.stamps = append(e.stamps, now)
	e.count++

	v := Verdict{Count: e.count, Log: e.count%interval == 0}
	if threshold > 0 && len(e.stamps) > threshold {
		v.Reconnect = true
		e.stamps = nil
		e.count = 0
	}
	return v
}

func (e *ErrorTracker) purgeLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(e.stamps) && !e.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[i:]...)
	}
}

// Len returns the number of faults currently retained.
func (e *ErrorTracker) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stamps)
}

// Reset clears the tracker.
func (e *ErrorTracker) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stamps = nil
	e.count = 0
}
