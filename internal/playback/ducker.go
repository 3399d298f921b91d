package playback

import (
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/settings"
)

// Tunables supplies per-guild settings. [*settings.Store] satisfies it.
type Tunables interface {
	Float(name, guildID string) float64
	Int(name, guildID string) int
	Duration(name, guildID string) time.Duration
}

// Ducker computes the attenuation applied to playback while anyone in the
// guild is speaking. Gain changes are linear ramps that always start from
// the gain in effect at the moment of the change, so the envelope is
// continuous.
//
// All methods are safe for concurrent use.
type Ducker struct {
	guildID  string
	tunables Tunables
	now      func() time.Time

	mu        sync.Mutex
	speaking  map[string]struct{}
	from      float64
	to        float64
	rampStart time.Time
	rampLen   time.Duration
}

// DuckerOption configures a [Ducker].
type DuckerOption func(*Ducker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) DuckerOption {
	return func(d *Ducker) { d.now = now }
}

// NewDucker returns a Ducker at full gain.
func NewDucker(guildID string, t Tunables, opts ...DuckerOption) *Ducker {
	d := &Ducker{
		guildID:  guildID,
		tunables: t,
		now:      time.Now,
		speaking: make(map[string]struct{}),
		from:     1,
		to:       1,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SpeakingStart marks userID as speaking. The first speaker starts a ramp
// down to the ducking level.
func (d *Ducker) SpeakingStart(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.speaking[userID]; ok {
		return
	}
	d.speaking[userID] = struct{}{}
	if len(d.speaking) == 1 {
		d.rampLocked(d.now(), d.level())
	}
}

// SpeakingStop marks userID as silent. When nobody is left speaking the gain
// ramps back to 1.
func (d *Ducker) SpeakingStop(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.speaking[userID]; !ok {
		return
	}
	delete(d.speaking, userID)
	if len(d.speaking) == 0 {
		d.rampLocked(d.now(), 1)
	}
}

// Reset forgets every speaker and ramps back to full gain.
func (d *Ducker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.speaking) == 0 {
		return
	}
	clear(d.speaking)
	d.rampLocked(d.now(), 1)
}

// Speaking returns the number of users currently speaking.
func (d *Ducker) Speaking() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.speaking)
}

// Gain returns the gain at now, in [0, 1].
func (d *Ducker) Gain(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gainLocked(now)
}

func (d *Ducker) gainLocked(now time.Time) float64 {
	elapsed := now.Sub(d.rampStart)
	var g float64
	switch {
	case d.rampLen <= 0 || elapsed >= d.rampLen:
		g = d.to
	case elapsed <= 0:
		g = d.from
	default:
		g = d.from + (d.to-d.from)*float64(elapsed)/float64(d.rampLen)
	}
	lo, hi := min(d.from, d.to), max(d.from, d.to)
	return min(max(g, lo), hi)
}

func (d *Ducker) rampLocked(now time.Time, target float64) {
	d.from = d.gainLocked(now)
	d.to = target
	d.rampStart = now
	d.rampLen = d.tunables.Duration(settings.DuckingTransition, d.guildID)
}

func (d *Ducker) level() float64 {
	return min(max(d.tunables.Float(settings.DuckingLevel, d.guildID), 0), 1)
}
