package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// defaultLead is how many frames the player may run ahead of real time. It
// keeps the transport fed without letting ducking lag behind speech.
const defaultLead = 5

// Player streams one sound at a time into an output channel, applying the
// request volume and the guild's duck gain per sample.
type Player struct {
	ducker *Ducker
	open   Opener
	lead   time.Duration
}

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithOpener replaces [Open] as the file decoder.
func WithOpener(o Opener) PlayerOption {
	return func(p *Player) { p.open = o }
}

// WithLead sets how many frames may be written ahead of real time.
func WithLead(frames int) PlayerOption {
	return func(p *Player) { p.lead = time.Duration(max(frames, 0)) * audio.FrameDuration }
}

// NewPlayer returns a Player whose gain follows d.
func NewPlayer(d *Ducker, opts ...PlayerOption) *Player {
	p := &Player{
		ducker: d,
		open:   Open,
		lead:   defaultLead * audio.FrameDuration,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play writes every frame of req's sound to out at real-time pace. It returns
// nil when the sound ends, or ctx's error when ctx ends first.
func (p *Player) Play(ctx context.Context, req Request, out chan<- audio.AudioFrame) error {
	s, err := p.open(req.Sound.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	start := time.Now()
	for i := 0; ; i++ {
		frame, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("playback: %s frame %d: %w", req.Sound.Title, i, err)
		}

		due := start.Add(time.Duration(i) * audio.FrameDuration)
		if wait := time.Until(due) - p.lead; wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		g0 := req.Volume * p.ducker.Gain(due)
		g1 := req.Volume * p.ducker.Gain(due.Add(audio.FrameDuration))
		audio.ApplyGain(frame.Data, frame.Channels, g0, g1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- frame:
		}
	}
}
