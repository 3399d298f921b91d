package voice

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// speaker tracks one user's speaking edge on the current connection.
type speaker struct {
	detector  vad.SessionHandle
	speaking  bool
	lastVoice time.Time
}

// pumpInput reads inbound frames from conn until ctx ends. It detects speaking
// edges, ducks playback while anyone speaks and feeds speech to the engine.
//
// A closed input while ctx is live means the transport dropped; the session
// reconnects.
func (s *guildSession) pumpInput(ctx context.Context, conn audio.Connection) error {
	speakers := make(map[string]*speaker)
	defer func() {
		for id, sp := range speakers {
			s.endSpeech(id, sp)
			if sp.detector != nil {
				_ = sp.detector.Close()
			}
		}
	}()

	tick := time.NewTicker(audio.FrameDuration)
	defer tick.Stop()
	in := conn.Input()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				if ctx.Err() == nil && s.isCurrent(conn) {
					slog.Warn("voice: input closed, reconnecting", "guild_id", s.guildID)
					s.requestReconnect()
				}
				return nil
			}
			s.handleFrame(speakers, f)
		case ev := <-s.events:
			if ev.Type != audio.EventLeave {
				continue
			}
			if sp, ok := speakers[ev.UserID]; ok {
				s.endSpeech(ev.UserID, sp)
				if sp.detector != nil {
					_ = sp.detector.Close()
				}
				delete(speakers, ev.UserID)
			}
			if sink := s.sink(); sink != nil {
				sink.Forget(ev.UserID)
			}
		case <-tick.C:
			hangover := s.registry.tunables.Duration(settings.SpeakingHangover, s.guildID)
			now := s.registry.now()
			for id, sp := range speakers {
				if sp.speaking && now.Sub(sp.lastVoice) >= hangover {
					s.endSpeech(id, sp)
				}
			}
		}
	}
}

func (s *guildSession) handleFrame(speakers map[string]*speaker, f audio.InputFrame) {
	now := s.registry.now()
	s.touch(now)

	sp, ok := speakers[f.UserID]
	if !ok {
		sp = &speaker{detector: s.newDetector(f.Frame)}
		speakers[f.UserID] = sp
	}

	voiced, ended := true, false
	if sp.detector != nil {
		mono := audio.PCM(audio.Remix(audio.Samples(f.Frame.Data), f.Frame.Channels, 1))
		ev, err := sp.detector.ProcessFrame(mono)
		if err == nil {
			switch ev.Type {
			case vad.VADSpeechStart, vad.VADSpeechContinue:
			case vad.VADSpeechEnd:
				voiced, ended = false, true
			default:
				voiced = false
			}
		}
	}

	if voiced {
		sp.lastVoice = now
		if !sp.speaking {
			sp.speaking = true
			s.ducker.SpeakingStart(f.UserID)
		}
	}
	if sp.speaking {
		if sink := s.sink(); sink != nil {
			sink.Write(f.UserID, f.Frame)
		}
	}
	if ended {
		s.endSpeech(f.UserID, sp)
	}
}

// newDetector opens a VAD session for a new speaker. Without a VAD engine,
// or when the engine fails, every packet counts as speech.
func (s *guildSession) newDetector(frame audio.AudioFrame) vad.SessionHandle {
	if s.registry.vad == nil {
		return nil
	}
	hangover := s.registry.tunables.Duration(settings.SpeakingHangover, s.guildID)
	d, err := s.registry.vad.NewSession(vad.Config{
		SampleRate:  frame.SampleRate,
		FrameSizeMs: int(audio.FrameDuration / time.Millisecond),
		HangoverMs:  int(hangover / time.Millisecond),
	})
	if err != nil {
		slog.Warn("voice: vad session", "guild_id", s.guildID, "error", err)
		return nil
	}
	return d
}

func (s *guildSession) endSpeech(userID string, sp *speaker) {
	if !sp.speaking {
		return
	}
	sp.speaking = false
	s.ducker.SpeakingStop(userID)
	if sink := s.sink(); sink != nil {
		sink.EndOfSpeech(userID)
	}
}

// pumpOutput forwards playback frames to the current connection. Frames
// produced while no connection is attached are dropped so playback timing
// stays intact across a reconnect.
func (s *guildSession) pumpOutput(ctx context.Context) error {
	for {
		var f audio.AudioFrame
		select {
		case <-ctx.Done():
			return nil
		case f = <-s.out:
		}
		conn := s.connection()
		if conn == nil {
			continue
		}
		select {
		case conn.OutputStream() <- f:
		case <-ctx.Done():
			return nil
		}
	}
}
