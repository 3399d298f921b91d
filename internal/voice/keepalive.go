package voice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/pkg/audio"
)

// keepalive pings the connection every session.keepalive_interval and leaves
// the channel once it has been empty and quiet for session.auto_disconnect.
func (s *guildSession) keepalive(ctx context.Context) error {
	r := s.registry
	t := time.NewTimer(r.tunables.Duration(settings.SessionKeepaliveInterval, s.guildID))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		s.ping()
		if s.idle(r.now()) {
			slog.Info("voice: channel empty, leaving", "guild_id", s.guildID, "channel_id", s.channelID)
			// close waits for this task, so it runs elsewhere.
			go r.remove(s, nil)
			return nil
		}
		t.Reset(r.tunables.Duration(settings.SessionKeepaliveInterval, s.guildID))
	}
}

func (s *guildSession) ping() {
	s.mu.Lock()
	conn, st := s.conn, s.state
	s.mu.Unlock()
	if conn == nil || (st != StateConnected && st != StateListening) {
		return
	}
	err := conn.SendKeepalive()
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrNotReady):
		slog.Debug("voice: keepalive skipped, transport not ready", "guild_id", s.guildID)
	default:
		slog.Warn("voice: keepalive", "guild_id", s.guildID, "error", err)
	}
}

// idle reports whether the channel has no members and nothing happened for
// session.auto_disconnect. A zero timeout disables the check.
func (s *guildSession) idle(now time.Time) bool {
	timeout := s.registry.tunables.Duration(settings.SessionAutoDisconnect, s.guildID)
	if timeout <= 0 {
		return false
	}
	s.mu.Lock()
	conn, st, last := s.conn, s.state, s.lastActivity
	s.mu.Unlock()
	if conn == nil || (st != StateConnected && st != StateListening) {
		return false
	}
	if len(conn.Members()) > 0 {
		return false
	}
	if _, playing := s.queue.Playing(); playing || s.queue.Len() > 0 {
		return false
	}
	return now.Sub(last) >= timeout
}
