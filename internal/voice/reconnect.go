package voice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/settings"
	"github.com/MrWong99/earshot/pkg/audio"
)

// monitorReconnect runs one reconnect per request. Requests arriving while a
// reconnect is running collapse into at most one follow-up, which reconnect
// ignores unless the session is connected again.
func (s *guildSession) monitorReconnect(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.redo:
			s.reconnect(ctx)
		}
	}
}

// reconnect replaces the session's connection in place:
//
//  1. stop the engine and detach the old connection
//  2. wait reconnect.grace
//  3. dial up to reconnect.max_retries times with doubling backoff
//  4. attach the new connection and restart listening if it was wanted
//  5. reset the decode-fault window
//
// The queue keeps its contents throughout. Exhausted retries tear the
// session down with [ErrReconnectExhausted].
func (s *guildSession) reconnect(ctx context.Context) {
	r := s.registry

	s.opMu.Lock()
	if st := s.State(); s.isClosed() || (st != StateConnected && st != StateListening) {
		s.opMu.Unlock()
		return
	}
	if err := s.transition(StateReconnecting, nil); err != nil {
		s.opMu.Unlock()
		slog.Warn("voice: reconnect", "guild_id", s.guildID, "error", err)
		return
	}
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng != nil {
		if err := eng.StopListening(ctx); err != nil {
			slog.Warn("voice: stop engine for reconnect", "guild_id", s.guildID, "engine", eng.Name(), "error", err)
		}
	}
	s.ducker.Reset()
	if old := s.detach(); old != nil {
		if err := old.Disconnect(); err != nil {
			slog.Debug("voice: disconnect stale connection", "guild_id", s.guildID, "error", err)
		}
	}
	s.opMu.Unlock()

	conn, err := s.redial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.RecordReconnect(context.WithoutCancel(ctx), observe.OutcomeExhausted)
		cause := fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		slog.Error("voice: reconnect failed, leaving channel",
			"guild_id", s.guildID,
			"channel_id", s.channelID,
			"error", err,
		)
		// close waits for this task, so it runs elsewhere.
		go r.remove(s, cause)
		return
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		_ = conn.Disconnect()
		return
	}
	s.attach(conn)

	to := StateConnected
	s.mu.Lock()
	want := s.wantListen
	s.mu.Unlock()
	if want {
		if err := s.startEngine(); err != nil {
			slog.Warn("voice: resume listening after reconnect", "guild_id", s.guildID, "error", err)
			s.mu.Lock()
			s.wantListen = false
			s.engine = nil
			s.mu.Unlock()
		} else {
			to = StateListening
		}
	}
	s.tracker.Reset()
	s.mu.Lock()
	s.faults = 0
	s.mu.Unlock()

	r.metrics.RecordReconnect(ctx, observe.OutcomeSuccess)
	if err := s.transition(to, nil); err != nil {
		slog.Warn("voice: reconnect", "guild_id", s.guildID, "error", err)
	}
}

// redial waits out the grace period and then tries to join the channel
// again, bounding every attempt by session.connect_timeout.
func (s *guildSession) redial(ctx context.Context) (audio.Connection, error) {
	r := s.registry
	if !sleep(ctx, r.tunables.Duration(settings.ReconnectGrace, s.guildID)) {
		return nil, ctx.Err()
	}

	retries := max(r.tunables.Int(settings.ReconnectMaxRetries, s.guildID), 1)
	backoff := r.tunables.Duration(settings.ReconnectBackoff, s.guildID)
	timeout := r.tunables.Duration(settings.SessionConnectTimeout, s.guildID)

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		slog.Info("voice: reconnect attempt",
			"guild_id", s.guildID,
			"channel_id", s.channelID,
			"attempt", attempt,
			"max_retries", retries,
		)
		actx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := r.platform.Connect(actx, s.channelID)
		cancel()
		if err == nil {
			slog.Info("voice: reconnected", "guild_id", s.guildID, "channel_id", s.channelID, "attempt", attempt)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt, err)
		slog.Warn("voice: reconnect attempt failed",
			"guild_id", s.guildID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if attempt == retries {
			break
		}
		r.metrics.RecordReconnect(ctx, observe.OutcomeRetry)
		if !sleep(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = min(backoff*2, maxReconnectBackoff)
	}
	return nil, lastErr
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
