package trigger

import (
	"sync"
	"time"
)

// Window is one finalized transcription for one user.
type Window struct {
	UserID    string
	Text      string
	Words     []string
	CreatedAt time.Time

	expires time.Time
}

type historyKey struct {
	guildID string
	userID  string
}

// History keeps a bounded ring of recent windows per (guild, user). Windows
// are evicted when they fall out of the per-key capacity or when their age
// passes the limit in effect when they were appended.
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.Mutex
	windows map[historyKey][]Window
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{windows: make(map[historyKey][]Window)}
}

// Recent returns the unexpired windows for (guildID, userID), oldest first.
func (h *History) Recent(guildID, userID string, now time.Time) []Window {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := historyKey{guildID, userID}
	ws := h.evict(k, now, len(h.windows[k]))
	out := make([]Window, len(ws))
	copy(out, ws)
	return out
}

// Append adds w for its user and trims the ring to limit windows. A limit of
// zero keeps nothing.
func (h *History) Append(guildID string, w Window, limit int, maxAge time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := historyKey{guildID, w.UserID}
	w.expires = w.CreatedAt.Add(maxAge)
	h.windows[k] = append(h.windows[k], w)
	h.evict(k, w.CreatedAt, limit)
}

// evict drops expired windows and keeps at most limit. Survivors are copied
// to a fresh backing array. Must be called with h.mu held.
func (h *History) evict(k historyKey, now time.Time, limit int) []Window {
	ws := h.windows[k]
	start := 0
	for start < len(ws) && !ws[start].expires.After(now) {
		start++
	}
	keep := ws[start:]
	if len(keep) > limit {
		keep = keep[len(keep)-max(limit, 0):]
	}
	if len(keep) == 0 {
		delete(h.windows, k)
		return nil
	}
	if len(keep) < len(ws) {
		fresh := make([]Window, len(keep))
		copy(fresh, keep)
		h.windows[k] = fresh
		return fresh
	}
	return ws
}

// Sweep expires stale windows across all guilds and returns how many keys
// were dropped entirely.
func (h *History) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for k, ws := range h.windows {
		if h.evict(k, now, len(ws)) == nil {
			dropped++
		}
	}
	return dropped
}

// ForgetGuild drops every window recorded for guildID.
func (h *History) ForgetGuild(guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for k := range h.windows {
		if k.guildID == guildID {
			delete(h.windows, k)
		}
	}
}

// Len returns the number of (guild, user) keys with retained windows.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}
