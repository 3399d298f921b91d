// Package trigger turns finalized transcripts into sound matches.
//
// The [Matcher] runs two greedy passes over the words of the current
// transcript joined to the user's recent history. Multi-word phrases are
// matched first, longest first, and consume the positions they cover. Single
// words are matched in the remaining positions of the current transcript.
// Joining history lets a phrase split across two recognition windows still
// match, while a run that lies entirely in earlier windows never fires
// again.
package trigger

import (
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/settings"
)

// Match is one sound selected by a transcript.
type Match struct {
	Sound  catalog.Sound
	Phrase string

	// Position is the index of the first matched word relative to the start
	// of the current transcript. Phrases that began in an earlier window have
	// a negative position.
	Position int
}

// Catalog supplies the catalog in effect. It may return nil, in which case
// nothing matches.
type Catalog interface {
	Current() *catalog.Catalog
}

// Tunables supplies per-guild limits. [*settings.Store] satisfies it.
type Tunables interface {
	Int(name, guildID string) int
	Duration(name, guildID string) time.Duration
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithRand replaces the uniform chooser used when several sounds share one
// trigger. intN must return a value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(m *Matcher) { m.intN = intN }
}

// WithHistory shares an existing [History].
func WithHistory(h *History) Option {
	return func(m *Matcher) { m.history = h }
}

// Matcher matches transcripts against the catalog. It is safe for concurrent
// use; calls for the same (guild, user) should be serialized by the caller
// for the history to be meaningful.
type Matcher struct {
	catalog  Catalog
	tunables Tunables
	history  *History
	intN     func(n int) int
}

// NewMatcher returns a Matcher reading triggers from cat and limits from t.
func NewMatcher(cat Catalog, t Tunables, opts ...Option) *Matcher {
	m := &Matcher{
		catalog:  cat,
		tunables: t,
		intN:     rand.IntN,
	}
	for _, o := range opts {
		o(m)
	}
	if m.history == nil {
		m.history = NewHistory()
	}
	return m
}

// History returns the window history owned by m.
func (m *Matcher) History() *History { return m.history }

// Match finds the sounds triggered by text and then records text in the
// user's history. Empty text matches nothing and is not recorded.
func (m *Matcher) Match(guildID, userID, text string, now time.Time) []Match {
	words := catalog.Words(text)
	if len(words) == 0 {
		return nil
	}

	prior := m.history.Recent(guildID, userID, now)
	var tokens []string
	for _, w := range prior {
		tokens = append(tokens, w.Words...)
	}
	curStart := len(tokens)
	tokens = append(tokens, words...)

	matches := m.match(guildID, tokens, curStart)

	m.history.Append(guildID, Window{
		UserID:    userID,
		Text:      text,
		Words:     words,
		CreatedAt: now,
	}, m.tunables.Int(settings.TriggerHistoryWindows, guildID), m.tunables.Duration(settings.TriggerHistoryMaxAge, guildID))

	if len(matches) > 0 {
		slog.Debug("trigger: matched",
			"guild_id", guildID,
			"user_id", userID,
			"matches", len(matches),
		)
	}
	return matches
}

func (m *Matcher) match(guildID string, tokens []string, curStart int) []Match {
	cat := m.catalog.Current()
	if cat == nil {
		return nil
	}
	maxWords := m.tunables.Int(settings.TriggerMaxPhraseWords, guildID)
	consumed := make([]bool, len(tokens))
	var out []Match

	for _, p := range cat.Phrases() {
		if len(p.Words) > maxWords {
			continue
		}
		start := findRun(tokens, p.Words, consumed, curStart)
		if start < 0 {
			continue
		}
		sounds := cat.LookupByPhrase(p.Text)
		if len(sounds) == 0 {
			continue
		}
		for i := start; i < start+len(p.Words); i++ {
			consumed[i] = true
		}
		out = append(out, Match{Sound: m.pick(sounds), Phrase: p.Text, Position: start - curStart})
	}

	for i := curStart; i < len(tokens); i++ {
		if consumed[i] {
			continue
		}
		sounds := cat.LookupByTrigger(tokens[i])
		if len(sounds) == 0 {
			continue
		}
		consumed[i] = true
		out = append(out, Match{Sound: m.pick(sounds), Phrase: tokens[i], Position: i - curStart})
	}

	slices.SortStableFunc(out, func(a, b Match) int { return a.Position - b.Position })
	return out
}

// findRun returns the first index where words occurs contiguously in tokens
// over unconsumed positions and ends at or after curStart, or -1.
func findRun(tokens, words []string, consumed []bool, curStart int) int {
	n := len(words)
	first := max(0, curStart-n+1)
	for i := first; i+n <= len(tokens); i++ {
		ok := true
		for j := range n {
			if consumed[i+j] || tokens[i+j] != words[j] {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func (m *Matcher) pick(sounds []catalog.Sound) catalog.Sound {
	if len(sounds) == 1 {
		return sounds[0]
	}
	return sounds[m.intN(len(sounds))]
}

// Sweep expires stale history across all guilds.
func (m *Matcher) Sweep(now time.Time) int {
	return m.history.Sweep(now)
}

// ForgetGuild clears the history of every user in guildID.
func (m *Matcher) ForgetGuild(guildID string) {
	m.history.ForgetGuild(guildID)
}
