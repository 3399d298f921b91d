package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

// phoneticBonus lifts titles that sound like the query above titles that are
// merely spelled alike.
const phoneticBonus = 0.15

// Suggest returns up to n sounds whose titles best match query. Ranking uses
// Jaro-Winkler similarity on the lowercased strings plus a bonus when any
// Double Metaphone code of the query overlaps one of the title. Titles that
// contain the query as a substring always rank first. An empty query lists
// titles alphabetically.
func (c *Catalog) Suggest(query string, n int) []Sound {
	if c == nil || n <= 0 {
		return nil
	}
	q := strings.ToLower(strings.TrimSpace(query))
	type scored struct {
		sound Sound
		score float64
	}
	ranked := make([]scored, 0, len(c.sounds))
	qCodes := codes(strings.Fields(q))
	for _, s := range c.sounds {
		title := strings.ToLower(s.Title)
		var score float64
		switch {
		case q == "":
		case strings.Contains(title, q):
			score = 2
		default:
			score = matchr.JaroWinkler(q, title, false)
			if overlaps(qCodes, codes(strings.Fields(title))) {
				score += phoneticBonus
			}
		}
		ranked = append(ranked, scored{sound: s, score: score})
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		if d := cmp.Compare(b.score, a.score); d != 0 {
			return d
		}
		return strings.Compare(strings.ToLower(a.sound.Title), strings.ToLower(b.sound.Title))
	})
	out := make([]Sound, 0, min(n, len(ranked)))
	for _, r := range ranked[:min(n, len(ranked))] {
		out = append(out, r.sound)
	}
	return out
}

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
