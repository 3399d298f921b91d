// Package catalog is the sound library: titles, trigger words, file paths and
// volumes loaded from a YAML file.
//
// A [Catalog] is immutable once built. It precomputes the split between
// single-word triggers and multi-word phrases so the trigger matcher never
// re-tokenizes triggers per call. [Store] swaps catalogs atomically when the
// file is reloaded.
package catalog

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Volume bounds for a single sound.
const (
	MinVolume = 0.0
	MaxVolume = 2.0
)

// Sound is one playable clip.
type Sound struct {
	Title string `yaml:"title"`
	Path  string `yaml:"path"`
	// Volume is nil when unset. Zero mutes the sound.
	Volume   *float64 `yaml:"volume"`
	Triggers []string `yaml:"triggers"`
}

// Gain returns the sound's volume, 1 when unset.
func (s Sound) Gain() float64 {
	if s.Volume == nil {
		return 1
	}
	return *s.Volume
}

// Phrase is a normalized trigger of two or more words.
type Phrase struct {
	Text  string
	Words []string
}

type document struct {
	Sounds []Sound `yaml:"sounds"`
}

// Catalog indexes sounds by trigger and title. The zero value is an empty
// catalog. All methods are safe for concurrent use.
type Catalog struct {
	sounds   []Sound
	byWord   map[string][]Sound
	byPhrase map[string][]Sound
	byTitle  map[string]Sound
	phrases  []Phrase
}

// New validates sounds and builds the indexes. Triggers are normalized with
// [Words]; a trigger that normalizes to nothing is an error.
func New(sounds []Sound) (*Catalog, error) {
	c := &Catalog{
		byWord:   make(map[string][]Sound),
		byPhrase: make(map[string][]Sound),
		byTitle:  make(map[string]Sound, len(sounds)),
	}
	var errs []error
	for i, s := range sounds {
		if s.Title == "" {
			errs = append(errs, fmt.Errorf("sounds[%d].title is required", i))
			continue
		}
		key := strings.ToLower(s.Title)
		if _, dup := c.byTitle[key]; dup {
			errs = append(errs, fmt.Errorf("sounds[%d] title %q is a duplicate", i, s.Title))
			continue
		}
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("sounds[%d] %q: path is required", i, s.Title))
		}
		if v := s.Gain(); v < MinVolume || v > MaxVolume {
			errs = append(errs, fmt.Errorf("sounds[%d] %q: volume %.2f out of range [%.1f, %.1f]", i, s.Title, v, MinVolume, MaxVolume))
		}
		c.byTitle[key] = s
		c.sounds = append(c.sounds, s)

		// Triggers that normalize alike index the sound once.
		indexed := make(map[string]bool, len(s.Triggers))
		for _, t := range s.Triggers {
			words := Words(t)
			key := strings.Join(words, " ")
			if len(words) > 0 && indexed[key] {
				continue
			}
			indexed[key] = true
			switch len(words) {
			case 0:
				errs = append(errs, fmt.Errorf("sounds[%d] %q: trigger %q has no words", i, s.Title, t))
			case 1:
				c.byWord[words[0]] = append(c.byWord[words[0]], s)
			default:
				if _, seen := c.byPhrase[key]; !seen {
					c.phrases = append(c.phrases, Phrase{Text: key, Words: words})
				}
				c.byPhrase[key] = append(c.byPhrase[key], s)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	slices.SortFunc(c.phrases, func(a, b Phrase) int {
		if n := cmp.Compare(len(b.Words), len(a.Words)); n != 0 {
			return n
		}
		return strings.Compare(a.Text, b.Text)
	})
	return c, nil
}

// Load reads the catalog file at path. Relative sound paths resolve against
// soundsDir, or against the directory of path when soundsDir is empty.
func Load(path, soundsDir string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", path, err)
	}
	if soundsDir == "" {
		soundsDir = filepath.Dir(path)
	}
	return Parse(data, soundsDir)
}

// Parse decodes a YAML catalog. Unknown fields are rejected.
func Parse(data []byte, soundsDir string) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	for i := range doc.Sounds {
		p := doc.Sounds[i].Path
		if p != "" && soundsDir != "" && !filepath.IsAbs(p) {
			doc.Sounds[i].Path = filepath.Join(soundsDir, p)
		}
	}
	return New(doc.Sounds)
}

// Words lowercases s, drops apostrophes inside words, turns every other
// non-alphanumeric rune into a separator and splits on whitespace.
func Words(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '\'' || r == '’':
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// LookupByTrigger returns the sounds bound to a single-word trigger.
func (c *Catalog) LookupByTrigger(word string) []Sound {
	if c == nil {
		return nil
	}
	return c.byWord[word]
}

// LookupByPhrase returns the sounds bound to a normalized multi-word trigger.
func (c *Catalog) LookupByPhrase(phrase string) []Sound {
	if c == nil {
		return nil
	}
	return c.byPhrase[phrase]
}

// Phrases returns the multi-word triggers, longest first, ties ordered
// lexically. The returned slice must not be modified.
func (c *Catalog) Phrases() []Phrase {
	if c == nil {
		return nil
	}
	return c.phrases
}

// ByTitle finds a sound by case-insensitive title.
func (c *Catalog) ByTitle(title string) (Sound, bool) {
	if c == nil {
		return Sound{}, false
	}
	s, ok := c.byTitle[strings.ToLower(strings.TrimSpace(title))]
	return s, ok
}

// Sounds returns every sound in file order.
func (c *Catalog) Sounds() []Sound {
	if c == nil {
		return nil
	}
	return slices.Clone(c.sounds)
}

// Len returns the number of sounds.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.sounds)
}

// Store holds the current catalog. The zero value holds no catalog and every
// lookup through it finds nothing.
type Store struct {
	cur atomic.Pointer[Catalog]
}

// NewStore returns a Store holding c.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	s.cur.Store(c)
	return s
}

// Current returns the catalog in effect, or nil before the first Swap.
func (s *Store) Current() *Catalog {
	return s.cur.Load()
}

// Swap installs c and returns the previous catalog.
func (s *Store) Swap(c *Catalog) *Catalog {
	return s.cur.Swap(c)
}

// Loaded reports whether a catalog is installed. It backs the readiness
// check.
func (s *Store) Loaded() bool {
	return s.cur.Load() != nil
}
