package catalog_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/catalog"
)

const catalogYAML = `
sounds:
  - title: Airhorn
    path: airhorn.dca
    triggers: [horn, "air horn"]
  - title: Sad Trombone
    path: /abs/trombone.wav
    volume: 0.8
    triggers: ["what the fuck", "wah wah"]
  - title: Explosion
    path: boom.wav
    triggers: [bomb, boom]
  - title: Big Explosion
    path: bigboom.wav
    triggers: [bomb]
  - title: Rimshot
    path: rimshot.wav
    triggers: ["Don't Stop Me Now!"]
`

func mustParse(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(catalogYAML), "/sounds")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

func titles(sounds []catalog.Sound) []string {
	out := make([]string, len(sounds))
	for i, s := range sounds {
		out[i] = s.Title
	}
	return out
}

func TestWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"What the FUCK?!", []string{"what", "the", "fuck"}},
		{"don't stop", []string{"dont", "stop"}},
		{"it’s   fine", []string{"its", "fine"}},
		{"a-b,c.d", []string{"a", "b", "c", "d"}},
		{"", nil},
		{" ... ", nil},
	}
	for _, tt := range tests {
		got := catalog.Words(tt.in)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Words(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse_Indexes(t *testing.T) {
	t.Parallel()
	c := mustParse(t)

	if got := titles(c.LookupByTrigger("bomb")); !slices.Equal(got, []string{"Explosion", "Big Explosion"}) {
		t.Errorf("bomb = %v", got)
	}
	if got := titles(c.LookupByPhrase("what the fuck")); !slices.Equal(got, []string{"Sad Trombone"}) {
		t.Errorf("phrase = %v", got)
	}
	if got := c.LookupByTrigger("what"); got != nil {
		t.Errorf("phrase word leaked into word index: %v", got)
	}
	if got := titles(c.LookupByPhrase("dont stop me now")); !slices.Equal(got, []string{"Rimshot"}) {
		t.Errorf("normalized phrase = %v", got)
	}
	if c.Len() != 5 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestParse_ResolvesPathsAndDefaults(t *testing.T) {
	t.Parallel()
	c := mustParse(t)

	air, ok := c.ByTitle("airhorn")
	if !ok {
		t.Fatal("ByTitle(airhorn) not found")
	}
	if air.Path != filepath.Join("/sounds", "airhorn.dca") {
		t.Errorf("path = %q", air.Path)
	}
	if air.Volume != nil || air.Gain() != 1 {
		t.Errorf("default volume = %v", air.Gain())
	}
	tb, _ := c.ByTitle("  SAD TROMBONE ")
	if tb.Path != "/abs/trombone.wav" || tb.Gain() != 0.8 {
		t.Errorf("trombone = %+v", tb)
	}
}

func TestPhrases_LongestFirst(t *testing.T) {
	t.Parallel()
	c := mustParse(t)

	var got []string
	for _, p := range c.Phrases() {
		got = append(got, p.Text)
	}
	want := []string{"dont stop me now", "what the fuck", "air horn", "wah wah"}
	if !slices.Equal(got, want) {
		t.Errorf("Phrases = %q, want %q", got, want)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sounds  []catalog.Sound
		wantErr string
	}{
		{"no title", []catalog.Sound{{Path: "a"}}, "title is required"},
		{"no path", []catalog.Sound{{Title: "a"}}, "path is required"},
		{"duplicate", []catalog.Sound{{Title: "A", Path: "a"}, {Title: "a", Path: "b"}}, "duplicate"},
		{"loud", []catalog.Sound{{Title: "a", Path: "a", Volume: volume(2.5)}}, "out of range"},
		{"negative", []catalog.Sound{{Title: "a", Path: "a", Volume: volume(-0.1)}}, "out of range"},
		{"empty trigger", []catalog.Sound{{Title: "a", Path: "a", Triggers: []string{"?!"}}}, "no words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := catalog.New(tt.sounds)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("New = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_ZeroVolumeMutes(t *testing.T) {
	t.Parallel()
	c, err := catalog.Parse([]byte("sounds:\n  - title: Silent\n    path: s.wav\n    volume: 0\n"), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, _ := c.ByTitle("silent")
	if s.Volume == nil || s.Gain() != 0 {
		t.Errorf("volume 0 loaded as %v", s.Gain())
	}
}

func TestNew_TriggersNormalizingAlikeIndexOnce(t *testing.T) {
	t.Parallel()
	c, err := catalog.New([]catalog.Sound{
		{Title: "Explosion", Path: "e.wav", Triggers: []string{"bomb", "Bomb!", "big bang", "BIG, bang"}},
		{Title: "Big Explosion", Path: "b.wav", Triggers: []string{"bomb"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := titles(c.LookupByTrigger("bomb")); !slices.Equal(got, []string{"Explosion", "Big Explosion"}) {
		t.Errorf("bomb = %v", got)
	}
	if got := titles(c.LookupByPhrase("big bang")); !slices.Equal(got, []string{"Explosion"}) {
		t.Errorf("big bang = %v", got)
	}
	if n := len(c.Phrases()); n != 1 {
		t.Errorf("phrases = %d, want 1", n)
	}
}

func volume(v float64) *float64 { return &v }

func TestParse_UnknownField(t *testing.T) {
	t.Parallel()
	if _, err := catalog.Parse([]byte("sounds: []\nplays: 3\n"), ""); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, _ := c.ByTitle("Explosion")
	if s.Path != filepath.Join(dir, "boom.wav") {
		t.Errorf("path = %q, want relative to catalog dir", s.Path)
	}
	if _, err := catalog.Load(filepath.Join(dir, "missing.yaml"), ""); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestNilCatalogFindsNothing(t *testing.T) {
	t.Parallel()
	var c *catalog.Catalog
	if c.LookupByTrigger("x") != nil || c.LookupByPhrase("x y") != nil || c.Phrases() != nil || c.Len() != 0 {
		t.Error("nil catalog returned data")
	}
	if _, ok := c.ByTitle("x"); ok {
		t.Error("nil catalog ByTitle found something")
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	c := mustParse(t)

	if got := titles(c.Suggest("explo", 2)); !slices.Equal(got, []string{"Big Explosion", "Explosion"}) {
		t.Errorf("substring = %v", got)
	}
	if got := titles(c.Suggest("rimshott", 1)); !slices.Equal(got, []string{"Rimshot"}) {
		t.Errorf("typo = %v", got)
	}
	if got := titles(c.Suggest("", 3)); !slices.Equal(got, []string{"Airhorn", "Big Explosion", "Explosion"}) {
		t.Errorf("empty query = %v", got)
	}
	if got := c.Suggest("x", 0); got != nil {
		t.Errorf("n=0 = %v", got)
	}
	if got := c.Suggest("a", 50); len(got) != 5 {
		t.Errorf("n>len = %d results", len(got))
	}
}

func TestStore(t *testing.T) {
	t.Parallel()
	var s catalog.Store
	if s.Loaded() || s.Current() != nil {
		t.Fatal("zero Store has a catalog")
	}
	c := mustParse(t)
	if prev := s.Swap(c); prev != nil {
		t.Errorf("first Swap returned %v", prev)
	}
	if !s.Loaded() || s.Current() != c {
		t.Error("Swap did not install catalog")
	}
	if catalog.NewStore(c).Current() != c {
		t.Error("NewStore")
	}
}
