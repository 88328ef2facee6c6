package document

import "testing"

func TestNew_DocIDFromPath(t *testing.T) {
	doc := New("official", "guides/scripting.md", "body", nil)

	if doc.DocID != "official/guides/scripting.md" {
		t.Errorf("DocID: got %q", doc.DocID)
	}

	// Derivation is stable: the same inputs always yield the same identity.
	again := New("official", "guides/scripting.md", "other body", nil)
	if again.DocID != doc.DocID {
		t.Errorf("DocID changed between runs: %q vs %q", again.DocID, doc.DocID)
	}
}

func TestNew_DocIDFromFrontmatter(t *testing.T) {
	doc := New("official", "guides/scripting.md", "body", map[string]any{
		"doc_id": "scripting-guide",
	})

	if doc.DocID != "scripting-guide" {
		t.Errorf("Explicit doc_id should win, got %q", doc.DocID)
	}
}

func TestTitle_Fallback(t *testing.T) {
	withTitle := New("official", "guides/scripting.md", "", map[string]any{"title": "Scripting"})
	if withTitle.Title() != "Scripting" {
		t.Errorf("Title: got %q", withTitle.Title())
	}

	without := New("official", "guides/scripting.md", "", nil)
	if without.Title() != "scripting" {
		t.Errorf("Fallback title should be the file name, got %q", without.Title())
	}
}

func TestForceReembed_TruthySpellings(t *testing.T) {
	cases := []struct {
		value any
		want  bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"True", true},
		{"false", false},
		{"yes", false}, // not a ParseBool spelling
		{1, true},
		{0, false},
		{float64(1), true},
		{nil, false},
	}
	for _, c := range cases {
		doc := New("official", "a.md", "", map[string]any{"force_reembed": c.value})
		if got := doc.ForceReembed(); got != c.want {
			t.Errorf("ForceReembed(%v): got %v, want %v", c.value, got, c.want)
		}
	}

	// The short spelling works too.
	doc := New("official", "a.md", "", map[string]any{"force": true})
	if !doc.ForceReembed() {
		t.Errorf("force=true should request re-embedding")
	}
}
