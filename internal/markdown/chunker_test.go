package markdown

import (
	"strings"
	"testing"
	"unicode"
)

// TestChunk_TopLevelSections verifies that splitting happens at H1
// boundaries only, keeping sub-headings with their section.
func TestChunk_TopLevelSections(t *testing.T) {
	input := `# Getting Started

Introduction text here.

## Installation

Install steps here.

# Configuration

Config details here.
`

	chunker := NewChunker(2048, 200)
	chunks, err := chunker.Chunk(input)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].SectionTitle != "Getting Started" {
		t.Errorf("Chunk 0 section: expected 'Getting Started', got %q", chunks[0].SectionTitle)
	}
	if !strings.Contains(chunks[0].Text, "Install steps here") {
		t.Errorf("Chunk 0 should keep the H2 subsection with its H1 section")
	}
	if chunks[1].SectionTitle != "Configuration" {
		t.Errorf("Chunk 1 section: expected 'Configuration', got %q", chunks[1].SectionTitle)
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("Chunk %d ordinal: expected %d, got %d", i, i, c.Ordinal)
		}
	}
}

// TestChunk_Coverage checks that concatenating chunk texts reproduces the
// body modulo whitespace.
func TestChunk_Coverage(t *testing.T) {
	input := `Preamble before any heading.

# First

Some text with a table:

| a | b |
|---|---|
| 1 | 2 |

# Second

` + "```go\ncode := \"fenced # not a heading\"\n```" + `

Closing words.
`

	chunker := NewChunker(2048, 200)
	chunks, err := chunker.Chunk(input)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Text)
	}
	if stripSpace(joined.String()) != stripSpace(input) {
		t.Errorf("Concatenated chunks do not reproduce the body:\n%q\nvs\n%q",
			joined.String(), input)
	}

	if chunks[0].SectionTitle != "" {
		t.Errorf("Preamble chunk should have no section title, got %q", chunks[0].SectionTitle)
	}
	if !strings.Contains(chunks[len(chunks)-1].Text, "fenced # not a heading") {
		t.Errorf("Code fence content must stay inside its section")
	}
}

func TestChunk_NoHeadings(t *testing.T) {
	input := "Just a paragraph of text.\n\nAnd another one."

	chunker := NewChunker(2048, 200)
	chunks, err := chunker.Chunk(input)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if len(chunks) != 1 {
		t.Fatalf("Expected exactly 1 chunk for a headingless body, got %d", len(chunks))
	}
	if chunks[0].Text != strings.TrimSpace(input) {
		t.Errorf("Headingless chunk should equal the whole body, got %q", chunks[0].Text)
	}
	if chunks[0].SectionTitle != "" {
		t.Errorf("Headingless chunk should have no section title")
	}
}

func TestChunk_EmptyBody(t *testing.T) {
	chunker := NewChunker(2048, 200)

	for _, body := range []string{"", "   \n\t\n"} {
		chunks, err := chunker.Chunk(body)
		if err != nil {
			t.Fatalf("Chunk(%q) failed: %v", body, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Chunk(%q): expected 0 chunks, got %d", body, len(chunks))
		}
	}
}

// TestChunk_OversizeSection verifies secondary splitting with overlap.
func TestChunk_OversizeSection(t *testing.T) {
	var body strings.Builder
	body.WriteString("# Big Section\n\n")
	for i := 0; i < 40; i++ {
		body.WriteString("This sentence pads the section well past the configured maximum size. ")
	}

	chunker := NewChunker(200, 50)
	chunks, err := chunker.Chunk(body.String())
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks for an oversize section, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c.Text)); n > 200 {
			t.Errorf("Chunk %d has %d runes, exceeds max 200", i, n)
		}
		if c.SectionTitle != "Big Section" {
			t.Errorf("Chunk %d lost its section title: %q", i, c.SectionTitle)
		}
	}

	// Adjacent pieces share an overlap: the second chunk starts with text
	// already present at the end of the first.
	head := strings.Fields(chunks[1].Text)[0]
	if !strings.Contains(chunks[0].Text, head) {
		t.Errorf("Expected overlap between adjacent sub-chunks")
	}
}

func TestChunk_Deterministic(t *testing.T) {
	input := `# One

First section text.

# Two

Second section text with more words in it.
`

	chunker := NewChunker(2048, 200)
	first, err := chunker.Chunk(input)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := chunker.Chunk(input)
		if err != nil {
			t.Fatalf("Chunk failed on run %d: %v", i, err)
		}
		if len(again) != len(first) {
			t.Fatalf("Run %d produced %d chunks, first run produced %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Errorf("Run %d chunk %d differs: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
