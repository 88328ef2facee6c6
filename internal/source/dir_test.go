package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSource_Load(t *testing.T) {
	root := filepath.Join(t.TempDir(), "official")
	writeFile(t, root, "b.md", "# B\n\nBeta.")
	writeFile(t, root, "a.md", "---\ntitle: Alpha\n---\n# A\n\nAlpha.")
	writeFile(t, root, "nested/c.md", "# C\n\nGamma.")
	writeFile(t, root, "ignored.txt", "not markdown")

	src := NewDirSource(root)
	if src.Name() != "official" {
		t.Errorf("Name: got %q", src.Name())
	}

	docs, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(docs))
	}

	// Path order makes repeated loads identical.
	if docs[0].Path != "a.md" || docs[1].Path != "b.md" || docs[2].Path != "nested/c.md" {
		t.Errorf("Document order: %s, %s, %s", docs[0].Path, docs[1].Path, docs[2].Path)
	}

	if docs[0].Title() != "Alpha" {
		t.Errorf("Frontmatter title: got %q", docs[0].Title())
	}
	if docs[0].Body != "# A\n\nAlpha." {
		t.Errorf("Frontmatter should be stripped from the body: %q", docs[0].Body)
	}
	if docs[0].DocID != "official/a.md" {
		t.Errorf("DocID: got %q", docs[0].DocID)
	}
	for _, d := range docs {
		if d.SourceDir != "official" {
			t.Errorf("SourceDir: got %q for %s", d.SourceDir, d.Path)
		}
	}
}
