// Package document defines the logical source unit of the knowledge base.
package document

import (
	"path"
	"strconv"
	"strings"
)

// Document is one source file of the corpus. It is created when a source is
// read and never mutated in place: re-ingestion replaces it wholesale.
type Document struct {
	// DocID is the stable identity. It comes from an explicit frontmatter
	// doc_id field when present, otherwise from the source path. It is the
	// dedup and versioned-replacement key and must never change between
	// runs for an unchanged source.
	DocID string

	// Body is the markdown text with the frontmatter block already removed.
	Body string

	// Metadata holds the parsed frontmatter fields (title, url,
	// force_reembed, arbitrary extras).
	Metadata map[string]any

	// SourceDir is the provenance tag, e.g. "official" or "user_contrib".
	SourceDir string

	// Path is the source-relative path, kept for reporting.
	Path string
}

// New builds a Document, deriving DocID from metadata or the source path.
func New(sourceDir, relPath, body string, metadata map[string]any) *Document {
	if metadata == nil {
		metadata = map[string]any{}
	}
	doc := &Document{
		Body:      body,
		Metadata:  metadata,
		SourceDir: sourceDir,
		Path:      relPath,
	}
	if id, ok := metadata["doc_id"].(string); ok && id != "" {
		doc.DocID = id
	} else {
		doc.DocID = path.Join(sourceDir, relPath)
	}
	return doc
}

// Title returns the frontmatter title, falling back to the file name.
func (d *Document) Title() string {
	if t, ok := d.Metadata["title"].(string); ok && t != "" {
		return t
	}
	return strings.TrimSuffix(path.Base(d.Path), path.Ext(d.Path))
}

// URL returns the frontmatter url, if any.
func (d *Document) URL() string {
	u, _ := d.Metadata["url"].(string)
	return u
}

// ForceReembed reports whether the document's own frontmatter requests
// re-embedding. Accepts bool, string and numeric truthy spellings since
// frontmatter authors are not consistent.
func (d *Document) ForceReembed() bool {
	return truthy(d.Metadata["force_reembed"]) || truthy(d.Metadata["force"])
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.ToLower(t))
		return err == nil && b
	case int:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}
