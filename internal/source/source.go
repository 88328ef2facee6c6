// Package source provides document sources for ingestion: local knowledge
// directories and GitHub-hosted corpora.
package source

import (
	"context"

	"github.com/1475505/Miliastra-toolbox/internal/document"
)

// Source yields the documents of one corpus directory. Name is the
// provenance tag recorded on every document it produces.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]*document.Document, error)
}
