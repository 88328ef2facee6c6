// Package indexer owns the incremental index-maintenance policy: per
// document it decides whether to embed, re-embed or skip, and it replaces
// chunk sets whole, never partially.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/1475505/Miliastra-toolbox/internal/document"
	"github.com/1475505/Miliastra-toolbox/internal/markdown"
	"github.com/1475505/Miliastra-toolbox/internal/source"
	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

// ErrEmptyDocument marks a document whose body produced zero chunks.
// Such documents are counted as failures, not silently dropped.
var ErrEmptyDocument = errors.New("document produced no chunks")

// Embedder is the slice of the embedding service the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Outcome describes what happened to one document.
type Outcome string

const (
	OutcomeEmbedded   Outcome = "embedded"
	OutcomeReembedded Outcome = "reembedded"
	OutcomeSkipped    Outcome = "skipped"
)

// Summary reports one sync run. Processed counts first-time embeds,
// Updated counts forced re-embeds; running sync twice on an unchanged
// corpus therefore yields Processed=0 on the second run.
type Summary struct {
	Processed int
	Updated   int
	Skipped   int
	Errors    int
	Chunks    int
	Failed    []FailedDoc
	Duration  time.Duration
}

// FailedDoc records a document that could not be indexed.
type FailedDoc struct {
	DocID  string
	Path   string
	Reason string
}

// Indexer wires the chunker, the embedding service and the index store.
type Indexer struct {
	chunker  *markdown.Chunker
	embedder Embedder
	store    storage.IndexStore
	logger   *slog.Logger
}

// New creates an Indexer.
func New(chunker *markdown.Chunker, embedder Embedder, store storage.IndexStore, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Sync ingests every document of every source. A single document's failure
// is recorded and the batch continues; a source that cannot be listed at
// all aborts the run.
func (ix *Indexer) Sync(ctx context.Context, sources []source.Source, force bool) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	for _, src := range sources {
		docs, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load source %s: %w", src.Name(), err)
		}
		ix.logger.Info("loaded source", "source", src.Name(), "documents", len(docs))

		for _, doc := range docs {
			outcome, chunks, err := ix.embedOne(ctx, doc, force)
			if err != nil {
				ix.logger.Warn("failed to index document", "doc_id", doc.DocID, "error", err)
				summary.Errors++
				summary.Failed = append(summary.Failed, FailedDoc{
					DocID:  doc.DocID,
					Path:   doc.Path,
					Reason: err.Error(),
				})
				continue
			}
			summary.Chunks += chunks
			switch outcome {
			case OutcomeEmbedded:
				summary.Processed++
			case OutcomeReembedded:
				summary.Updated++
			case OutcomeSkipped:
				summary.Skipped++
			}
		}
	}

	summary.Duration = time.Since(start)
	ix.logger.Info("sync complete",
		"processed", summary.Processed,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"chunks", summary.Chunks,
		"duration", summary.Duration,
	)
	return summary, nil
}

// EmbedOne indexes a single document, applying the decision table:
// a global force re-embeds unconditionally; an unknown doc_id embeds;
// a frontmatter force re-embeds; everything else is skipped.
func (ix *Indexer) EmbedOne(ctx context.Context, doc *document.Document, force bool) (Outcome, error) {
	outcome, _, err := ix.embedOne(ctx, doc, force)
	return outcome, err
}

func (ix *Indexer) embedOne(ctx context.Context, doc *document.Document, force bool) (Outcome, int, error) {
	exists, err := ix.store.Exists(ctx, doc.DocID)
	if err != nil {
		// An unreachable store is a failed check, not "not indexed".
		return "", 0, err
	}

	if exists && !force && !doc.ForceReembed() {
		ix.logger.Debug("skipping document", "doc_id", doc.DocID, "reason", "already indexed, no force flag")
		return OutcomeSkipped, 0, nil
	}

	chunks, err := ix.chunker.Chunk(doc.Body)
	if err != nil {
		return "", 0, fmt.Errorf("chunk: %w", err)
	}
	if len(chunks) == 0 {
		return "", 0, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.DocID)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	embeddings, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return "", 0, fmt.Errorf("embed: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return "", 0, fmt.Errorf("embed: got %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	// Replacement is delete-before-insert for the whole sibling set, so a
	// concurrent reader sees the old complete set or the new one. A brief
	// empty window is acceptable, a mixed one is not.
	if exists {
		deleted, err := ix.store.DeleteByRefDocID(ctx, doc.DocID)
		if err != nil {
			return "", 0, fmt.Errorf("delete existing chunks: %w", err)
		}
		ix.logger.Debug("replaced document", "doc_id", doc.DocID, "old_chunks", deleted, "new_chunks", len(chunks))
	}

	records := make([]*storage.Chunk, len(chunks))
	for i, chunk := range chunks {
		records[i] = &storage.Chunk{
			ID:           uuid.New().String(),
			RefDocID:     doc.DocID,
			Ordinal:      chunk.Ordinal,
			SectionTitle: chunk.SectionTitle,
			Text:         chunk.Text,
			Title:        doc.Title(),
			URL:          doc.URL(),
			SourceDir:    doc.SourceDir,
			Path:         doc.Path,
			Extra:        extraMetadata(doc.Metadata),
			Embedding:    embeddings[i],
		}
	}
	if err := ix.store.UpsertChunks(ctx, records); err != nil {
		return "", 0, fmt.Errorf("upsert chunks: %w", err)
	}

	if exists {
		return OutcomeReembedded, len(records), nil
	}
	return OutcomeEmbedded, len(records), nil
}

// extraMetadata carries frontmatter fields that have no dedicated column.
func extraMetadata(meta map[string]any) map[string]string {
	known := map[string]bool{
		"doc_id": true, "title": true, "url": true,
		"force": true, "force_reembed": true,
	}
	var extra map[string]string
	for k, v := range meta {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[k] = fmt.Sprint(v)
	}
	return extra
}
