// Package retriever provides source-biased fused retrieval over the index.
//
// One provenance class of content (community-contributed) must not dominate
// results over curated content, but may still fill gaps when curated
// content is sparse. The fused retriever runs one similarity query per
// class and merges them under slot-allocation and backfill rules.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

// Retriever is the single capability interface every concrete retriever
// implements; callers never probe for alternative method names.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]*storage.ScoredChunk, error)
}

// Embedder is the slice of the embedding service retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Fused biases retrieval toward the curated source class while reserving
// up to preferredMax slots for the preferred-but-capped class.
type Fused struct {
	store         storage.IndexStore
	embedder      Embedder
	totalK        int
	preferredMax  int
	cutoff        float32
	preferredDirs []string
}

// NewFused creates a fused retriever. preferredMax is clamped to totalK.
func NewFused(store storage.IndexStore, embedder Embedder, totalK, preferredMax int, cutoff float32, preferredDirs []string) *Fused {
	if totalK <= 0 {
		totalK = 5
	}
	if preferredMax < 0 {
		preferredMax = 0
	}
	if preferredMax > totalK {
		preferredMax = totalK
	}
	return &Fused{
		store:         store,
		embedder:      embedder,
		totalK:        totalK,
		preferredMax:  preferredMax,
		cutoff:        cutoff,
		preferredDirs: preferredDirs,
	}
}

// Retrieve returns at most totalK chunks: curated results first in
// descending similarity order up to totalK-preferredMax slots, then
// community results, then curated backfill for any unused slots. Zero
// candidates from both classes is an empty result, not an error; an
// unreachable store propagates.
func (f *Fused) Retrieve(ctx context.Context, query string) ([]*storage.ScoredChunk, error) {
	vectors, err := f.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vector := vectors[0]

	// The two class-scoped queries are independent reads; run them
	// concurrently and fail the whole retrieval if either store call
	// fails, so "no matches" never masks "store unreachable".
	var curated, community []*storage.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		curated, err = f.store.Query(gctx, storage.QueryParams{
			Vector:            vector,
			TopK:              f.totalK,
			ScoreThreshold:    f.cutoff,
			ExcludeSourceDirs: f.preferredDirs,
		})
		return err
	})
	if f.preferredMax > 0 {
		g.Go(func() error {
			var err error
			community, err = f.store.Query(gctx, storage.QueryParams{
				Vector:         vector,
				TopK:           f.preferredMax,
				ScoreThreshold: f.cutoff,
				SourceDirs:     f.preferredDirs,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortByScore(curated)
	sortByScore(community)

	reserved := f.totalK - f.preferredMax

	// A chunk must never appear twice even if both queries returned it
	// due to misconfigured source tagging.
	seen := make(map[string]bool)
	out := make([]*storage.ScoredChunk, 0, f.totalK)
	take := func(candidates []*storage.ScoredChunk, limit int) {
		for _, c := range candidates {
			if len(out) >= limit {
				return
			}
			if seen[c.Chunk.ID] {
				continue
			}
			seen[c.Chunk.ID] = true
			out = append(out, c)
		}
	}

	take(curated, reserved)
	take(community, f.totalK)
	take(curated, f.totalK) // backfill when community came up short

	return out, nil
}

// sortByScore orders candidates by descending similarity. The sort is
// stable so equal scores keep the store's ordering.
func sortByScore(chunks []*storage.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})
}
