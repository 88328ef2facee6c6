package storage

import "context"

// IndexStore is the contract over the external vector database. An
// existence check returns (bool, error): (true, nil) means indexed,
// (false, nil) means absent, and a non-nil error means the check itself
// failed. The three states are never conflated.
type IndexStore interface {
	UpsertChunks(ctx context.Context, chunks []*Chunk) error
	DeleteByRefDocID(ctx context.Context, refDocID string) (int, error)
	Exists(ctx context.Context, refDocID string) (bool, error)
	Query(ctx context.Context, params QueryParams) ([]*ScoredChunk, error)
	Count(ctx context.Context) (uint64, error)
}
