package storage

import "errors"

var (
	// ErrIndexUnavailable marks a vector store that cannot be reached.
	// Retrieval and ingestion both propagate it instead of returning empty
	// results, so callers can tell "no matches" from "store unreachable".
	ErrIndexUnavailable = errors.New("vector index unavailable")

	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
