// Package storage implements the IndexStore contract on Qdrant.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantStore wraps the Qdrant client with connection management and
// health checks.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorDim  uint64
}

// NewQdrantStore creates a Qdrant-backed store and verifies the server is
// reachable, retrying with exponential backoff before failing fast.
func NewQdrantStore(host string, port int, collection string, vectorDim uint64) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: collection,
		vectorDim:  vectorDim,
	}

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return s, nil
}

// healthCheckWithRetry probes Qdrant with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes if
// missing. Idempotent.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", ErrIndexUnavailable, err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return s.createPayloadIndexes(ctx)
}

// createPayloadIndexes indexes the filterable keyword fields. Without them
// filtered queries degrade badly on large collections.
func (s *QdrantStore) createPayloadIndexes(ctx context.Context) error {
	for _, field := range []string{"ref_doc_id", "source_dir"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create index for field %s: %w", field, err)
		}
	}
	return nil
}

// ClearCollection drops and recreates the collection.
func (s *QdrantStore) ClearCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return s.EnsureCollection(ctx)
}

// Close closes the client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// UpsertChunks stores chunks with embeddings, batched in groups of 100.
func (s *QdrantStore) UpsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, chunk := range chunks {
		if uint64(len(chunk.Embedding)) != s.vectorDim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), s.vectorDim)
		}
	}

	const batchSize = 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))
		batch := chunks[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, chunk := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(chunk.ID),
				Vectors: qdrant.NewVectors(chunk.Embedding...),
				Payload: qdrant.NewValueMap(chunkPayload(chunk)),
			}
		}
		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// upsertWithRetry performs the upsert with exponential backoff.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// DeleteByRefDocID removes every chunk belonging to one document and
// returns how many records were removed. Deleting the full sibling set in
// one selector is what keeps concurrent readers from ever seeing a mixed
// old/new chunk set: they observe the old complete set, a brief empty
// window, or the new complete set.
func (s *QdrantStore) DeleteByRefDocID(ctx context.Context, refDocID string) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("ref_doc_id", refDocID)},
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count before delete: %v", ErrIndexUnavailable, err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete by ref_doc_id: %v", ErrIndexUnavailable, err)
	}
	return int(count), nil
}

// Exists reports whether any chunk of the given document is indexed.
// A transport failure is returned as an error, never as "not found".
func (s *QdrantStore) Exists(ctx context.Context, refDocID string) (bool, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("ref_doc_id", refDocID)},
		},
		Exact: qdrant.PtrOf(true),
	})
	if err != nil {
		return false, fmt.Errorf("%w: existence check: %v", ErrIndexUnavailable, err)
	}
	return count > 0, nil
}

// Count returns the total number of indexed chunks.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrIndexUnavailable, err)
	}
	return count, nil
}

// Query runs a similarity search. If the server rejects the source filter
// as unsupported, the query is retried unfiltered and out-of-class results
// are discarded locally.
func (s *QdrantStore) Query(ctx context.Context, params QueryParams) ([]*ScoredChunk, error) {
	if uint64(len(params.Vector)) != s.vectorDim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(params.Vector), s.vectorDim)
	}

	var filter *qdrant.Filter
	if len(params.SourceDirs) > 0 || len(params.ExcludeSourceDirs) > 0 {
		filter = &qdrant.Filter{}
		if len(params.SourceDirs) > 0 {
			filter.Must = []*qdrant.Condition{qdrant.NewMatchKeywords("source_dir", params.SourceDirs...)}
		}
		if len(params.ExcludeSourceDirs) > 0 {
			filter.MustNot = []*qdrant.Condition{qdrant.NewMatchKeywords("source_dir", params.ExcludeSourceDirs...)}
		}
	}

	results, err := s.query(ctx, params, filter, params.TopK)
	if err != nil && filter != nil && filterUnsupported(err) {
		// Unsupported filter expression: over-fetch unfiltered and apply
		// the class restriction locally.
		results, err = s.query(ctx, params, nil, params.TopK*3)
		if err == nil {
			results = filterBySourceDir(results, params.SourceDirs, params.ExcludeSourceDirs, params.TopK)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrIndexUnavailable, err)
	}

	chunks := make([]*ScoredChunk, 0, len(results))
	for _, point := range results {
		chunks = append(chunks, &ScoredChunk{
			Chunk: chunkFromPayload(point.Id.GetUuid(), point.Payload),
			Score: point.Score,
		})
	}
	return chunks, nil
}

// filterUnsupported reports whether the server rejected the filter itself,
// either as a malformed expression or as an unimplemented API.
func filterUnsupported(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unimplemented:
		return true
	}
	return false
}

func (s *QdrantStore) query(ctx context.Context, params QueryParams, filter *qdrant.Filter, limit int) ([]*qdrant.ScoredPoint, error) {
	return s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(params.Vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(params.ScoreThreshold),
		WithPayload:    qdrant.NewWithPayload(true),
	})
}

func filterBySourceDir(points []*qdrant.ScoredPoint, include, exclude []string, limit int) []*qdrant.ScoredPoint {
	allowed := make(map[string]bool, len(include))
	for _, d := range include {
		allowed[d] = true
	}
	denied := make(map[string]bool, len(exclude))
	for _, d := range exclude {
		denied[d] = true
	}
	var out []*qdrant.ScoredPoint
	for _, p := range points {
		dir := p.Payload["source_dir"].GetStringValue()
		if denied[dir] || (len(allowed) > 0 && !allowed[dir]) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

func chunkPayload(chunk *Chunk) map[string]any {
	payload := map[string]any{
		"ref_doc_id":    chunk.RefDocID,
		"ordinal":       chunk.Ordinal,
		"section_title": chunk.SectionTitle,
		"text":          chunk.Text,
		"title":         chunk.Title,
		"url":           chunk.URL,
		"source_dir":    chunk.SourceDir,
		"path":          chunk.Path,
	}
	if len(chunk.Extra) > 0 {
		extra := make(map[string]any, len(chunk.Extra))
		for k, v := range chunk.Extra {
			extra[k] = v
		}
		payload["extra"] = extra
	}
	return payload
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) *Chunk {
	chunk := &Chunk{
		ID:           id,
		RefDocID:     payload["ref_doc_id"].GetStringValue(),
		Ordinal:      int(payload["ordinal"].GetIntegerValue()),
		SectionTitle: payload["section_title"].GetStringValue(),
		Text:         payload["text"].GetStringValue(),
		Title:        payload["title"].GetStringValue(),
		URL:          payload["url"].GetStringValue(),
		SourceDir:    payload["source_dir"].GetStringValue(),
		Path:         payload["path"].GetStringValue(),
	}
	if extra := payload["extra"].GetStructValue(); extra != nil {
		chunk.Extra = make(map[string]string, len(extra.Fields))
		for k, v := range extra.Fields {
			chunk.Extra[k] = v.GetStringValue()
		}
	}
	return chunk
}
