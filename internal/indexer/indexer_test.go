package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/1475505/Miliastra-toolbox/internal/document"
	"github.com/1475505/Miliastra-toolbox/internal/markdown"
	"github.com/1475505/Miliastra-toolbox/internal/source"
	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

// memStore is an in-memory IndexStore keyed by ref_doc_id.
type memStore struct {
	chunks     map[string][]*storage.Chunk
	existsErr  error
	upsertErrs map[string]error
}

func newMemStore() *memStore {
	return &memStore{chunks: map[string][]*storage.Chunk{}}
}

func (m *memStore) UpsertChunks(ctx context.Context, chunks []*storage.Chunk) error {
	for _, c := range chunks {
		if err := m.upsertErrs[c.RefDocID]; err != nil {
			return err
		}
	}
	for _, c := range chunks {
		m.chunks[c.RefDocID] = append(m.chunks[c.RefDocID], c)
	}
	return nil
}

func (m *memStore) DeleteByRefDocID(ctx context.Context, refDocID string) (int, error) {
	n := len(m.chunks[refDocID])
	delete(m.chunks, refDocID)
	return n, nil
}

func (m *memStore) Exists(ctx context.Context, refDocID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return len(m.chunks[refDocID]) > 0, nil
}

func (m *memStore) Query(ctx context.Context, params storage.QueryParams) ([]*storage.ScoredChunk, error) {
	return nil, nil
}

func (m *memStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	for _, cs := range m.chunks {
		n += uint64(len(cs))
	}
	return n, nil
}

// fakeEmbedder returns a constant vector per text.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// stubSource serves a fixed document set.
type stubSource struct {
	name string
	docs []*document.Document
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Load(ctx context.Context) ([]*document.Document, error) {
	return s.docs, nil
}

func testDoc(id, body string, meta map[string]any) *document.Document {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["doc_id"] = id
	return document.New("official", id+".md", body, meta)
}

func newTestIndexer(store storage.IndexStore) *Indexer {
	return New(markdown.NewChunker(2048, 200), fakeEmbedder{}, store, nil)
}

func TestSync_FreshIngest(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store)
	src := stubSource{name: "official", docs: []*document.Document{
		testDoc("a", "# A\n\nAlpha body.", nil),
		testDoc("b", "# B\n\nBeta body.", nil),
		testDoc("c", "# C\n\nGamma body.", nil),
	}}

	summary, err := ix.Sync(context.Background(), []source.Source{src}, false)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if summary.Processed != 3 || summary.Skipped != 0 || summary.Errors != 0 {
		t.Errorf("First sync: processed=%d skipped=%d errors=%d, want 3/0/0",
			summary.Processed, summary.Skipped, summary.Errors)
	}

	// Second run over the unchanged corpus is a no-op.
	summary, err = ix.Sync(context.Background(), []source.Source{src}, false)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if summary.Processed != 0 || summary.Updated != 0 || summary.Skipped != 3 {
		t.Errorf("Second sync: processed=%d updated=%d skipped=%d, want 0/0/3",
			summary.Processed, summary.Updated, summary.Skipped)
	}
}

// TestSync_ForceReplacement checks that re-embedding replaces a document's
// chunk set wholesale, never additively.
func TestSync_ForceReplacement(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store)

	long := testDoc("a", "# One\n\nFirst.\n\n# Two\n\nSecond.\n\n# Three\n\nThird.", nil)
	if _, err := ix.EmbedOne(context.Background(), long, false); err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if n := len(store.chunks["a"]); n != 3 {
		t.Fatalf("Expected 3 chunks after first embed, got %d", n)
	}

	short := testDoc("a", "# Only\n\nReplaced body.", nil)
	outcome, err := ix.EmbedOne(context.Background(), short, true)
	if err != nil {
		t.Fatalf("Forced EmbedOne failed: %v", err)
	}
	if outcome != OutcomeReembedded {
		t.Errorf("Outcome: got %s, want %s", outcome, OutcomeReembedded)
	}
	if n := len(store.chunks["a"]); n != 1 {
		t.Errorf("Chunk count after replacement: got %d, want exactly 1", n)
	}
}

func TestSync_FrontmatterForce(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store)

	doc := testDoc("a", "# A\n\nBody.", nil)
	if _, err := ix.EmbedOne(context.Background(), doc, false); err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}

	// Without any force flag the document is skipped.
	outcome, err := ix.EmbedOne(context.Background(), doc, false)
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("Outcome: got %s, want %s", outcome, OutcomeSkipped)
	}

	// A truthy frontmatter force flag re-embeds even without the global one.
	forced := testDoc("a", "# A\n\nBody.", map[string]any{"force_reembed": true})
	outcome, err = ix.EmbedOne(context.Background(), forced, false)
	if err != nil {
		t.Fatalf("EmbedOne failed: %v", err)
	}
	if outcome != OutcomeReembedded {
		t.Errorf("Outcome: got %s, want %s", outcome, OutcomeReembedded)
	}
}

// TestSync_PerDocumentFailure checks that one bad document does not abort
// the rest of the batch.
func TestSync_PerDocumentFailure(t *testing.T) {
	store := newMemStore()
	store.upsertErrs = map[string]error{"bad": fmt.Errorf("upstream rejected batch")}
	ix := newTestIndexer(store)
	src := stubSource{name: "official", docs: []*document.Document{
		testDoc("good1", "# G1\n\nFine.", nil),
		testDoc("bad", "# B\n\nRejected.", nil),
		testDoc("good2", "# G2\n\nAlso fine.", nil),
	}}

	summary, err := ix.Sync(context.Background(), []source.Source{src}, false)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if summary.Processed != 2 || summary.Errors != 1 {
		t.Errorf("processed=%d errors=%d, want 2/1", summary.Processed, summary.Errors)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].DocID != "bad" {
		t.Errorf("Failed list: %+v", summary.Failed)
	}
}

func TestEmbedOne_EmptyDocument(t *testing.T) {
	ix := newTestIndexer(newMemStore())

	_, err := ix.EmbedOne(context.Background(), testDoc("empty", "   \n", nil), false)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("Expected ErrEmptyDocument, got %v", err)
	}
}

// TestEmbedOne_ExistsCheckFailure checks that an unreachable store
// propagates instead of being treated as "not indexed".
func TestEmbedOne_ExistsCheckFailure(t *testing.T) {
	store := newMemStore()
	store.existsErr = storage.ErrIndexUnavailable
	ix := newTestIndexer(store)

	_, err := ix.EmbedOne(context.Background(), testDoc("a", "# A\n\nBody.", nil), false)
	if !errors.Is(err, storage.ErrIndexUnavailable) {
		t.Errorf("Expected ErrIndexUnavailable, got %v", err)
	}
}
