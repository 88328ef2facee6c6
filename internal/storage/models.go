package storage

// Chunk is the persisted form of a document slice inside the vector store.
// Records are created on insert and destroyed by ref_doc_id, never updated
// in place: replacing a document means delete-then-reinsert of its whole
// chunk set.
type Chunk struct {
	ID           string            // point UUID, unique per chunk
	RefDocID     string            // owning document identity, the dedup key
	Ordinal      int               // position within the document
	SectionTitle string            // originating H1 text
	Text         string            // chunk content
	Title        string            // document title (frontmatter)
	URL          string            // document url (frontmatter)
	SourceDir    string            // provenance tag, e.g. "official"
	Path         string            // source-relative path
	Extra        map[string]string // remaining frontmatter fields
	Embedding    []float32
}

// ScoredChunk pairs a chunk with its similarity score.
type ScoredChunk struct {
	Chunk *Chunk
	Score float32
}

// QueryParams parameterizes a similarity query.
type QueryParams struct {
	Vector         []float32
	TopK           int
	ScoreThreshold float32
	// SourceDirs restricts results to the given provenance classes.
	// Empty means no restriction.
	SourceDirs []string
	// ExcludeSourceDirs removes the given provenance classes instead.
	ExcludeSourceDirs []string
}
