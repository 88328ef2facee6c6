package mcp

// SearchKnowledgeInput is the input schema for the search_knowledge tool.
type SearchKnowledgeInput struct {
	Query string `json:"query" jsonschema:"the question or topic to search the knowledge base for"`
}

// KnowledgeResult is one retrieved chunk.
type KnowledgeResult struct {
	Title   string  `json:"title"`
	Section string  `json:"section,omitempty"`
	URL     string  `json:"url,omitempty"`
	Score   float32 `json:"score"`
	Text    string  `json:"text"`
}

// SearchKnowledgeOutput is the output schema for the search_knowledge tool.
type SearchKnowledgeOutput struct {
	Results []KnowledgeResult `json:"results"`
	Message string            `json:"message,omitempty"`
}

// KBStatusInput is the (empty) input schema for the kb_status tool.
type KBStatusInput struct{}

// KBStatusOutput reports index health and size.
type KBStatusOutput struct {
	Collection string `json:"collection"`
	Chunks     uint64 `json:"chunks"`
	Healthy    bool   `json:"healthy"`
}
