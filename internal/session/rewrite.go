package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/1475505/Miliastra-toolbox/internal/llm"
)

const rewritePrompt = `Rewrite the user's question into a short search query for a
documentation knowledge base, and extract the key technical terms.

User question:
%s

Respond in JSON format:
{"query": "rewritten search query", "keywords": ["term1", "term2"]}`

// Rewriter expands a user message into a retrieval query. It is a
// best-effort step: any failure falls back to the raw message so the
// turn never aborts on rewrite problems.
type Rewriter struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewRewriter creates a rewriter using the given model.
func NewRewriter(client llm.Client, model string, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{client: client, model: model, logger: logger}
}

// Rewrite returns the retrieval query for message. The result combines
// the rewritten query with the extracted keywords.
func (r *Rewriter) Rewrite(ctx context.Context, message string) string {
	raw, err := r.client.Complete(ctx, r.model, []llm.Message{
		{Role: llm.RoleUser, Text: fmt.Sprintf(rewritePrompt, message)},
	})
	if err != nil {
		r.logger.Warn("query rewrite failed, using raw message", "error", err)
		return message
	}

	var parsed struct {
		Query    string   `json:"query"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		r.logger.Warn("query rewrite returned unparseable output, using raw message", "error", err)
		return message
	}
	if parsed.Query == "" {
		parsed.Query = message
	}

	parts := append([]string{parsed.Query}, parsed.Keywords...)
	return strings.Join(parts, " ")
}

// extractJSON pulls the first JSON object out of a completion that may
// wrap it in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
