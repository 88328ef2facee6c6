// Package embedding generates text embeddings through an OpenAI-compatible
// API. Credentials and model are explicit constructor parameters; nothing
// here reads ambient process state.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBatchSize balances requests-per-minute against tokens-per-minute
// rate limits.
const DefaultBatchSize = 32

// Embedder batches embedding requests and retries rate-limit errors with
// exponential backoff.
type Embedder struct {
	client    openai.Client
	model     string
	batchSize int
}

// NewEmbedder creates an Embedder for the given backend. If batchSize is
// non-positive, DefaultBatchSize is used.
func NewEmbedder(apiKey, baseURL, model string, batchSize int) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding: api key not set")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Embedder{
		client:    openai.NewClient(opts...),
		model:     model,
		batchSize: batchSize,
	}, nil
}

// Embed generates one fixed-dimension vector per input text, in order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// embedBatchWithRetry embeds one batch, retrying HTTP 429 with backoff.
// Other errors are permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 narrows the API's float64 vectors for storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
