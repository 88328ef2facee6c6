// Package llm abstracts chat completion over provider endpoints so the
// session layer can swap credentials per request without caring which
// backend serves them.
package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. ImageURLs attach to user
// messages as multimodal content parts; other roles ignore them.
type Message struct {
	Role      Role
	Text      string
	ImageURLs []string
}

// Credentials select the endpoint and model for one request. A request
// may carry its own credentials, overriding the service defaults.
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Merge fills empty fields from the fallback credentials.
func (c Credentials) Merge(fallback Credentials) Credentials {
	if c.APIKey == "" {
		c.APIKey = fallback.APIKey
	}
	if c.BaseURL == "" {
		c.BaseURL = fallback.BaseURL
	}
	if c.Model == "" {
		c.Model = fallback.Model
	}
	return c
}

// TokenStream yields completion text incrementally. Recv returns io.EOF
// when the model finishes.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Client produces chat completions.
type Client interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
	Stream(ctx context.Context, model string, messages []Message) (TokenStream, error)
}

// OpenAI is a Client over any OpenAI-compatible endpoint.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a client for the endpoint named by the credentials.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// Complete runs one blocking chat completion.
func (o *OpenAI) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toParams(messages),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream starts a streaming chat completion.
func (o *OpenAI) Stream(ctx context.Context, model string, messages []Message) (TokenStream, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toParams(messages),
	})
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("chat stream failed: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Recv() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return delta, nil
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("chat stream failed: %w", err)
	}
	return "", io.EOF
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Text))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Text))
		default:
			if len(m.ImageURLs) == 0 {
				params = append(params, openai.UserMessage(m.Text))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.ImageURLs)+1)
			parts = append(parts, openai.TextContentPart(m.Text))
			for _, url := range m.ImageURLs {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
			params = append(params, openai.UserMessage(parts))
		}
	}
	return params
}
