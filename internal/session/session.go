// Package session orchestrates one chat turn: channel resolution, quota
// admission, query rewriting, retrieval, and streamed answer generation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/1475505/Miliastra-toolbox/internal/llm"
	"github.com/1475505/Miliastra-toolbox/internal/quota"
	"github.com/1475505/Miliastra-toolbox/internal/retriever"
	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

// ErrEmptyMessage rejects turns with no user text.
var ErrEmptyMessage = errors.New("message is empty")

// ErrMissingCredentials means neither the request nor the service
// configuration provided an API key.
var ErrMissingCredentials = errors.New("no API credentials configured")

// QuotaExceededError carries the admission decision that rejected the turn.
type QuotaExceededError struct {
	Decision quota.Decision
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: usage %d/%d", e.Decision.Usage, e.Decision.Limit)
}

// ChatTurn is one prior message of the conversation, owned by the caller.
type ChatTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Request describes one turn. Credentials, when set, take precedence over
// the service defaults field by field. ContextWindow distinguishes "use
// the default window" (nil) from "send no history" (zero).
type Request struct {
	Message       string           `json:"message"`
	ImageURLs     []string         `json:"image_urls,omitempty"`
	History       []ChatTurn       `json:"history,omitempty"`
	ChannelID     int              `json:"channel_id"`
	Credentials   *llm.Credentials `json:"-"`
	ContextWindow *int             `json:"context_window,omitempty"`
}

// Result is the outcome of a blocking turn.
type Result struct {
	Answer           string          `json:"answer"`
	Sources          []SourceRef     `json:"sources"`
	CompletionTokens int             `json:"completion_tokens"`
	Quota            *quota.Decision `json:"quota,omitempty"`
}

// ClientFactory builds an LLM client for resolved credentials. Requests
// carrying their own credentials get their own client for the turn.
type ClientFactory func(apiKey, baseURL string) llm.Client

// Params configures a Session.
type Params struct {
	Retriever     retriever.Retriever
	Ledger        *quota.Ledger
	Clients       ClientFactory
	Counter       TokenCounter
	Defaults      llm.Credentials
	RewriteModel  string
	ContextWindow int
	Heartbeat     time.Duration
	Logger        *slog.Logger
}

// Session runs chat turns. It holds no per-turn state; concurrent turns
// share only the injected dependencies.
type Session struct {
	retriever     retriever.Retriever
	ledger        *quota.Ledger
	clients       ClientFactory
	counter       TokenCounter
	defaults      llm.Credentials
	rewriteModel  string
	contextWindow int
	heartbeat     time.Duration
	logger        *slog.Logger
}

// New creates a session engine from explicitly injected dependencies.
func New(p Params) *Session {
	if p.Clients == nil {
		p.Clients = func(apiKey, baseURL string) llm.Client {
			return llm.NewOpenAI(apiKey, baseURL)
		}
	}
	if p.Heartbeat <= 0 {
		p.Heartbeat = 30 * time.Second
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Session{
		retriever:     p.Retriever,
		ledger:        p.Ledger,
		clients:       p.Clients,
		counter:       p.Counter,
		defaults:      p.Defaults,
		rewriteModel:  p.RewriteModel,
		contextWindow: p.ContextWindow,
		heartbeat:     p.Heartbeat,
		logger:        p.Logger,
	}
}

// Run executes one blocking turn and returns the full answer.
func (s *Session) Run(ctx context.Context, req Request) (*Result, error) {
	return s.run(ctx, req, func(Event) bool { return true })
}

// Stream executes one turn, emitting typed events on the returned channel.
// The channel is closed after the terminal done or error event. While the
// pipeline waits on retrieval or generation, heartbeat events keep the
// stream alive without altering its result. Cancelling ctx cancels the
// in-flight upstream calls.
func (s *Session) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		work := make(chan Event, 16)
		go func() {
			res, err := s.run(ctx, req, func(ev Event) bool {
				select {
				case work <- ev:
					return true
				case <-ctx.Done():
					return false
				}
			})
			var final Event
			if err != nil {
				final = Event{Type: EventError, Error: err.Error()}
			} else {
				final = Event{Type: EventDone, Done: &DoneInfo{
					CompletionTokens: res.CompletionTokens,
					Quota:            res.Quota,
				}}
			}
			select {
			case work <- final:
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case ev := <-work:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type == EventDone || ev.Type == EventError {
					return
				}
			case <-ticker.C:
				select {
				case out <- Event{Type: EventHeartbeat}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *Session) run(ctx context.Context, req Request, emit func(Event) bool) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	creds, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	decision := s.ledger.CheckAndIncrement(ctx, req.ChannelID)
	if !decision.Allowed {
		return nil, &QuotaExceededError{Decision: decision}
	}

	client := s.clients(creds.APIKey, creds.BaseURL)

	if !emit(Event{Type: EventStatus, Status: "rewriting query"}) {
		return nil, ctx.Err()
	}
	query := NewRewriter(client, s.rewriteModel, s.logger).Rewrite(ctx, req.Message)

	if !emit(Event{Type: EventStatus, Status: "retrieving context"}) {
		return nil, ctx.Err()
	}
	chunks, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	if !emit(Event{Type: EventStatus, Status: "generating answer"}) {
		return nil, ctx.Err()
	}
	sources := dedupSources(chunks)
	if !emit(Event{Type: EventSources, Sources: sources}) {
		return nil, ctx.Err()
	}

	stream, err := client.Stream(ctx, creds.Model, s.assemble(req, chunks))
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("generation stream: %w", err)
		}
		answer.WriteString(token)
		if !emit(Event{Type: EventToken, Token: token}) {
			return nil, ctx.Err()
		}
	}

	res := &Result{
		Answer:           answer.String(),
		Sources:          sources,
		CompletionTokens: s.counter.Count(answer.String()),
	}
	if decision.Limit != quota.Unlimited {
		res.Quota = &decision
	}
	return res, nil
}

// resolve picks the credentials for the turn. Request credentials win
// over the service defaults field by field.
func (s *Session) resolve(req Request) (llm.Credentials, error) {
	creds := s.defaults
	if req.Credentials != nil {
		creds = req.Credentials.Merge(s.defaults)
	}
	if creds.APIKey == "" {
		return llm.Credentials{}, ErrMissingCredentials
	}
	return creds, nil
}

const answerPrompt = `You are the documentation assistant for the Miliastra sandbox editor.
Answer the user's question using only the reference material below. When the
material does not cover the question, say so instead of guessing. Answer in
the language of the question.

Reference material:
%s`

// assemble builds the generation prompt: system context, the truncated
// history, then the user message with any image attachments.
func (s *Session) assemble(req Request, chunks []*storage.ScoredChunk) []llm.Message {
	var context strings.Builder
	for i, sc := range chunks {
		title := sc.Chunk.Title
		if sc.Chunk.SectionTitle != "" {
			title = title + " / " + sc.Chunk.SectionTitle
		}
		fmt.Fprintf(&context, "[%d] %s\n%s\n\n", i+1, title, sc.Chunk.Text)
	}

	history := s.truncate(req)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role: llm.RoleSystem,
		Text: fmt.Sprintf(answerPrompt, strings.TrimSpace(context.String())),
	})
	for _, turn := range history {
		role := llm.RoleUser
		if turn.Role == "assistant" {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Text: turn.Message})
	}
	messages = append(messages, llm.Message{
		Role:      llm.RoleUser,
		Text:      req.Message,
		ImageURLs: req.ImageURLs,
	})
	return messages
}

// truncate keeps the most recent window of history turns. A nil window
// means the configured default; an explicit zero sends no history.
func (s *Session) truncate(req Request) []ChatTurn {
	window := s.contextWindow
	if req.ContextWindow != nil {
		window = *req.ContextWindow
	}
	if window <= 0 {
		return nil
	}
	if len(req.History) > window {
		return req.History[len(req.History)-window:]
	}
	return req.History
}

// dedupSources collapses citations sharing a canonical URL, keeping
// first-seen order. Chunks without a URL dedup on their title instead.
func dedupSources(chunks []*storage.ScoredChunk) []SourceRef {
	seen := make(map[string]bool, len(chunks))
	sources := make([]SourceRef, 0, len(chunks))
	for _, sc := range chunks {
		key := sc.Chunk.URL
		if key == "" {
			key = sc.Chunk.Title
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, SourceRef{
			Title: sc.Chunk.Title,
			URL:   sc.Chunk.URL,
			Score: sc.Score,
		})
	}
	return sources
}
