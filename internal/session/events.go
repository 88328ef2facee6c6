package session

import "github.com/1475505/Miliastra-toolbox/internal/quota"

// EventType discriminates stream events.
type EventType string

const (
	// EventStatus reports pipeline progress before generation starts.
	EventStatus EventType = "status"
	// EventSources carries the deduplicated citations. It is always
	// emitted before the first token.
	EventSources EventType = "sources"
	// EventToken carries one completion text fragment.
	EventToken EventType = "token"
	// EventDone is the terminal success event. No tokens follow it.
	EventDone EventType = "done"
	// EventError is terminal. No done follows it.
	EventError EventType = "error"
	// EventHeartbeat is a liveness signal with no payload. Transports
	// encode it out of band so clients never confuse it with data.
	EventHeartbeat EventType = "heartbeat"
)

// SourceRef is one citation attached to an answer.
type SourceRef struct {
	Title string  `json:"title"`
	URL   string  `json:"url,omitempty"`
	Score float32 `json:"score"`
}

// DoneInfo summarizes a finished turn.
type DoneInfo struct {
	CompletionTokens int             `json:"completion_tokens"`
	Quota            *quota.Decision `json:"quota,omitempty"`
}

// Event is one element of the session's output stream. Exactly one
// payload field is set, matching Type.
type Event struct {
	Type    EventType   `json:"type"`
	Status  string      `json:"status,omitempty"`
	Sources []SourceRef `json:"sources,omitempty"`
	Token   string      `json:"token,omitempty"`
	Done    *DoneInfo   `json:"done,omitempty"`
	Error   string      `json:"error,omitempty"`
}
