package model

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ErrorPrefix marks assistant content that carries a failure instead of a reply.
const ErrorPrefix = "Error: "

// Message is a single turn in a chat session.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Images    []string  `json:"images,omitempty"` // data URLs, user messages only in practice
	Timestamp time.Time `json:"timestamp"`
	// Failed marks an assistant reply that ended in an error. Its content
	// carries the ErrorPrefix marker after any partial text.
	Failed bool `json:"failed,omitempty"`
}

// IsError reports whether the message is a failed reply.
func (m Message) IsError() bool {
	return m.Role == RoleAssistant && m.Failed
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Images != nil {
		m.Images = append([]string(nil), m.Images...)
	}
	return m
}

// ChatSession is one independent conversation thread.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Pinned    bool      `json:"pinned,omitempty"`
}

// Clone returns a deep copy of the session.
func (s ChatSession) Clone() ChatSession {
	msgs := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = m.Clone()
	}
	s.Messages = msgs
	return s
}

// StreamResponse is one chunk forwarded to a streaming client.
type StreamResponse struct {
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
	Error     string `json:"error,omitempty"`
}

// Now returns the current instant at millisecond precision in UTC, which is
// what survives a trip through the persisted JSON form unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
