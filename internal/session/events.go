package session

// EventType names a kind of store mutation.
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventSessionDeleted  EventType = "session.deleted"
	EventSessionSelected EventType = "session.selected"
	EventOrderChanged    EventType = "sessions.reordered"
	EventMessageAppended EventType = "message.appended"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventLogTruncated    EventType = "messages.truncated"
	EventWindowGrown     EventType = "window.grown"
)

// Event is published to subscribers after a mutation has been applied.
// Content is only set for message.updated, so a renderer can repaint an
// in-flight reply without reading the store back.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Content   string    `json:"content,omitempty"`
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the mutating goroutine, outside the store lock,
// so it may read the store but should not block.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) subscribersLocked() []func(Event) {
	out := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}
