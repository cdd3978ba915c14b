package session

import (
	"context"

	"glados/backend/internal/model"
)

// Window returns the last size messages of msgs, or all of them when there
// are fewer. The result shares no backing array with msgs.
func Window(msgs []model.Message, size int) []model.Message {
	if size <= 0 {
		return []model.Message{}
	}
	start := len(msgs) - size
	if start < 0 {
		start = 0
	}
	out := make([]model.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// View is the rendered slice of a session log.
type View struct {
	SessionID string          `json:"session_id"`
	Messages  []model.Message `json:"messages"`
	Total     int             `json:"total"`
	Size      int             `json:"window_size"`
	HasOlder  bool            `json:"has_older"`
}

func (s *Store) windowLocked(id string) int {
	if n, ok := s.windows[id]; ok {
		return n
	}
	return s.opts.PageSize
}

// WindowSize returns the window size of a session.
func (s *Store) WindowSize(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowLocked(sessionID)
}

// VisibleWindow returns the currently visible suffix of a session log.
func (s *Store) VisibleWindow(sessionID string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.getLocked(sessionID)
	if err != nil {
		return View{}, err
	}
	size := s.windowLocked(sessionID)
	msgs := Window(sess.Messages, size)
	for i := range msgs {
		msgs[i] = msgs[i].Clone()
	}
	return View{
		SessionID: sessionID,
		Messages:  msgs,
		Total:     len(sess.Messages),
		Size:      size,
		HasOlder:  len(sess.Messages) > size,
	}, nil
}

// GrowWindow widens the window of a session by one page and returns the new
// size. Window sizes are display state and are not persisted.
func (s *Store) GrowWindow(ctx context.Context, sessionID string) (int, error) {
	var size int
	err := s.mutate(ctx, false, func() ([]Event, error) {
		if _, err := s.getLocked(sessionID); err != nil {
			return nil, err
		}
		size = s.windowLocked(sessionID) + s.opts.PageSize
		s.windows[sessionID] = size
		return []Event{{Type: EventWindowGrown, SessionID: sessionID}}, nil
	})
	return size, err
}
