package session

import (
	"context"
	"fmt"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/model"
)

// AppendMessage pushes msg onto the end of the session log and returns the
// stored copy. Empty ids and timestamps are assigned. The first user message
// of a session still carrying the placeholder title names the session.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg model.Message) (model.Message, error) {
	if !msg.Role.Valid() {
		return model.Message{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrValidation, msg.Role)
	}
	msg = msg.Clone()
	if msg.ID == "" {
		msg.ID = s.opts.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.opts.Now()
	}

	err := s.mutate(ctx, true, func() ([]Event, error) {
		sess, err := s.getLocked(sessionID)
		if err != nil {
			return nil, err
		}
		events := []Event{{Type: EventMessageAppended, SessionID: sessionID, MessageID: msg.ID}}
		if msg.Role == model.RoleUser && sess.Title == PlaceholderTitle && !hasRole(sess.Messages, model.RoleUser) {
			if title := DeriveTitle(msg.Content, s.opts.TitleMaxWidth); title != sess.Title {
				sess.Title = title
				events = append(events, Event{Type: EventSessionUpdated, SessionID: sessionID})
			}
		}
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = s.opts.Now()
		return events, nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg.Clone(), nil
}

func hasRole(msgs []model.Message, role model.Role) bool {
	for _, m := range msgs {
		if m.Role == role {
			return true
		}
	}
	return false
}

func indexOf(msgs []model.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// StreamContent replaces a message's content in memory and notifies
// subscribers without writing through. It is the per-delta update of an
// in-flight reply; CommitContent or FailContent settles it.
func (s *Store) StreamContent(sessionID, messageID, content string) error {
	return s.setContent(context.Background(), sessionID, messageID, content, false, false)
}

// CommitContent replaces a message's content, bumps updatedAt and persists.
func (s *Store) CommitContent(ctx context.Context, sessionID, messageID, content string) error {
	return s.setContent(ctx, sessionID, messageID, content, true, false)
}

// FailContent is CommitContent for a reply that ended in an error: the
// message is also marked failed.
func (s *Store) FailContent(ctx context.Context, sessionID, messageID, content string) error {
	return s.setContent(ctx, sessionID, messageID, content, true, true)
}

func (s *Store) setContent(ctx context.Context, sessionID, messageID, content string, persist, failed bool) error {
	return s.mutate(ctx, persist, func() ([]Event, error) {
		sess, err := s.getLocked(sessionID)
		if err != nil {
			return nil, err
		}
		i := indexOf(sess.Messages, messageID)
		if i < 0 {
			return nil, fmt.Errorf("%w: message %s in session %s", apperrors.ErrNotFound, messageID, sessionID)
		}
		sess.Messages[i].Content = content
		sess.Messages[i].Failed = failed
		if persist {
			sess.UpdatedAt = s.opts.Now()
		}
		return []Event{{Type: EventMessageUpdated, SessionID: sessionID, MessageID: messageID, Content: content}}, nil
	})
}

// Messages returns a copy of the full log of a session.
func (s *Store) Messages(sessionID string) ([]model.Message, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// TruncateMessages keeps the first n messages of a session.
func (s *Store) TruncateMessages(ctx context.Context, sessionID string, n int) error {
	return s.mutate(ctx, true, func() ([]Event, error) {
		sess, err := s.getLocked(sessionID)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > len(sess.Messages) {
			return nil, fmt.Errorf("%w: cannot truncate %d messages to %d", apperrors.ErrValidation, len(sess.Messages), n)
		}
		sess.Messages = sess.Messages[:n:n]
		sess.UpdatedAt = s.opts.Now()
		return []Event{{Type: EventLogTruncated, SessionID: sessionID}}, nil
	})
}

// ClearMessages empties the log of a session.
func (s *Store) ClearMessages(ctx context.Context, sessionID string) error {
	return s.TruncateMessages(ctx, sessionID, 0)
}

// DeleteMessage removes the message at index and nothing else.
func (s *Store) DeleteMessage(ctx context.Context, sessionID string, index int) error {
	return s.mutate(ctx, true, func() ([]Event, error) {
		sess, err := s.getLocked(sessionID)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(sess.Messages) {
			return nil, fmt.Errorf("%w: message index %d out of range", apperrors.ErrNotFound, index)
		}
		id := sess.Messages[index].ID
		msgs := make([]model.Message, 0, len(sess.Messages)-1)
		msgs = append(msgs, sess.Messages[:index]...)
		sess.Messages = append(msgs, sess.Messages[index+1:]...)
		sess.UpdatedAt = s.opts.Now()
		return []Event{{Type: EventMessageDeleted, SessionID: sessionID, MessageID: id}}, nil
	})
}

// RewriteMessage replaces the message at index with a rebuilt copy carrying
// content and discards every message after it. The rebuilt message keeps the
// role and images of the original but gets a new id and timestamp.
func (s *Store) RewriteMessage(ctx context.Context, sessionID string, index int, content string) (model.Message, error) {
	var rebuilt model.Message
	err := s.mutate(ctx, true, func() ([]Event, error) {
		sess, err := s.getLocked(sessionID)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(sess.Messages) {
			return nil, fmt.Errorf("%w: message index %d out of range", apperrors.ErrNotFound, index)
		}
		orig := sess.Messages[index]
		rebuilt = model.Message{
			ID:        s.opts.NewID(),
			Role:      orig.Role,
			Content:   content,
			Images:    orig.Images,
			Timestamp: s.opts.Now(),
		}.Clone()
		msgs := make([]model.Message, index, index+1)
		copy(msgs, sess.Messages[:index])
		sess.Messages = append(msgs, rebuilt)
		sess.UpdatedAt = rebuilt.Timestamp
		return []Event{
			{Type: EventLogTruncated, SessionID: sessionID},
			{Type: EventMessageAppended, SessionID: sessionID, MessageID: rebuilt.ID},
		}, nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return rebuilt.Clone(), nil
}
