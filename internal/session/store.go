// Package session owns every chat session held by the process: the session
// list and its display order, the current-session pointer, each session's
// message log, and the per-session display window.
//
// The in-memory state is the source of truth. Every persistent mutation writes
// the full state through to the kv.Store before returning, so a restart loses
// at most the mutation that was in progress.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/kv"
	"glados/backend/internal/model"
)

// Persisted keys.
const (
	KeySessions = "glados-sessions"
	KeyOrder    = "glados-session-order"
	KeyCurrent  = "glados-current-session"
)

const (
	PlaceholderTitle     = "New Chat"
	DefaultPageSize      = 20
	DefaultTitleMaxWidth = 40
)

// Position says on which side of the target a dragged session lands.
type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

// Options tunes a Store. Zero fields take their defaults.
type Options struct {
	PageSize      int
	TitleMaxWidth int
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.TitleMaxWidth <= 0 {
		o.TitleMaxWidth = DefaultTitleMaxWidth
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = model.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Store is the application state object for sessions. It is safe for
// concurrent use.
type Store struct {
	mu   sync.Mutex
	kv   *kv.Store
	opts Options
	log  *slog.Logger

	sessions map[string]*model.ChatSession
	order    []string // flat caller order; display order partitions it by pin
	current  string
	windows  map[string]int

	subs    map[int]func(Event)
	nextSub int
}

// Load restores the persisted state from store. Anything missing or
// undecodable starts out empty.
func Load(ctx context.Context, store *kv.Store, opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		kv:       store,
		opts:     opts,
		log:      opts.Logger.With("component", "session"),
		sessions: make(map[string]*model.ChatSession),
		windows:  make(map[string]int),
		subs:     make(map[int]func(Event)),
	}

	var persisted map[string]*model.ChatSession
	if store.GetJSON(ctx, KeySessions, &persisted) {
		for id, sess := range persisted {
			if sess == nil {
				continue
			}
			if sess.ID == "" {
				sess.ID = id
			}
			if sess.Messages == nil {
				sess.Messages = []model.Message{}
			}
			s.sessions[id] = sess
		}
	}

	var order []string
	store.GetJSON(ctx, KeyOrder, &order)
	s.order = reconcileOrder(order, s.sessions)

	if cur, ok := store.Get(ctx, KeyCurrent); ok {
		if _, exists := s.sessions[cur]; exists {
			s.current = cur
		}
	}
	if s.current == "" {
		if display := s.displayOrderLocked(); len(display) > 0 {
			s.current = display[0]
		}
	}
	if s.current != "" {
		s.windows[s.current] = opts.PageSize
	}

	s.log.Info("Session state loaded", "sessions", len(s.sessions), "current", s.current)
	return s
}

// reconcileOrder drops ids that no longer exist and appends sessions the
// persisted order does not know about, most recently updated first.
func reconcileOrder(order []string, sessions map[string]*model.ChatSession) []string {
	seen := make(map[string]bool, len(sessions))
	out := make([]string, 0, len(sessions))
	for _, id := range order {
		if _, ok := sessions[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	var missing []*model.ChatSession
	for id, sess := range sessions {
		if !seen[id] {
			missing = append(missing, sess)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if !missing[i].UpdatedAt.Equal(missing[j].UpdatedAt) {
			return missing[i].UpdatedAt.After(missing[j].UpdatedAt)
		}
		return missing[i].ID < missing[j].ID
	})
	for _, sess := range missing {
		out = append(out, sess.ID)
	}
	return out
}

// mutate runs fn under the lock, writes the state through when persist is
// set and fn succeeded, then publishes fn's events outside the lock.
func (s *Store) mutate(ctx context.Context, persist bool, fn func() ([]Event, error)) error {
	s.mu.Lock()
	events, err := fn()
	if err == nil && persist {
		_ = s.persistLocked(ctx)
	}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, ev := range events {
		for _, sub := range subs {
			sub(ev)
		}
	}
	return nil
}

// persistLocked re-serialises the whole state. Write failures are already
// logged by the kv layer; the session map error is returned for callers that
// must know whether their data reached storage.
func (s *Store) persistLocked(ctx context.Context) error {
	err := s.kv.SetJSON(ctx, KeySessions, s.sessions)
	_ = s.kv.SetJSON(ctx, KeyOrder, s.order)
	if s.current == "" {
		s.kv.Remove(ctx, KeyCurrent)
	} else {
		_ = s.kv.Set(ctx, KeyCurrent, s.current)
	}
	return err
}

func (s *Store) displayOrderLocked() []string {
	pinned := make([]string, 0, len(s.order))
	var unpinned []string
	for _, id := range s.order {
		sess, ok := s.sessions[id]
		if !ok {
			continue
		}
		if sess.Pinned {
			pinned = append(pinned, id)
		} else {
			unpinned = append(unpinned, id)
		}
	}
	return append(pinned, unpinned...)
}

func (s *Store) getLocked(id string) (*model.ChatSession, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	return sess, nil
}

// insertLocked registers sess at the head of the unpinned partition and makes
// it current. Prepending to the flat order is enough: display order moves
// pinned sessions in front of it.
func (s *Store) insertLocked(sess *model.ChatSession) []Event {
	s.sessions[sess.ID] = sess
	s.order = append([]string{sess.ID}, s.order...)
	prev := s.current
	s.current = sess.ID
	s.windows[sess.ID] = s.opts.PageSize

	events := []Event{{Type: EventSessionCreated, SessionID: sess.ID}}
	if prev != sess.ID {
		events = append(events, Event{Type: EventSessionSelected, SessionID: sess.ID})
	}
	return events
}

// CreateSession adds an empty session, makes it current and returns its id.
func (s *Store) CreateSession(ctx context.Context) string {
	now := s.opts.Now()
	sess := &model.ChatSession{
		ID:        s.opts.NewID(),
		Title:     PlaceholderTitle,
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	_ = s.mutate(ctx, true, func() ([]Event, error) {
		return s.insertLocked(sess), nil
	})
	s.log.Info("Session created", "session_id", sess.ID)
	return sess.ID
}

// ImportSession registers a fully built session the same way CreateSession
// registers an empty one. Missing identity and timestamps are filled in. The
// session stays registered in memory even when it could not be written; the
// returned error reports that write failure.
func (s *Store) ImportSession(ctx context.Context, sess model.ChatSession) (string, error) {
	now := s.opts.Now()
	c := sess.Clone()
	if c.ID == "" {
		c.ID = s.opts.NewID()
	}
	if c.Title == "" {
		c.Title = PlaceholderTitle
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	var persistErr error
	_ = s.mutate(ctx, false, func() ([]Event, error) {
		if _, exists := s.sessions[c.ID]; exists {
			c.ID = s.opts.NewID()
		}
		events := s.insertLocked(&c)
		persistErr = s.persistLocked(ctx)
		return events, nil
	})
	if persistErr != nil {
		return c.ID, fmt.Errorf("imported session %s was not saved: %w", c.ID, persistErr)
	}
	return c.ID, nil
}

// SelectSession makes id current.
func (s *Store) SelectSession(ctx context.Context, id string) error {
	return s.mutate(ctx, true, func() ([]Event, error) {
		if _, err := s.getLocked(id); err != nil {
			return nil, err
		}
		if _, ok := s.windows[id]; !ok {
			s.windows[id] = s.opts.PageSize
		}
		if s.current == id {
			return nil, nil
		}
		s.current = id
		return []Event{{Type: EventSessionSelected, SessionID: id}}, nil
	})
}

// DeleteSession removes id. When it was current, the first remaining session
// in display order becomes current, or none.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := s.mutate(ctx, true, func() ([]Event, error) {
		if _, err := s.getLocked(id); err != nil {
			return nil, err
		}
		delete(s.sessions, id)
		delete(s.windows, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}

		events := []Event{{Type: EventSessionDeleted, SessionID: id}}
		if s.current == id {
			s.current = ""
			if display := s.displayOrderLocked(); len(display) > 0 {
				s.current = display[0]
				if _, ok := s.windows[s.current]; !ok {
					s.windows[s.current] = s.opts.PageSize
				}
			}
			events = append(events, Event{Type: EventSessionSelected, SessionID: s.current})
		}
		return events, nil
	})
	if err == nil {
		s.log.Info("Session deleted", "session_id", id)
	}
	return err
}

// TogglePin flips the pinned flag and returns the new value. Pinning moves
// the session between display partitions without touching updatedAt.
func (s *Store) TogglePin(ctx context.Context, id string) (bool, error) {
	var pinned bool
	err := s.mutate(ctx, true, func() ([]Event, error) {
		sess, err := s.getLocked(id)
		if err != nil {
			return nil, err
		}
		sess.Pinned = !sess.Pinned
		pinned = sess.Pinned
		return []Event{{Type: EventSessionUpdated, SessionID: id}, {Type: EventOrderChanged}}, nil
	})
	return pinned, err
}

// Reorder splices dragged next to target in the flat order.
func (s *Store) Reorder(ctx context.Context, dragged, target string, pos Position) error {
	if pos != Before && pos != After {
		return fmt.Errorf("%w: position must be %q or %q", apperrors.ErrValidation, Before, After)
	}
	if dragged == target {
		return fmt.Errorf("%w: cannot reorder a session relative to itself", apperrors.ErrValidation)
	}
	return s.mutate(ctx, true, func() ([]Event, error) {
		if _, err := s.getLocked(dragged); err != nil {
			return nil, err
		}
		if _, err := s.getLocked(target); err != nil {
			return nil, err
		}
		s.order = splice(s.order, dragged, target, pos)
		return []Event{{Type: EventOrderChanged}}, nil
	})
}

func splice(order []string, dragged, target string, pos Position) []string {
	out := make([]string, 0, len(order))
	for _, id := range order {
		if id != dragged {
			out = append(out, id)
		}
	}
	idx := len(out)
	for i, id := range out {
		if id == target {
			idx = i
			if pos == After {
				idx++
			}
			break
		}
	}
	out = append(out, "")
	copy(out[idx+1:], out[idx:])
	out[idx] = dragged
	return out
}

// RenameSession sets a normalised title.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	title = NormalizeTitle(title, s.opts.TitleMaxWidth)
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", apperrors.ErrValidation)
	}
	return s.mutate(ctx, true, func() ([]Event, error) {
		sess, err := s.getLocked(id)
		if err != nil {
			return nil, err
		}
		sess.Title = title
		sess.UpdatedAt = s.opts.Now()
		return []Event{{Type: EventSessionUpdated, SessionID: id}}, nil
	})
}

// Sessions returns copies of all sessions in display order.
func (s *Store) Sessions() []model.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.displayOrderLocked()
	out := make([]model.ChatSession, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.sessions[id].Clone())
	}
	return out
}

// Search returns the sessions whose title or any message contains query,
// case-insensitively, pinned first and then most recently updated first.
// A blank query returns Sessions().
func (s *Store) Search(query string) []model.ChatSession {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return s.Sessions()
	}

	s.mu.Lock()
	var out []model.ChatSession
	for _, id := range s.order {
		sess := s.sessions[id]
		if sess != nil && matches(sess, q) {
			out = append(out, sess.Clone())
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func matches(sess *model.ChatSession, q string) bool {
	if strings.Contains(strings.ToLower(sess.Title), q) {
		return true
	}
	for _, m := range sess.Messages {
		if strings.Contains(strings.ToLower(m.Content), q) {
			return true
		}
	}
	return false
}

// Get returns a copy of one session.
func (s *Store) Get(id string) (model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.getLocked(id)
	if err != nil {
		return model.ChatSession{}, err
	}
	return sess.Clone(), nil
}

// Current returns the current session id, or "" when there is none.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
