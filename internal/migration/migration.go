// Package migration upgrades persisted state written by older releases to
// the current multi-session layout.
package migration

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"glados/backend/internal/kv"
	"glados/backend/internal/model"
	"glados/backend/internal/session"
)

const (
	// LegacyMessagesKey held the single flat conversation before sessions existed.
	LegacyMessagesKey = "glados-messages"
	MigratedTitle     = "Migrated Chat"
)

// Importer is the part of the session store a migration writes into.
type Importer interface {
	Get(id string) (model.ChatSession, error)
	ImportSession(ctx context.Context, sess model.ChatSession) (string, error)
}

// legacyNamespace seeds the migrated session id, which is derived from the
// legacy value so a retried run recognises a session it already saved.
var legacyNamespace = uuid.MustParse("6f1f4c2e-8d0b-4f49-9a57-6b0c3e2d9a10")

// Result describes what a run did.
type Result struct {
	Migrated  bool
	SessionID string
	Messages  int
}

// Migrator runs the legacy-messages upgrade.
type Migrator struct {
	kv       *kv.Store
	sessions Importer
	log      *slog.Logger
}

func New(store *kv.Store, sessions Importer, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}
	return &Migrator{kv: store, sessions: sessions, log: log.With("component", "migration")}
}

// Run wraps a legacy message list into one session and deletes the legacy
// key once that session is stored. If the write fails the key stays and the
// next start tries again. A list that cannot be decoded is logged and
// deleted, so a bad value is not retried on every start. Once the key is gone
// Run is a no-op.
func (m *Migrator) Run(ctx context.Context) Result {
	raw, ok := m.kv.Get(ctx, LegacyMessagesKey)
	if !ok {
		return Result{}
	}

	var msgs []model.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		m.log.Warn("Legacy messages could not be decoded, discarding them", "error", err)
		m.kv.Remove(ctx, LegacyMessagesKey)
		return Result{}
	}
	if len(msgs) == 0 {
		m.log.Info("Legacy messages key was empty, removing it")
		m.kv.Remove(ctx, LegacyMessagesKey)
		return Result{}
	}

	id := uuid.NewSHA1(legacyNamespace, []byte(raw)).String()
	if _, err := m.sessions.Get(id); err == nil {
		m.log.Info("Legacy messages were already migrated, removing them", "session_id", id)
		m.kv.Remove(ctx, LegacyMessagesKey)
		return Result{}
	}

	now := model.Now()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		if !msgs[i].Role.Valid() {
			msgs[i].Role = model.RoleUser
		}
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = now
		}
	}

	id, err := m.sessions.ImportSession(ctx, model.ChatSession{
		ID:        id,
		Title:     MigratedTitle,
		Messages:  msgs,
		CreatedAt: now,
		UpdatedAt: now,
	})
	res := Result{Migrated: true, SessionID: id, Messages: len(msgs)}
	if err != nil {
		m.log.Warn("Migrated session could not be saved, keeping legacy messages for the next start", "session_id", id, "error", err)
		return res
	}
	m.kv.Remove(ctx, LegacyMessagesKey)
	m.log.Info("Migrated legacy messages into a session", "session_id", id, "messages", len(msgs))
	return res
}

var _ Importer = (*session.Store)(nil)
