package interfaces

import (
	"context"

	"glados/backend/internal/llm"
	"glados/backend/internal/model"
	"glados/backend/internal/service"
	"glados/backend/internal/session"
)

// Contracts the API layer depends on. Concrete implementations live in the
// service and session packages.

// ChatService drives exchanges with the model. Every streaming method closes
// streamChan before it returns.
type ChatService interface {
	HandleNewMessage(ctx context.Context, req *service.CreateMessageRequest, streamChan chan<- model.StreamResponse) error
	Regenerate(ctx context.Context, sessionID string, index int, streamChan chan<- model.StreamResponse) error
	Edit(ctx context.Context, sessionID string, index int, newContent string, streamChan chan<- model.StreamResponse) error
	DeleteMessage(ctx context.Context, sessionID string, index int) error
	DeleteSession(ctx context.Context, sessionID string) error
	ClearMessages(ctx context.Context, sessionID string) error
	Stop(sessionID string) bool
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ModelService lists the models the configured backend offers.
type ModelService interface {
	List(ctx context.Context) (*llm.ListModelsResponse, error)
}

// SettingsService manages the user-editable settings.
type SettingsService interface {
	InitAndGet(ctx context.Context) (*service.Settings, error)
	Get(ctx context.Context) (*service.Settings, error)
	Save(ctx context.Context, settings *service.Settings) error
}

// SessionStore is the session list and window state.
type SessionStore interface {
	Sessions() []model.ChatSession
	Search(query string) []model.ChatSession
	Get(id string) (model.ChatSession, error)
	Current() string
	CreateSession(ctx context.Context) string
	SelectSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	TogglePin(ctx context.Context, id string) (bool, error)
	Reorder(ctx context.Context, dragged, target string, pos session.Position) error
	RenameSession(ctx context.Context, id, title string) error
	ClearMessages(ctx context.Context, sessionID string) error
	VisibleWindow(sessionID string) (session.View, error)
	GrowWindow(ctx context.Context, sessionID string) (int, error)
	Subscribe(fn func(session.Event)) (unsubscribe func())
}

var (
	_ ChatService     = (*service.ChatService)(nil)
	_ ModelService    = (*service.ModelService)(nil)
	_ SettingsService = (*service.SettingsService)(nil)
	_ SessionStore    = (*session.Store)(nil)
)
