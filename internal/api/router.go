package api

import (
	"net/http"
	"time"

	// Registers the generated OpenAPI document with swag.
	_ "glados/backend/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// Handlers groups everything NewRouter mounts.
type Handlers struct {
	Chat     *ChatHandler
	Sessions *SessionHandler
	Settings *SettingsHandler
	Models   *ModelHandler
	Events   *EventsHandler
	// StaticDir is served at / when set.
	StaticDir string
}

// NewRouter creates the chi router with all application routes.
func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// JSON routes get a request timeout; streaming routes must not.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/settings", h.Settings.GetSettings)
			r.Put("/settings", h.Settings.UpdateSettings)

			r.Get("/models", h.Models.HandleListModels)

			r.Get("/sessions", h.Sessions.ListSessions)
			r.Post("/sessions", h.Sessions.CreateSession)
			r.Post("/sessions/reorder", h.Sessions.ReorderSessions)
			r.Get("/sessions/{sessionID}", h.Sessions.GetSession)
			r.Delete("/sessions/{sessionID}", h.Chat.HandleDeleteSession)
			r.Put("/sessions/{sessionID}/title", h.Sessions.RenameSession)
			r.Post("/sessions/{sessionID}/select", h.Sessions.SelectSession)
			r.Post("/sessions/{sessionID}/pin", h.Sessions.TogglePin)
			r.Get("/sessions/{sessionID}/window", h.Sessions.GetWindow)
			r.Post("/sessions/{sessionID}/window/grow", h.Sessions.GrowWindow)
			r.Get("/sessions/{sessionID}/export", h.Sessions.ExportSession)
			r.Delete("/sessions/{sessionID}/messages", h.Chat.HandleClearMessages)
			r.Delete("/sessions/{sessionID}/messages/{index}", h.Chat.HandleDeleteMessage)
			r.Post("/sessions/{sessionID}/stop", h.Chat.HandleStop)
			r.Post("/images", h.Chat.HandleGenerateImage)
		})

		r.Group(func(r chi.Router) {
			r.Post("/chat/messages", h.Chat.HandleStreamMessage)
			r.Post("/sessions/{sessionID}/messages/{index}/regenerate", h.Chat.HandleRegenerate)
			r.Put("/sessions/{sessionID}/messages/{index}", h.Chat.HandleEdit)
			r.Get("/events", h.Events.HandleEvents)
		})
	})

	if h.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(h.StaticDir))
		r.Handle("/*", http.StripPrefix("/", fileServer))
	}

	return r
}
