package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"glados/backend/internal/export"
	"glados/backend/internal/interfaces"
	"glados/backend/internal/model"
	"glados/backend/internal/session"
)

// SessionHandler serves the session sidebar, the message window and export.
type SessionHandler struct {
	store    interfaces.SessionStore
	settings interfaces.SettingsService
	now      func() time.Time
}

func NewSessionHandler(store interfaces.SessionStore, settings interfaces.SettingsService) *SessionHandler {
	return &SessionHandler{store: store, settings: settings, now: time.Now}
}

// SessionSummary is a sidebar entry. Messages are fetched per session.
type SessionSummary struct {
	ID           string    `json:"id" example:"b3f1c1de-6a55-4a57-9f0b-0c3f4c1a7d11"`
	Title        string    `json:"title" example:"Capital of France"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Pinned       bool      `json:"pinned"`
	MessageCount int       `json:"message_count"`
	Current      bool      `json:"current"`
}

type SessionListResponse struct {
	Sessions  []SessionSummary `json:"sessions"`
	CurrentID string           `json:"current_id,omitempty"`
}

type CreateSessionResponse struct {
	ID string `json:"id"`
}

// UpdateTitleRequest is the DTO for a manual rename.
type UpdateTitleRequest struct {
	Title string `json:"title" validate:"required,min=1,max=100" example:"My Custom Chat Title"`
}

type PinResponse struct {
	Pinned bool `json:"pinned"`
}

// ReorderRequest moves DraggedID next to TargetID.
type ReorderRequest struct {
	DraggedID string           `json:"dragged_id" validate:"required"`
	TargetID  string           `json:"target_id" validate:"required"`
	Position  session.Position `json:"position" validate:"required,oneof=before after" example:"before"`
}

func summarize(sessions []model.ChatSession, current string) SessionListResponse {
	out := SessionListResponse{Sessions: make([]SessionSummary, 0, len(sessions)), CurrentID: current}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, SessionSummary{
			ID:           s.ID,
			Title:        s.Title,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
			Pinned:       s.Pinned,
			MessageCount: len(s.Messages),
			Current:      s.ID == current,
		})
	}
	return out
}

// ListSessions godoc
// @Summary      List sessions
// @Description  Returns the sidebar in display order (pinned first). With q, returns sessions whose title or messages contain q.
// @Tags         Sessions
// @Produce      json
// @Param        q    query     string  false  "Search text"
// @Success      200  {object}  SessionListResponse
// @Router       /v1/sessions [get]
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.Search(r.URL.Query().Get("q"))
	respondWithJSON(w, http.StatusOK, summarize(sessions, h.store.Current()))
}

// CreateSession godoc
// @Summary      Create a session
// @Description  Creates an empty session and makes it current.
// @Tags         Sessions
// @Produce      json
// @Success      201  {object}  CreateSessionResponse
// @Router       /v1/sessions [post]
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := h.store.CreateSession(r.Context())
	respondWithJSON(w, http.StatusCreated, CreateSessionResponse{ID: id})
}

// GetSession godoc
// @Summary      Get a session
// @Description  Returns a session with its full message log.
// @Tags         Sessions
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  model.ChatSession
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID} [get]
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

// RenameSession godoc
// @Summary      Rename a session
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        sessionID  path      string              true  "Session ID"
// @Param        title      body      UpdateTitleRequest  true  "New title"
// @Success      200        {object}  StatusResponse
// @Failure      400        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/title [put]
func (h *SessionHandler) RenameSession(w http.ResponseWriter, r *http.Request) {
	var req UpdateTitleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if err := h.store.RenameSession(r.Context(), chi.URLParam(r, "sessionID"), req.Title); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// SelectSession godoc
// @Summary      Select a session
// @Tags         Sessions
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  StatusResponse
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/select [post]
func (h *SessionHandler) SelectSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SelectSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// TogglePin godoc
// @Summary      Pin or unpin a session
// @Tags         Sessions
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  PinResponse
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/pin [post]
func (h *SessionHandler) TogglePin(w http.ResponseWriter, r *http.Request) {
	pinned, err := h.store.TogglePin(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, PinResponse{Pinned: pinned})
}

// ReorderSessions godoc
// @Summary      Reorder sessions
// @Description  Moves one session before or after another in the sidebar.
// @Tags         Sessions
// @Accept       json
// @Produce      json
// @Param        reorder  body      ReorderRequest  true  "Drag and drop"
// @Success      200      {object}  StatusResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /v1/sessions/reorder [post]
func (h *SessionHandler) ReorderSessions(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if err := h.store.Reorder(r.Context(), req.DraggedID, req.TargetID, req.Position); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// GetWindow godoc
// @Summary      Visible messages
// @Description  Returns the most recent messages of a session, as many as its window allows.
// @Tags         Messages
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  session.View
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/window [get]
func (h *SessionHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.VisibleWindow(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// GrowWindow godoc
// @Summary      Load older messages
// @Description  Widens the window by one page and returns the new view.
// @Tags         Messages
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  session.View
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/window/grow [post]
func (h *SessionHandler) GrowWindow(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.store.GrowWindow(r.Context(), sessionID); err != nil {
		respondWithError(w, err)
		return
	}
	view, err := h.store.VisibleWindow(sessionID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

// ExportSession godoc
// @Summary      Export a session
// @Description  Downloads the session as markdown, text or json.
// @Tags         Sessions
// @Produce      text/markdown
// @Produce      plain
// @Produce      json
// @Param        sessionID  path      string  true   "Session ID"
// @Param        format     query     string  false  "markdown, text or json"  Enums(markdown, text, json)
// @Success      200        {file}    file
// @Failure      400        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/export [get]
func (h *SessionHandler) ExportSession(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	sess, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}

	doc, err := export.Export(sess, format, settings.AIName, h.now())
	if err != nil {
		respondWithError(w, err)
		return
	}
	w.Header().Set("Content-Type", doc.MIMEType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}
