package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/interfaces"
	"glados/backend/internal/model"
	"glados/backend/internal/service"
)

// ChatHandler serves the streaming chat endpoints.
type ChatHandler struct {
	service interfaces.ChatService
}

func NewChatHandler(svc interfaces.ChatService) *ChatHandler {
	return &ChatHandler{service: svc}
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required" example:"What is the capital of Italy?"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

type ImageRequest struct {
	Prompt string `json:"prompt" validate:"required,max=1000" example:"a cake, but it is a lie"`
}

type ImageResponse struct {
	URL string `json:"url"`
}

func messageIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		return 0, fmt.Errorf("%w: message index must be a non-negative integer", apperrors.ErrValidation)
	}
	return index, nil
}

// stream runs fn and relays its chunks as server-sent events. When fn fails
// before sending anything the error is answered as a regular JSON response
// with a matching status code, so clients can tell a refused request from a
// reply that failed midway.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ch chan<- model.StreamResponse) error) {
	streamChan := make(chan model.StreamResponse)
	errChan := make(chan error, 1)
	go func() { errChan <- fn(r.Context(), streamChan) }()

	first, ok := <-streamChan
	if !ok {
		if err := <-errChan; err != nil {
			respondWithError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	clientGone := writeStreamEvent(w, first) != nil
	for chunk := range streamChan {
		if clientGone {
			continue
		}
		if err := writeStreamEvent(w, chunk); err != nil {
			slog.Warn("Client disconnected during stream", "session_id", chunk.SessionID, "error", err)
			clientGone = true
		}
	}
	if err := <-errChan; err != nil && !clientGone {
		_, message := statusFor(err)
		sendStreamError(w, message)
	}
}

// HandleStreamMessage godoc
// @Summary      Send a message
// @Description  Appends the user message and streams the assistant reply as server-sent events. The first event carries the session and message ids; the last has done=true and, on failure, error. A message starting with "/image " generates an image instead.
// @Tags         Chat
// @Accept       json
// @Produce      text/event-stream
// @Param        message  body      service.CreateMessageRequest  true  "Message"
// @Success      200      {object}  model.StreamResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Failure      409      {object}  ErrorResponse
// @Failure      412      {object}  ErrorResponse
// @Router       /v1/chat/messages [post]
func (h *ChatHandler) HandleStreamMessage(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", apperrors.ErrValidation))
		return
	}
	h.stream(w, r, func(ctx context.Context, ch chan<- model.StreamResponse) error {
		return h.service.HandleNewMessage(ctx, &req, ch)
	})
}

// HandleRegenerate godoc
// @Summary      Regenerate a reply
// @Description  Discards the assistant message at index and everything after it, then streams a new reply.
// @Tags         Chat
// @Produce      text/event-stream
// @Param        sessionID  path      string  true  "Session ID"
// @Param        index      path      int     true  "Index of the assistant message"
// @Success      200        {object}  model.StreamResponse
// @Failure      400        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/messages/{index}/regenerate [post]
func (h *ChatHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	index, err := messageIndex(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	h.stream(w, r, func(ctx context.Context, ch chan<- model.StreamResponse) error {
		return h.service.Regenerate(ctx, sessionID, index, ch)
	})
}

// HandleEdit godoc
// @Summary      Edit a message
// @Description  Replaces the user message at index, discards every later message and streams a new reply.
// @Tags         Chat
// @Accept       json
// @Produce      text/event-stream
// @Param        sessionID  path      string              true  "Session ID"
// @Param        index      path      int                 true  "Index of the user message"
// @Param        edit       body      EditMessageRequest  true  "New content"
// @Success      200        {object}  model.StreamResponse
// @Failure      400        {object}  ErrorResponse
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/messages/{index} [put]
func (h *ChatHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	index, err := messageIndex(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	var req EditMessageRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	h.stream(w, r, func(ctx context.Context, ch chan<- model.StreamResponse) error {
		return h.service.Edit(ctx, sessionID, index, req.Content, ch)
	})
}

// HandleDeleteMessage godoc
// @Summary      Delete a message
// @Tags         Messages
// @Param        sessionID  path  string  true  "Session ID"
// @Param        index      path  int     true  "Message index"
// @Success      204
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/messages/{index} [delete]
func (h *ChatHandler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	index, err := messageIndex(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	if err := h.service.DeleteMessage(r.Context(), chi.URLParam(r, "sessionID"), index); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteSession godoc
// @Summary      Delete a session
// @Description  Deletes a session. Deleting the current session selects the first remaining one. Refused while a reply is streaming into it.
// @Tags         Sessions
// @Param        sessionID  path  string  true  "Session ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID} [delete]
func (h *ChatHandler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearMessages godoc
// @Summary      Clear a session
// @Description  Removes every message but keeps the session. Refused while a reply is streaming into it.
// @Tags         Messages
// @Param        sessionID  path  string  true  "Session ID"
// @Success      204
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /v1/sessions/{sessionID}/messages [delete]
func (h *ChatHandler) HandleClearMessages(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearMessages(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStop godoc
// @Summary      Stop a reply
// @Description  Cancels the reply streaming in a session. The partial reply is kept.
// @Tags         Chat
// @Produce      json
// @Param        sessionID  path      string  true  "Session ID"
// @Success      200        {object}  StopResponse
// @Router       /v1/sessions/{sessionID}/stop [post]
func (h *ChatHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	stopped := h.service.Stop(chi.URLParam(r, "sessionID"))
	respondWithJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
}

// HandleGenerateImage godoc
// @Summary      Generate an image
// @Description  Generates one image outside of any session.
// @Tags         Chat
// @Accept       json
// @Produce      json
// @Param        image  body      ImageRequest  true  "Prompt"
// @Success      200    {object}  ImageResponse
// @Failure      400    {object}  ErrorResponse
// @Failure      412    {object}  ErrorResponse
// @Failure      501    {object}  ErrorResponse
// @Router       /v1/images [post]
func (h *ChatHandler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	url, err := h.service.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ImageResponse{URL: url})
}
