package api_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"glados/backend/internal/api"
	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/interfaces/mocks"
	"glados/backend/internal/model"
	"glados/backend/internal/service"
)

func setupChatHandler(t *testing.T) (*api.ChatHandler, *mocks.MockChatService) {
	mockChatSvc := mocks.NewMockChatService(t)
	return api.NewChatHandler(mockChatSvc), mockChatSvc
}

// sendChunks makes a streaming expectation forward chunks and close the channel.
func sendChunks(argIndex int, chunks ...model.StreamResponse) func(mock.Arguments) {
	return func(args mock.Arguments) {
		ch := args.Get(argIndex).(chan<- model.StreamResponse)
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
	}
}

// closeOnly closes the channel without sending, as services do on early errors.
func closeOnly(argIndex int) func(mock.Arguments) {
	return func(args mock.Arguments) {
		close(args.Get(argIndex).(chan<- model.StreamResponse))
	}
}

func readEvents(t *testing.T, body string) []model.StreamResponse {
	t.Helper()
	var out []model.StreamResponse
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var chunk model.StreamResponse
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		out = append(out, chunk)
	}
	return out
}

func TestChatHandler_HandleStreamMessage(t *testing.T) {
	t.Run("Success streams every chunk", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("HandleNewMessage", mock.Anything, mock.MatchedBy(func(r *service.CreateMessageRequest) bool {
			return r.Content == "Hello" && r.SessionID == "s1"
		}), mock.Anything).
			Run(sendChunks(2,
				model.StreamResponse{SessionID: "s1", MessageID: "m2"},
				model.StreamResponse{SessionID: "s1", MessageID: "m2", Content: "Hi"},
				model.StreamResponse{SessionID: "s1", MessageID: "m2", Content: " there"},
				model.StreamResponse{SessionID: "s1", MessageID: "m2", Done: true},
			)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"session_id":"s1","content":"Hello"}`))
		rr := httptest.NewRecorder()
		handler.HandleStreamMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
		events := readEvents(t, rr.Body.String())
		require.Len(t, events, 4)
		assert.Equal(t, "m2", events[0].MessageID)
		assert.Equal(t, "Hi", events[1].Content)
		assert.True(t, events[3].Done)
	})

	t.Run("Failed reply is reported in the final chunk", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("HandleNewMessage", mock.Anything, mock.Anything, mock.Anything).
			Run(sendChunks(2,
				model.StreamResponse{SessionID: "s1", MessageID: "m2"},
				model.StreamResponse{SessionID: "s1", MessageID: "m2", Done: true, Error: "api returned status 500"},
			)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"content":"Hello"}`))
		rr := httptest.NewRecorder()
		handler.HandleStreamMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		events := readEvents(t, rr.Body.String())
		require.Len(t, events, 2)
		assert.Equal(t, "api returned status 500", events[1].Error)
	})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"Missing API key", fmt.Errorf("%w: an API key is required", apperrors.ErrConfiguration), http.StatusPreconditionFailed},
		{"Session busy", fmt.Errorf("%w: session s1 is streaming", apperrors.ErrConflict), http.StatusConflict},
		{"Unknown session", fmt.Errorf("%w: session s9", apperrors.ErrNotFound), http.StatusNotFound},
		{"Empty content", fmt.Errorf("%w: message content cannot be empty", apperrors.ErrValidation), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run("Refused before streaming: "+tt.name, func(t *testing.T) {
			handler, mockSvc := setupChatHandler(t)
			mockSvc.On("HandleNewMessage", mock.Anything, mock.Anything, mock.Anything).
				Run(closeOnly(2)).Return(tt.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"content":"Hello"}`))
			rr := httptest.NewRecorder()
			handler.HandleStreamMessage(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}

	t.Run("Invalid JSON", func(t *testing.T) {
		handler, _ := setupChatHandler(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/messages", strings.NewReader(`{"content":`))
		rr := httptest.NewRecorder()
		handler.HandleStreamMessage(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestChatHandler_HandleRegenerate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("Regenerate", mock.Anything, "s1", 3, mock.Anything).
			Run(sendChunks(3,
				model.StreamResponse{SessionID: "s1", MessageID: "m9"},
				model.StreamResponse{SessionID: "s1", MessageID: "m9", Content: "Again"},
				model.StreamResponse{SessionID: "s1", MessageID: "m9", Done: true},
			)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = addChiURLParams(req, map[string]string{"sessionID": "s1", "index": "3"})
		rr := httptest.NewRecorder()
		handler.HandleRegenerate(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, readEvents(t, rr.Body.String()), 3)
	})

	t.Run("Bad index", func(t *testing.T) {
		handler, _ := setupChatHandler(t)
		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"sessionID": "s1", "index": "-1"})
		rr := httptest.NewRecorder()
		handler.HandleRegenerate(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Wrong role", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("Regenerate", mock.Anything, "s1", 0, mock.Anything).
			Run(closeOnly(3)).Return(fmt.Errorf("%w: message 0 is a user message", apperrors.ErrValidation)).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"sessionID": "s1", "index": "0"})
		rr := httptest.NewRecorder()
		handler.HandleRegenerate(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestChatHandler_HandleEdit(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("Edit", mock.Anything, "s1", 2, "Q2'", mock.Anything).
			Run(sendChunks(4,
				model.StreamResponse{SessionID: "s1", MessageID: "m5"},
				model.StreamResponse{SessionID: "s1", MessageID: "m5", Done: true},
			)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"content":"Q2'"}`))
		req = addChiURLParams(req, map[string]string{"sessionID": "s1", "index": "2"})
		rr := httptest.NewRecorder()
		handler.HandleEdit(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Empty content", func(t *testing.T) {
		handler, _ := setupChatHandler(t)
		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"content":""}`))
		req = addChiURLParams(req, map[string]string{"sessionID": "s1", "index": "2"})
		rr := httptest.NewRecorder()
		handler.HandleEdit(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestChatHandler_HandleDeleteMessage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("DeleteMessage", mock.Anything, "s1", 1).Return(nil).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"sessionID": "s1", "index": "1"})
		rr := httptest.NewRecorder()
		handler.HandleDeleteMessage(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("Busy", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("DeleteMessage", mock.Anything, "s1", 1).Return(apperrors.ErrConflict).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"sessionID": "s1", "index": "1"})
		rr := httptest.NewRecorder()
		handler.HandleDeleteMessage(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestChatHandler_HandleDeleteSession(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"Success", nil, http.StatusNoContent},
		{"Not found", apperrors.ErrNotFound, http.StatusNotFound},
		{"Busy", apperrors.ErrConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, mockSvc := setupChatHandler(t)
			mockSvc.On("DeleteSession", mock.Anything, "s1").Return(tt.err).Once()

			req := addChiURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"sessionID": "s1"})
			rr := httptest.NewRecorder()
			handler.HandleDeleteSession(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestChatHandler_HandleClearMessages(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("ClearMessages", mock.Anything, "s1").Return(nil).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"sessionID": "s1"})
		rr := httptest.NewRecorder()
		handler.HandleClearMessages(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("Busy", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("ClearMessages", mock.Anything, "s1").Return(apperrors.ErrConflict).Once()

		req := addChiURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"sessionID": "s1"})
		rr := httptest.NewRecorder()
		handler.HandleClearMessages(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestChatHandler_HandleStop(t *testing.T) {
	handler, mockSvc := setupChatHandler(t)
	mockSvc.On("Stop", "s1").Return(true).Once()

	req := addChiURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"sessionID": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleStop(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp api.StopResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Stopped)
}

func TestChatHandler_HandleGenerateImage(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("GenerateImage", mock.Anything, "a cake").Return("https://img.example/cake.png", nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"prompt":"a cake"}`))
		rr := httptest.NewRecorder()
		handler.HandleGenerateImage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp api.ImageResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "https://img.example/cake.png", resp.URL)
	})

	t.Run("Unsupported provider", func(t *testing.T) {
		handler, mockSvc := setupChatHandler(t)
		mockSvc.On("GenerateImage", mock.Anything, "a cake").Return("", apperrors.ErrUnsupported).Once()

		req := httptest.NewRequest(http.MethodPost, "/v1/images", strings.NewReader(`{"prompt":"a cake"}`))
		rr := httptest.NewRecorder()
		handler.HandleGenerateImage(rr, req)

		assert.Equal(t, http.StatusNotImplemented, rr.Code)
	})
}
