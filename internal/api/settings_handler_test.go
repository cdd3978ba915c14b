package api_test

import (
	"encoding/json"
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
	"glados/backend/internal/service"
)

func setupSettingsHandler(t *testing.T) (*api.SettingsHandler, *mocks.MockSettingsService) {
	mockSettingsSvc := mocks.NewMockSettingsService(t)
	return api.NewSettingsHandler(mockSettingsSvc), mockSettingsSvc
}

func TestSettingsHandler_GetSettings(t *testing.T) {
	t.Run("Success hides the API key", func(t *testing.T) {
		handler, mockSvc := setupSettingsHandler(t)
		mockSvc.On("Get", mock.Anything).Return(&service.Settings{APIKey: "xai-secret", Model: "grok-3-mini", AIName: "GLaDOS", SiteName: "GLaDOS"}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/v1/settings", nil)
		rr := httptest.NewRecorder()
		handler.GetSettings(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "xai-secret")
		var resp api.SettingsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.HasAPIKey)
		assert.Equal(t, "grok-3-mini", resp.Model)
	})

	t.Run("Failure", func(t *testing.T) {
		handler, mockSvc := setupSettingsHandler(t)
		mockSvc.On("Get", mock.Anything).Return(nil, apperrors.ErrInternal).Once()

		req := httptest.NewRequest(http.MethodGet, "/v1/settings", nil)
		rr := httptest.NewRecorder()
		handler.GetSettings(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestSettingsHandler_UpdateSettings(t *testing.T) {
	t.Run("Omitted API key keeps the stored one", func(t *testing.T) {
		handler, mockSvc := setupSettingsHandler(t)
		mockSvc.On("Get", mock.Anything).Return(&service.Settings{APIKey: "xai-old"}, nil).Once()
		mockSvc.On("Save", mock.Anything, mock.MatchedBy(func(s *service.Settings) bool {
			return s.APIKey == "xai-old" && s.Model == "grok-4" && s.AIName == "GLaDOS"
		})).Return(nil).Once()

		body := `{"model":"grok-4","system_prompt":"Be terse.","ai_name":"GLaDOS","site_name":"Aperture"}`
		req := httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler.UpdateSettings(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Explicit empty API key clears it", func(t *testing.T) {
		handler, mockSvc := setupSettingsHandler(t)
		mockSvc.On("Save", mock.Anything, mock.MatchedBy(func(s *service.Settings) bool {
			return s.APIKey == ""
		})).Return(nil).Once()

		body := `{"api_key":"","model":"grok-4","ai_name":"GLaDOS","site_name":"Aperture"}`
		req := httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(body))
		rr := httptest.NewRecorder()
		handler.UpdateSettings(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp api.SettingsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.HasAPIKey)
	})

	t.Run("Validation error", func(t *testing.T) {
		handler, _ := setupSettingsHandler(t)
		req := httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"model":""}`))
		rr := httptest.NewRecorder()
		handler.UpdateSettings(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		handler, _ := setupSettingsHandler(t)
		req := httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"model":`))
		rr := httptest.NewRecorder()
		handler.UpdateSettings(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
