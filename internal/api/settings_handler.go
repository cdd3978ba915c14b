package api

import (
	"net/http"

	"glados/backend/internal/interfaces"
	"glados/backend/internal/service"
)

type SettingsHandler struct {
	settings interfaces.SettingsService
}

func NewSettingsHandler(settings interfaces.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// SettingsResponse never carries the API key itself.
type SettingsResponse struct {
	Model        string `json:"model" example:"grok-3-mini"`
	SystemPrompt string `json:"system_prompt" example:"You are GLaDOS, a sarcastic AI."`
	AIName       string `json:"ai_name" example:"GLaDOS"`
	SiteName     string `json:"site_name" example:"GLaDOS"`
	HasAPIKey    bool   `json:"has_api_key"`
}

// UpdateSettingsRequest replaces every setting. A nil APIKey keeps the stored
// key; an empty string clears it.
type UpdateSettingsRequest struct {
	APIKey       *string `json:"api_key,omitempty"`
	Model        string  `json:"model" validate:"required,max=100" example:"grok-3-mini"`
	SystemPrompt string  `json:"system_prompt" example:"You are GLaDOS, a sarcastic AI."`
	AIName       string  `json:"ai_name" validate:"required,max=40" example:"GLaDOS"`
	SiteName     string  `json:"site_name" validate:"required,max=60" example:"GLaDOS"`
}

func toSettingsResponse(s *service.Settings) SettingsResponse {
	return SettingsResponse{
		Model:        s.Model,
		SystemPrompt: s.SystemPrompt,
		AIName:       s.AIName,
		SiteName:     s.SiteName,
		HasAPIKey:    s.HasAPIKey(),
	}
}

// GetSettings godoc
// @Summary      Get settings
// @Description  Returns the current settings. The API key is reported only as present or absent.
// @Tags         Settings
// @Produce      json
// @Success      200  {object}  SettingsResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/settings [get]
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// UpdateSettings godoc
// @Summary      Update settings
// @Description  Saves the settings. Renaming the assistant also renames it inside the system prompt.
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        settings  body      UpdateSettingsRequest  true  "New settings"
// @Success      200       {object}  SettingsResponse
// @Failure      400       {object}  ErrorResponse
// @Failure      500       {object}  ErrorResponse
// @Router       /v1/settings [put]
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	next := &service.Settings{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		AIName:       req.AIName,
		SiteName:     req.SiteName,
	}
	if req.APIKey != nil {
		next.APIKey = *req.APIKey
	} else {
		current, err := h.settings.Get(r.Context())
		if err != nil {
			respondWithError(w, err)
			return
		}
		next.APIKey = current.APIKey
	}

	if err := h.settings.Save(r.Context(), next); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toSettingsResponse(next))
}
