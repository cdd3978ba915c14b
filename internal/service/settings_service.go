package service

import (
	"context"
	"log/slog"
	"strings"

	"glados/backend/internal/kv"
	"glados/backend/internal/validation"
)

// Settings keys. Each setting is stored on its own, last write wins.
const (
	KeyAPIKey       = "glados-api-key"
	KeyModel        = "glados-model"
	KeySystemPrompt = "glados-system-phrase"
	KeyAIName       = "glados-ai-name"
	KeySiteName     = "glados-site-name"
)

// Settings holds the user-editable settings persisted in the KV store.
type Settings struct {
	APIKey       string `json:"api_key,omitempty"`
	Model        string `json:"model" validate:"required,max=100" example:"grok-3-mini"`
	SystemPrompt string `json:"system_prompt" example:"You are GLaDOS, a sarcastic AI."`
	AIName       string `json:"ai_name" validate:"required,max=40" example:"GLaDOS"`
	SiteName     string `json:"site_name" validate:"required,max=60" example:"GLaDOS"`
}

// HasAPIKey reports whether a credential is configured.
func (s *Settings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type SettingsService struct {
	kv       *kv.Store
	defaults Settings
}

// NewSettingsService reads and writes settings through store. defaults fill
// in any key that has never been written.
func NewSettingsService(store *kv.Store, defaults Settings) *SettingsService {
	return &SettingsService{kv: store, defaults: defaults}
}

func (s *SettingsService) fields(st *Settings) map[string]*string {
	return map[string]*string{
		KeyAPIKey:       &st.APIKey,
		KeyModel:        &st.Model,
		KeySystemPrompt: &st.SystemPrompt,
		KeyAIName:       &st.AIName,
		KeySiteName:     &st.SiteName,
	}
}

// InitAndGet writes the defaults for every unset key and returns the
// resulting settings.
func (s *SettingsService) InitAndGet(ctx context.Context) (*Settings, error) {
	current := s.defaults
	var initialised []string
	for key, field := range s.fields(&current) {
		if val, ok := s.kv.Get(ctx, key); ok {
			*field = val
			continue
		}
		if *field == "" {
			continue
		}
		_ = s.kv.Set(ctx, key, *field)
		if key != KeyAPIKey {
			initialised = append(initialised, key)
		}
	}
	if len(initialised) > 0 {
		slog.Info("Initialized unset settings from defaults", "keys", initialised)
	}
	return &current, nil
}

// Get returns the stored settings, using the defaults for absent keys.
func (s *SettingsService) Get(ctx context.Context) (*Settings, error) {
	current := s.defaults
	for key, field := range s.fields(&current) {
		if val, ok := s.kv.Get(ctx, key); ok {
			*field = val
		}
	}
	return &current, nil
}

// Save validates and stores settings. Renaming the assistant rewrites the
// old name inside the system prompt. An empty API key is stored as such so it
// does not fall back to the configured default.
func (s *SettingsService) Save(ctx context.Context, settings *Settings) error {
	settings.AIName = strings.TrimSpace(settings.AIName)
	settings.SiteName = strings.TrimSpace(settings.SiteName)
	settings.Model = strings.TrimSpace(settings.Model)
	if err := validation.Struct(settings); err != nil {
		return err
	}

	previous, _ := s.Get(ctx)
	if previous.AIName != "" && previous.AIName != settings.AIName {
		settings.SystemPrompt = strings.ReplaceAll(settings.SystemPrompt, previous.AIName, settings.AIName)
	}

	for key, field := range s.fields(settings) {
		_ = s.kv.Set(ctx, key, *field)
	}
	slog.Info("Settings saved", "model", settings.Model, "ai_name", settings.AIName, "has_api_key", settings.HasAPIKey())
	return nil
}
