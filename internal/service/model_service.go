package service

import (
	"context"
	"fmt"

	apperrors "glados/backend/internal/errors"
	"glados/backend/internal/llm"
)

// ModelService lists the models the configured backend offers, for the
// settings model picker.
type ModelService struct {
	llm      llm.LLMProvider
	settings SettingsReader
}

func NewModelService(llmProvider llm.LLMProvider, settings SettingsReader) *ModelService {
	return &ModelService{llm: llmProvider, settings: settings}
}

// List returns the backend's models using the stored API key.
func (s *ModelService) List(ctx context.Context) (*llm.ListModelsResponse, error) {
	lister, ok := s.llm.(llm.ModelLister)
	if !ok {
		return nil, fmt.Errorf("%w: the configured provider cannot list models", apperrors.ErrUnsupported)
	}
	st, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not read settings: %w", err)
	}
	return lister.ListModels(ctx, st.APIKey)
}
