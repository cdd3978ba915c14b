package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "glados/backend/internal/errors"
)

// StreamResponse is one chunk of a streamed completion.
type StreamResponse struct {
	Content string
	Done    bool
}

// LLMProvider defines the interface for interacting with a language model.
//
// GenerateStream sends every chunk on ch and closes ch before returning. A
// returned error means the stream did not complete; chunks sent before it
// are still valid.
type LLMProvider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- StreamResponse) error
}

// ImageGenerator is implemented by providers that can create images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

type GenerateRequest struct {
	Model    string
	Messages []Message
	// APIKey overrides the key the provider was built with. Keys live in the
	// settings store and can change while the process runs.
	APIKey string
}

// Message is a role-tagged turn. Images are data URLs.
type Message struct {
	Role    string
	Content string
	Images  []string
}

type GenerateResponse struct {
	Model    string
	Response string
}

type ImageRequest struct {
	Prompt string
	Model  string
	APIKey string
}

type ImageResponse struct {
	URL   string
	Model string
}

// Backend names accepted by New.
const (
	ProviderGrok   = "grok"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var defaultBaseURLs = map[string]string{
	ProviderGrok:   "https://api.x.ai/v1",
	ProviderOpenAI: "https://api.openai.com/v1",
	ProviderOllama: "http://localhost:11434",
}

// Config selects and configures one backend.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// RequiresKey reports whether the named backend refuses requests without an
// API key.
func RequiresKey(provider string) bool {
	return provider != ProviderOllama
}

// New builds the provider named by cfg.Provider. An empty name selects grok.
func New(cfg Config) (LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderGrok
	}
	base, ok := defaultBaseURLs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown llm provider %q", apperrors.ErrConfiguration, cfg.Provider)
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	base = strings.TrimRight(base, "/")

	// Streams can legitimately run for minutes, so the timeout only bounds
	// non-streaming calls; streams are bounded by their context.
	client := &http.Client{}
	if name == ProviderOllama {
		return newOllamaProvider(client, base, cfg.Timeout), nil
	}
	return newOpenAIProvider(client, base, cfg.APIKey, cfg.Timeout), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, ch chan<- StreamResponse, chunk StreamResponse) error {
	select {
	case ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context, apiKey string) (*ListModelsResponse, error)
}

type ListModelsResponse struct {
	Models []Model `json:"models"`
}

type Model struct {
	Name    string `json:"name" example:"grok-3-mini"`
	OwnedBy string `json:"owned_by,omitempty" example:"xai"`
}
