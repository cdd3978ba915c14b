package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultImageModel is used when no image-capable model is configured.
const DefaultImageModel = "grok-2-image-1212"

// openAIProvider talks to any OpenAI-compatible chat completions API,
// which includes xAI's Grok endpoint.
type openAIProvider struct {
	client  *http.Client
	url     string
	apiKey  string
	timeout time.Duration
}

func newOpenAIProvider(client *http.Client, url, apiKey string, timeout time.Duration) *openAIProvider {
	return &openAIProvider{client: client, url: url, apiKey: apiKey, timeout: timeout}
}

// NewOpenAIProvider returns a provider for an OpenAI-compatible base URL such
// as https://api.x.ai/v1.
func NewOpenAIProvider(url, apiKey string) LLMProvider {
	return newOpenAIProvider(&http.Client{}, strings.TrimRight(url, "/"), apiKey, 0)
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatMessage.Content is a string, or a []contentPart when images are attached.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func toChatMessages(msgs []Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Images) == 0 {
			out = append(out, chatMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []contentPart{{Type: "text", Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img}})
		}
		out = append(out, chatMessage{Role: m.Role, Content: parts})
	}
	return out
}

func (p *openAIProvider) key(override string) string {
	if override != "" {
		return override
	}
	return p.apiKey
}

func (p *openAIProvider) post(ctx context.Context, path, apiKey string, payload any, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return resp, nil
}

func (p *openAIProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.post(ctx, "/chat/completions", p.key(req.APIKey), chatRequest{
		Model:    req.Model,
		Messages: toChatMessages(req.Messages),
	}, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}
	gen := &GenerateResponse{Model: out.Model}
	if len(out.Choices) > 0 {
		gen.Response = out.Choices[0].Message.Content
	}
	return gen, nil
}

// GenerateStream reads server-sent events until the [DONE] sentinel or the
// end of the body. Fragments that do not decode are skipped.
func (p *openAIProvider) GenerateStream(ctx context.Context, req *GenerateRequest, ch chan<- StreamResponse) error {
	defer close(ch)

	resp, err := p.post(ctx, "/chat/completions", p.key(req.APIKey), chatRequest{
		Model:    req.Model,
		Messages: toChatMessages(req.Messages),
		Stream:   true,
	}, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := newSSEReader(resp.Body)
	for {
		data, err := reader.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return send(ctx, ch, StreamResponse{Done: true})
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("stream interrupted: %w", err)
		}
		if string(bytes.TrimSpace(data)) == "[DONE]" {
			return send(ctx, ch, StreamResponse{Done: true})
		}

		var chunk chatChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			slog.Debug("Skipping malformed stream fragment", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := send(ctx, ch, StreamResponse{Content: chunk.Choices[0].Delta.Content}); err != nil {
			return err
		}
	}
}

type imageGenerationRequest struct {
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
	Model          string `json:"model,omitempty"`
}

type imageGenerationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// imageModel maps the configured model to one the images endpoint accepts.
// Chat models are replaced by DefaultImageModel.
func imageModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "", m == "grok-2-image":
		return DefaultImageModel
	case !strings.Contains(m, "image"):
		return DefaultImageModel
	}
	return model
}

// GenerateImage requests one image URL. If the endpoint rejects the model, the
// request is retried once without a model so the server default applies.
func (p *openAIProvider) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	payload := imageGenerationRequest{
		Prompt:         req.Prompt,
		N:              1,
		ResponseFormat: "url",
		Model:          imageModel(req.Model),
	}
	resp, err := p.post(ctx, "/images/generations", p.key(req.APIKey), payload, false)
	if err != nil {
		slog.Warn("Image generation with explicit model failed, retrying with server default", "model", payload.Model, "error", err)
		payload.Model = ""
		resp, err = p.post(ctx, "/images/generations", p.key(req.APIKey), payload, false)
		if err != nil {
			return nil, fmt.Errorf("failed to generate image: %w", err)
		}
	}
	defer resp.Body.Close()

	var out imageGenerationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("could not decode image response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, errors.New("image response contained no url")
	}
	return &ImageResponse{URL: out.Data[0].URL, Model: payload.Model}, nil
}

var _ ImageGenerator = (*openAIProvider)(nil)

type modelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// ListModels queries GET {base}/models.
func (p *openAIProvider) ListModels(ctx context.Context, apiKey string) (*ListModelsResponse, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("could not create http request: %w", err)
	}
	if key := p.key(apiKey); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("could not decode models: %w", err)
	}
	list := &ListModelsResponse{Models: make([]Model, 0, len(out.Data))}
	for _, m := range out.Data {
		list.Models = append(list.Models, Model{Name: m.ID, OwnedBy: m.OwnedBy})
	}
	return list, nil
}

var _ ModelLister = (*openAIProvider)(nil)
