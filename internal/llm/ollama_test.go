package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, p LLMProvider, req *GenerateRequest) ([]StreamResponse, error) {
	t.Helper()
	ch := make(chan StreamResponse)
	errCh := make(chan error, 1)
	go func() { errCh <- p.GenerateStream(context.Background(), req, ch) }()

	var chunks []StreamResponse
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks, <-errCh
}

// TestOllamaProvider verifies the Ollama client against a mock HTTP server
// standing in for the real API.
func TestOllamaProvider(t *testing.T) {
	var captured ollamaChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/x-ndjson")
		if !captured.Stream {
			_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"Paris"},"done":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":{"content":"Hel"},"done":false}` + "\n"))
		_, _ = w.Write([]byte("not json\n"))
		_, _ = w.Write([]byte(`{"message":{"content":"lo"},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
	}))
	defer server.Close()

	provider := NewOllamaProvider(server.URL)

	t.Run("Generate", func(t *testing.T) {
		resp, err := provider.Generate(context.Background(), &GenerateRequest{
			Model:    "llama3",
			Messages: []Message{{Role: "user", Content: "Capital of France?"}},
		})
		require.NoError(t, err)
		assert.Equal(t, "Paris", resp.Response)
		assert.False(t, captured.Stream)
	})

	t.Run("GenerateStream skips malformed lines", func(t *testing.T) {
		chunks, err := collect(t, provider, &GenerateRequest{
			Model: "llava",
			Messages: []Message{{
				Role:    "user",
				Content: "What is this?",
				Images:  []string{"data:image/png;base64,iVBORw0KGgo="},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, []StreamResponse{{Content: "Hel"}, {Content: "lo"}, {Done: true}}, chunks)
		assert.True(t, captured.Stream)
		assert.Equal(t, []string{"iVBORw0KGgo="}, captured.Messages[0].Images)
	})
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	chunks, err := collect(t, NewOllamaProvider(server.URL), &GenerateRequest{Model: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
	assert.Empty(t, chunks)
}

func TestOllamaProvider_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","size":1}]}`))
	}))
	defer server.Close()

	provider := newOllamaProvider(server.Client(), server.URL, 0)
	resp, err := provider.ListModels(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Model{{Name: "llama3:latest"}}, resp.Models)
}
