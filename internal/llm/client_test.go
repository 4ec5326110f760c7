package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(Provider("carrier-pigeon"), "key")
	require.ErrorContains(t, err, "carrier-pigeon")

	_, err = NewClient(ProviderOpenAI, "")
	require.Error(t, err)
}

func TestOpenAICompleteAgainstCompatibleEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v1/chat/completions", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, defaultOpenAIModel, body.Model)
		assert.Equal(t, 256, body.MaxTokens)
		assert.Equal(t, "name this", body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Weekend trip"}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClientWithBaseURL("test-key", srv.URL+"/v1")
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "name this"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Weekend trip", resp.Content)
	require.Equal(t, 5, resp.TokensIn)
	require.Equal(t, 2, resp.TokensOut)
}
