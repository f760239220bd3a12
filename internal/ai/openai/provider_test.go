package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/sitepulse/internal/ai/llmhttp"
	"github.com/kiranshivaraju/sitepulse/internal/ai/openai"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(url string) *openai.Provider {
	return openai.NewProvider(config.OpenAIConfig{
		BaseURL:    url,
		APIKey:     "sk-test",
		Model:      "gpt-test",
		ImageModel: "image-test",
	}, time.Second)
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "describe", msgs[1].(map[string]any)["content"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" {\"ok\":true} "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	out, err := newProvider(srv.URL).Complete(context.Background(), models.CompletionRequest{
		System: "you are terse",
		Prompt: "describe",
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newProvider(srv.URL).Complete(context.Background(), models.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, llmhttp.ErrInvalidResponse)
}

func TestGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "image-test", body["model"])
		assert.Equal(t, "a bakery at dawn", body["prompt"])
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img.test/1.png"}]}`))
	}))
	defer srv.Close()

	url, err := newProvider(srv.URL).GenerateImage(context.Background(), "a bakery at dawn")
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/1.png", url)
}

func TestGenerateImage_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := newProvider(srv.URL).GenerateImage(context.Background(), "x")
	assert.ErrorIs(t, err, llmhttp.ErrInvalidResponse)
}
