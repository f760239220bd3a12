package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/sitepulse/internal/ai/llmhttp"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// Provider implements models.Completer using a local Ollama server.
type Provider struct {
	cfg    config.OllamaConfig
	client *llmhttp.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: llmhttp.New(cfg.BaseURL, nil, timeout)}
}

func (p *Provider) Name() string { return "ollama" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body := chatRequest{Model: p.cfg.Model, Stream: false}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.Format = "json"
	}
	if req.MaxTokens > 0 {
		body.Options = &chatOptions{NumPredict: req.MaxTokens}
	}

	var resp chatResponse
	if err := p.client.PostJSON(ctx, "/api/chat", body, &resp); err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", llmhttp.ErrInvalidResponse)
	}
	return content, nil
}

var _ models.Completer = (*Provider)(nil)
