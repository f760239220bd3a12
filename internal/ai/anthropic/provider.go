package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/sitepulse/internal/ai/llmhttp"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 2048
)

// Provider implements models.Completer using the Anthropic messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *llmhttp.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": apiVersion,
	}
	return &Provider{cfg: cfg, client: llmhttp.New(baseURL, headers, timeout)}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	body := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	}

	var resp messagesResponse
	if err := p.client.PostJSON(ctx, "/v1/messages", body, &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: no text content (stop_reason %q)", llmhttp.ErrInvalidResponse, resp.StopReason)
	}
	return text, nil
}

var _ models.Completer = (*Provider)(nil)
