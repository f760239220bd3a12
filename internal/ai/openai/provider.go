package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/sitepulse/internal/ai/llmhttp"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements models.Completer and models.ImageGenerator using the
// OpenAI chat completions and image generation endpoints.
type Provider struct {
	cfg    config.OpenAIConfig
	client *llmhttp.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	return &Provider{cfg: cfg, client: llmhttp.New(baseURL, headers, timeout)}
}

func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body := chatRequest{Model: p.cfg.Model, MaxTokens: req.MaxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := p.client.PostJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", llmhttp.ErrInvalidResponse)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", llmhttp.ErrInvalidResponse)
	}
	return content, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// GenerateImage returns the hosted URL of one generated image.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	body := imageRequest{Model: p.cfg.ImageModel, Prompt: prompt, N: 1, Size: "1024x1024"}

	var resp imageResponse
	if err := p.client.PostJSON(ctx, "/images/generations", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return "", fmt.Errorf("%w: no image returned", llmhttp.ErrInvalidResponse)
	}
	return strings.TrimSpace(resp.Data[0].URL), nil
}

var (
	_ models.Completer      = (*Provider)(nil)
	_ models.ImageGenerator = (*Provider)(nil)
)
