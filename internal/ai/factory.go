package ai

import (
	"fmt"

	"github.com/kiranshivaraju/sitepulse/internal/ai/anthropic"
	"github.com/kiranshivaraju/sitepulse/internal/ai/mock"
	"github.com/kiranshivaraju/sitepulse/internal/ai/ollama"
	"github.com/kiranshivaraju/sitepulse/internal/ai/openai"
	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// NewProvider constructs the language model provider named by config.
// Called once at worker startup.
func NewProvider(cfg config.AIConfig) (models.Completer, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, openai, anthropic, mock", cfg.Provider)
	}
}

// NewImageGenerator constructs the image provider named by config.
func NewImageGenerator(cfg config.AIConfig) (models.ImageGenerator, error) {
	switch cfg.ImageProvider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown image provider %q: must be one of openai, mock", cfg.ImageProvider)
	}
}
