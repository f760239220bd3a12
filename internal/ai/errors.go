package ai

import (
	"errors"

	"github.com/kiranshivaraju/sitepulse/internal/ai/llmhttp"
)

var (
	ErrProviderUnavailable = llmhttp.ErrUnavailable
	ErrInferenceTimeout    = llmhttp.ErrTimeout
	ErrInvalidResponse     = llmhttp.ErrInvalidResponse
	ErrRequestRejected     = llmhttp.ErrRejected

	ErrNoImageGenerator = errors.New("no image generator configured")
)
