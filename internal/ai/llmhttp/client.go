// Package llmhttp is the JSON-over-HTTP transport shared by the language
// model providers.
package llmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for provider calls.
var (
	ErrUnavailable     = errors.New("ai provider unavailable")
	ErrTimeout         = errors.New("ai inference timeout")
	ErrInvalidResponse = errors.New("ai provider returned invalid response")
	ErrRejected        = errors.New("ai provider rejected the request")
)

// HTTPError carries a non-2xx provider response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Client posts JSON to one provider base URL.
type Client struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// New creates a Client. headers are sent with every request.
func New(baseURL string, headers map[string]string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PostJSON encodes body, posts it to path and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		return fmt.Errorf("%w: %w", classifyStatus(resp.StatusCode), httpErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrInvalidResponse, err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
