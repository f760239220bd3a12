// Package fetch retrieves a website and extracts the parts the analysis
// pipeline reads: title, visible text, outbound links and meta tags.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/sitepulse/internal/config"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

// Sentinel errors for fetch failures.
var (
	ErrInvalidURL  = errors.New("invalid website url")
	ErrUnreachable = errors.New("website unreachable")
	ErrTimeout     = errors.New("website fetch timeout")
	ErrBadStatus   = errors.New("website returned an error status")
	ErrNotHTML     = errors.New("website did not return html")
	ErrTooLarge    = errors.New("website response too large")
)

const maxRedirects = 5

// Fetcher is the content-fetching collaborator of the website pipeline.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.PageContent, error)
}

// HTTPFetcher implements Fetcher over plain HTTP.
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// NewHTTPFetcher creates a fetcher bounded by cfg's timeout and size limit.
func NewHTTPFetcher(cfg config.FetchConfig) *HTTPFetcher {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	client := &http.Client{Timeout: cfg.Timeout}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
		}
		return nil
	}
	return &HTTPFetcher{
		client:    client,
		maxBytes:  maxBytes,
		userAgent: cfg.UserAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*models.PageContent, error) {
	if err := models.ValidateWebsiteURL(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	target := strings.TrimSpace(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html, application/xhtml+xml;q=0.9, */*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, classifyError(err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	if !isHTML(resp.Header.Get("Content-Type"), body) {
		return nil, fmt.Errorf("%w: content type %q", ErrNotHTML, resp.Header.Get("Content-Type"))
	}

	// After redirects, links resolve against the final URL.
	base := resp.Request.URL
	page, err := Extract(bytes.NewReader(body), base)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	page.URL = base.String()
	return page, nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// IsPermanent reports whether repeating the fetch cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrNotHTML) || errors.Is(err, ErrTooLarge)
}

var _ Fetcher = (*HTTPFetcher)(nil)
