package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/sitepulse/internal/api/response"
	"github.com/kiranshivaraju/sitepulse/pkg/models"
)

const keyPrefixLen = 8

// SessionHeader carries the anonymous session id of callers without an API key.
const SessionHeader = "X-Session-ID"

// KeyStore looks up API keys.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// Auth identifies the tenant a request acts for.
type Auth struct {
	keys KeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(keys KeyStore) *Auth {
	return &Auth{keys: keys}
}

// Identify resolves the caller's tenant. A Bearer API key makes the request
// act for the key's user and must be valid; without one the X-Session-ID
// header names a session tenant. Requests with neither pass through with no
// tenant attached.
func (a *Auth) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if session := strings.TrimSpace(r.Header.Get(SessionHeader)); session != "" {
				r = r.WithContext(SetTenant(r.Context(), models.SessionTenant(session)))
			}
			next.ServeHTTP(w, r)
			return
		}

		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}
		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid API key format", nil)
			return
		}

		keys, err := a.keys.GetAPIKeyByPrefix(r.Context(), rawKey[:keyPrefixLen])
		if err != nil {
			slog.Error("api key lookup failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "Failed to validate API key", nil)
			return
		}

		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
				continue
			}
			go func(id uuid.UUID) {
				if err := a.keys.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
					slog.Warn("updating api key last use failed", "key_id", id, "error", err)
				}
			}(key.ID)
			r = r.WithContext(SetTenant(r.Context(), models.UserTenant(key.UserID)))
			next.ServeHTTP(w, r)
			return
		}

		response.Error(w, http.StatusUnauthorized,
			response.CodeInvalidToken, "Invalid API key", nil)
	})
}

// RequireUser rejects requests that were not authenticated with an API key.
func (a *Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, ok := GetTenant(r)
		if !ok || t.UserID == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "An API key is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
