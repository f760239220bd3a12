package models

import (
	"errors"
	"strings"
)

const (
	tenantUserPrefix    = "user:"
	tenantSessionPrefix = "session:"
)

var (
	ErrTenantMissing   = errors.New("tenant is required: set a user or a session identifier")
	ErrTenantAmbiguous = errors.New("tenant must not carry both a user and a session identifier")
)

// Tenant identifies on whose behalf work runs: an authenticated user or an
// anonymous session. Exactly one of the two identifiers is set.
type Tenant struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// UserTenant returns a tenant for an authenticated user.
func UserTenant(id string) Tenant { return Tenant{UserID: id} }

// SessionTenant returns a tenant for an anonymous session.
func SessionTenant(id string) Tenant { return Tenant{SessionID: id} }

// Validate checks that exactly one identifier is set.
func (t Tenant) Validate() error {
	user := strings.TrimSpace(t.UserID)
	session := strings.TrimSpace(t.SessionID)
	switch {
	case user == "" && session == "":
		return ErrTenantMissing
	case user != "" && session != "":
		return ErrTenantAmbiguous
	}
	return nil
}

// IsZero reports whether neither identifier is set.
func (t Tenant) IsZero() bool {
	return t.UserID == "" && t.SessionID == ""
}

// IsSession reports whether the tenant is an anonymous session.
func (t Tenant) IsSession() bool {
	return t.UserID == "" && t.SessionID != ""
}

// Key is the stable storage key of the tenant, e.g. "user:42" or "session:s1".
// Admission uniqueness and tenant record upserts are keyed on it.
func (t Tenant) Key() string {
	if t.UserID != "" {
		return tenantUserPrefix + t.UserID
	}
	if t.SessionID != "" {
		return tenantSessionPrefix + t.SessionID
	}
	return ""
}

func (t Tenant) String() string { return t.Key() }

// ParseTenantKey is the inverse of Tenant.Key.
func ParseTenantKey(key string) (Tenant, bool) {
	switch {
	case strings.HasPrefix(key, tenantUserPrefix) && len(key) > len(tenantUserPrefix):
		return UserTenant(strings.TrimPrefix(key, tenantUserPrefix)), true
	case strings.HasPrefix(key, tenantSessionPrefix) && len(key) > len(tenantSessionPrefix):
		return SessionTenant(strings.TrimPrefix(key, tenantSessionPrefix)), true
	}
	return Tenant{}, false
}
