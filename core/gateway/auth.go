package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	envAPIKeys = "RQADMIN_API_KEYS"
	envAPIKey  = "RQADMIN_API_KEY"

	roleAdmin  = "admin"
	roleViewer = "viewer"
)

var errForbidden = errors.New("forbidden")

// AuthContext captures request identity for auditing and role checks.
type AuthContext struct {
	APIKey      string
	PrincipalID string
	Role        string
}

type authContextKey struct{}

// AuthProvider injects auth context and enforces access control.
type AuthProvider interface {
	AuthenticateHTTP(r *http.Request) (*AuthContext, error)
	RequireRole(r *http.Request, roles ...string) error
}

func authFromContext(ctx context.Context) *AuthContext {
	if ctx == nil {
		return nil
	}
	if auth, ok := ctx.Value(authContextKey{}).(*AuthContext); ok {
		return auth
	}
	return nil
}

func authFromRequest(r *http.Request) *AuthContext {
	if r == nil {
		return nil
	}
	return authFromContext(r.Context())
}

// actorFromRequest names the caller in audit events.
func actorFromRequest(r *http.Request) string {
	auth := authFromRequest(r)
	if auth == nil {
		return ""
	}
	if auth.PrincipalID != "" {
		return auth.PrincipalID
	}
	return auth.Role
}

type apiKeyEntry struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// BasicAuthProvider checks X-API-Key against keys loaded from the
// environment. With no keys configured every request is an anonymous admin.
type BasicAuthProvider struct {
	keys          map[string]apiKeyEntry
	requireAPIKey bool
}

// NewBasicAuthProvider loads keys from RQADMIN_API_KEYS, RQADMIN_API_KEY or
// API_KEY.
func NewBasicAuthProvider() (*BasicAuthProvider, error) {
	keys, requireKey, err := loadBasicAPIKeys()
	if err != nil {
		return nil, err
	}
	return &BasicAuthProvider{keys: keys, requireAPIKey: requireKey}, nil
}

func (b *BasicAuthProvider) AuthenticateHTTP(r *http.Request) (*AuthContext, error) {
	if r == nil {
		return nil, errors.New("request required")
	}
	key := normalizeAPIKey(r.Header.Get("X-API-Key"))
	if key == "" && websocket.IsWebSocketUpgrade(r) {
		key = normalizeAPIKey(apiKeyFromWebSocket(r))
	}
	return b.authenticate(key, headerValue(r, "X-Principal-Id"))
}

func (b *BasicAuthProvider) authenticate(key, principalID string) (*AuthContext, error) {
	if b == nil || !b.requireAPIKey {
		return &AuthContext{APIKey: key, PrincipalID: principalID, Role: roleAdmin}, nil
	}
	if key == "" {
		return nil, errors.New("api key required")
	}
	entry, ok := b.keys[key]
	if !ok {
		return nil, errors.New("invalid api key")
	}
	if principalID == "" {
		principalID = entry.Name
	}
	return &AuthContext{APIKey: key, PrincipalID: principalID, Role: entry.Role}, nil
}

func (b *BasicAuthProvider) RequireRole(r *http.Request, roles ...string) error {
	if b == nil || !b.requireAPIKey || len(roles) == 0 {
		return nil
	}
	auth := authFromRequest(r)
	if auth == nil {
		return errForbidden
	}
	if roleAllowed(auth.Role, roles...) {
		return nil
	}
	return fmt.Errorf("%w: role %q", errForbidden, auth.Role)
}

func loadBasicAPIKeys() (map[string]apiKeyEntry, bool, error) {
	keys := map[string]apiKeyEntry{}
	requireKey := false

	raw := strings.TrimSpace(os.Getenv(envAPIKeys))
	if raw != "" {
		entries, err := parseAPIKeys(raw)
		if err != nil {
			return nil, false, err
		}
		for _, entry := range entries {
			entry.Key = normalizeAPIKey(entry.Key)
			if entry.Key == "" {
				continue
			}
			entry.Role = normalizeRole(entry.Role)
			if entry.Role == "" {
				entry.Role = roleAdmin
			}
			keys[entry.Key] = entry
		}
		requireKey = true
	}

	single := normalizeAPIKey(os.Getenv(envAPIKey))
	if single == "" {
		single = normalizeAPIKey(os.Getenv("API_KEY"))
	}
	if single != "" {
		keys[single] = apiKeyEntry{Key: single, Role: roleAdmin}
		requireKey = true
	}

	return keys, requireKey, nil
}

// parseAPIKeys accepts a JSON list, a JSON object keyed by API key, or a
// comma separated list of key, name:key or name:key:role entries.
func parseAPIKeys(raw string) ([]apiKeyEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var entries []apiKeyEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAPIKeys, err)
		}
		return entries, nil
	}
	if strings.HasPrefix(raw, "{") {
		entries := map[string]apiKeyEntry{}
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAPIKeys, err)
		}
		out := make([]apiKeyEntry, 0, len(entries))
		for key, entry := range entries {
			entry.Key = key
			out = append(out, entry)
		}
		return out, nil
	}
	parts := strings.Split(raw, ",")
	entries := make([]apiKeyEntry, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chunks := strings.Split(part, ":")
		entry := apiKeyEntry{}
		switch len(chunks) {
		case 1:
			entry.Key = strings.TrimSpace(chunks[0])
		case 2:
			entry.Name = strings.TrimSpace(chunks[0])
			entry.Key = strings.TrimSpace(chunks[1])
		default:
			entry.Name = strings.TrimSpace(chunks[0])
			entry.Key = strings.TrimSpace(chunks[1])
			entry.Role = strings.TrimSpace(chunks[2])
		}
		if entry.Key != "" {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values (e.g. "super-secret-key").
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

func apiKeyFromWebSocket(r *http.Request) string {
	if r == nil {
		return ""
	}
	protocols := websocket.Subprotocols(r)
	for i, protocol := range protocols {
		if strings.EqualFold(protocol, wsAPIKeyProtocol) && i+1 < len(protocols) {
			return decodeWSAPIKey(protocols[i+1])
		}
		prefix := strings.ToLower(wsAPIKeyProtocol) + "."
		if strings.HasPrefix(strings.ToLower(protocol), prefix) {
			return decodeWSAPIKey(protocol[len(prefix):])
		}
	}
	return ""
}

func decodeWSAPIKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return string(decoded)
	}
	return raw
}

func roleAllowed(role string, allowed ...string) bool {
	role = normalizeRole(role)
	if role == "" {
		return false
	}
	for _, candidate := range allowed {
		if role == normalizeRole(candidate) {
			return true
		}
	}
	return false
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "operator" || role == "manage" {
		return roleAdmin
	}
	return role
}

func headerValue(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(name))
}
