package msgraph

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TokenData holds an opaque Graph bearer token and its expiry.
type TokenData struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired returns true if the token is expired or will expire within 30 seconds.
func (t *TokenData) IsExpired() bool {
	return time.Now().Add(30 * time.Second).After(t.ExpiresAt)
}

// NewTokenData wraps a raw bearer token, taking the expiry from its JWT exp
// claim or assuming 45 minutes when the token cannot be decoded.
func NewTokenData(token string, now time.Time) *TokenData {
	exp := ExpiryFromJWT(token)
	if exp.IsZero() {
		exp = now.Add(45 * time.Minute)
	}
	return &TokenData{AccessToken: token, ExpiresAt: exp}
}

// ExpiryFromJWT reads the exp claim without verifying the signature.
func ExpiryFromJWT(token string) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return time.Time{}
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(claims.Exp, 0)
}

// LoadTokens reads a cached token from path.
// Returns nil, nil if the file does not exist.
func LoadTokens(path string) (*TokenData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tokens TokenData
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}

	return &tokens, nil
}

// SaveTokens writes tokens to path with 0600 permissions.
// Uses atomic write (tmp + rename) to prevent corruption.
func SaveTokens(path string, tokens *TokenData) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tokens: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing temp token file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming token file: %w", err)
	}

	return nil
}

// EnsureValidToken prefers a freshly supplied token (caching it at path) and
// otherwise falls back to the cached one.
func EnsureValidToken(path, supplied string) (string, error) {
	if supplied != "" {
		td := NewTokenData(supplied, time.Now())
		if td.IsExpired() {
			return "", fmt.Errorf("supplied Graph token is expired")
		}
		if err := SaveTokens(path, td); err != nil {
			return "", err
		}
		return td.AccessToken, nil
	}

	tokens, err := LoadTokens(path)
	if err != nil {
		return "", fmt.Errorf("loading cached token: %w", err)
	}
	if tokens == nil {
		return "", fmt.Errorf("no Graph token available — set graph.token or SHIFTFILL_GRAPH_TOKEN")
	}
	if tokens.IsExpired() {
		return "", fmt.Errorf("cached Graph token expired at %s — supply a fresh one", tokens.ExpiresAt.Format(time.RFC3339))
	}
	return tokens.AccessToken, nil
}
