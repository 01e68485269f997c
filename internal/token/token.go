// Package token maintains the single upstream JWT the proxy forwards on
// behalf of every client. There is one credential set per deployed
// instance (spec.md §1 non-goals) so one Manager is shared process-wide.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// refreshSkew is the minimum remaining lifetime a cached JWT must have to
// be considered reusable — spec.md §3 TokenCacheEntry invariant.
const refreshSkew = 5 * time.Minute

// fallbackLifetime is used when the upstream auth response carries neither
// a decodable JWT exp claim nor a parseable expiration string.
const fallbackLifetime = 55 * time.Minute

// cacheEntry is the TokenCacheEntry of spec.md §3.
type cacheEntry struct {
	jwt         string
	expiresAtMs int64
}

// Manager is the single-writer cache of the upstream JWT. Concurrent
// callers during a refresh may each issue an auth request; both results
// are valid and the last write wins (spec.md §4.3 concurrency note).
type Manager struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	nowFunc    func() time.Time

	mu    sync.RWMutex
	entry cacheEntry
}

// New creates a Manager that authenticates against baseURL using apiKey
// and apiSecret.
func New(baseURL, apiKey, apiSecret string, httpClient *http.Client) *Manager {
	return &Manager{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
		nowFunc:    time.Now,
	}
}

// Acquire returns a valid upstream JWT, refreshing it from the upstream
// auth endpoint if the cached one is missing or within refreshSkew of
// expiry.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	if jwt, ok := m.cached(); ok {
		return jwt, nil
	}
	return m.refresh(ctx)
}

func (m *Manager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.entry.jwt == "" {
		return "", false
	}
	nowMs := m.nowFunc().UnixMilli()
	if m.entry.expiresAtMs-nowMs > refreshSkew.Milliseconds() {
		return m.entry.jwt, true
	}
	return "", false
}

type authRequest struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type authResponse struct {
	Token      string `json:"token"`
	Expiration string `json:"expiration"`
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(authRequest{APIKey: m.apiKey, APISecret: m.apiSecret})
	if err != nil {
		return "", fmt.Errorf("encoding auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/Authorization", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Bloxs auth failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("Bloxs auth failed: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading auth response: %w", err)
	}

	var parsed authResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing auth response: %w", err)
	}

	expiresAtMs := m.resolveExpiry(parsed)

	m.mu.Lock()
	m.entry = cacheEntry{jwt: parsed.Token, expiresAtMs: expiresAtMs}
	m.mu.Unlock()

	return parsed.Token, nil
}

// resolveExpiry implements the ordered fallback strategy of spec.md §4.3:
// JWT exp claim, then the "expiration" string (day-first, then
// month-first), then a fixed fallback lifetime from now.
func (m *Manager) resolveExpiry(resp authResponse) int64 {
	now := m.nowFunc()

	if ms, ok := expiryFromJWT(resp.Token); ok {
		return ms
	}
	if ms, ok := parseExpirationString(resp.Expiration); ok {
		return ms
	}
	return now.Add(fallbackLifetime).UnixMilli()
}
