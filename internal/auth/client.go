// Package auth verifies bearer tokens against the hosted identity provider.
// Token issuance, refresh and session cookies all live with the provider;
// this service only asks "who is this token" via the userinfo endpoint.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUnauthenticated is returned for missing, expired or rejected tokens.
var ErrUnauthenticated = errors.New("auth: not authenticated")

const cacheTTL = 5 * time.Minute

// Profile is the subset of the provider's userinfo claims we keep.
type Profile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
}

type cacheEntry struct {
	profile Profile
	expires time.Time
}

// Client resolves bearer tokens to profiles, caching positive results so a
// chatty frontend does not hammer the provider on every request.
type Client struct {
	base string
	http *http.Client

	// Now is the clock; tests override it.
	Now func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a client for an identity provider domain. A bare domain gets
// an https scheme; a full URL (tests) is used as-is. An empty domain yields
// a disabled client: every verification fails with ErrUnauthenticated.
func New(domain string) *Client {
	base := strings.TrimRight(domain, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 10 * time.Second},
		Now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// Enabled reports whether an identity provider is configured.
func (c *Client) Enabled() bool { return c.base != "" }

// Verify resolves a bearer token to the provider profile.
func (c *Client) Verify(ctx context.Context, token string) (Profile, error) {
	if token == "" {
		return Profile{}, ErrUnauthenticated
	}
	if !c.Enabled() {
		return Profile{}, ErrUnauthenticated
	}

	key := cacheKey(token)
	now := c.Now()

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.profile, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/userinfo", nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Profile{}, ErrUnauthenticated
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Profile{}, fmt.Errorf("userinfo http %d", resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if p.Subject == "" {
		return Profile{}, ErrUnauthenticated
	}

	c.mu.Lock()
	// Sweep expired entries so the cache does not grow one entry per
	// distinct token for the life of the process.
	for k, e := range c.cache {
		if !now.Before(e.expires) {
			delete(c.cache, k)
		}
	}
	c.cache[key] = cacheEntry{profile: p, expires: now.Add(cacheTTL)}
	c.mu.Unlock()
	return p, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
