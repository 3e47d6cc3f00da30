package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"session-service/internal/config"
	"session-service/internal/util"
)

// TokenClient fetches short-lived access tokens from the auth API. It is the
// credential source for presence authentication.
type TokenClient struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenClient(cfg *config.Config) *TokenClient {
	return &TokenClient{
		baseURL: cfg.ResolveAuthBaseURL(),
		apiKey:  cfg.Auth.APIKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a cached token when still fresh, otherwise fetches a
// new one from the auth API.
func (c *TokenClient) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.expires) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/access-token", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach auth API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth API returned status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("auth API returned an empty token")
	}

	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c.mu.Lock()
	c.token = body.AccessToken
	// Refresh slightly before the server-side expiry.
	c.expires = time.Now().Add(ttl - 30*time.Second)
	c.mu.Unlock()

	util.Debug("fetched fresh access token", util.Duration("ttl", ttl))
	return body.AccessToken, nil
}

// Invalidate drops the cached token, forcing a refetch on next use.
func (c *TokenClient) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}
