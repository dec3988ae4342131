// Package icd11 talks to the WHO ICD-11 API and keeps the local
// Traditional Medicine Module 2 snapshot current.
package icd11

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/ayushsetu/ayushsetu/internal/platform/cache"
)

var (
	ErrAuth         = errors.New("icd11: authentication failed")
	ErrSyncInFlight = errors.New("icd11: sync already running for this system")
)

const (
	tokenCacheKey = "icd11:access_token"
	// Fallback when the token endpoint does not report a lifetime.
	defaultTokenTTL = 50 * time.Minute
	// The cached copy must expire before the token itself does.
	tokenTTLMargin = 10 * time.Minute
)

// tokenCacheTTL derives the cache lifetime from the reported expires_in
// seconds, keeping a safety margin below the real lifetime.
func tokenCacheTTL(expiresIn int) time.Duration {
	if expiresIn <= 0 {
		return defaultTokenTTL
	}
	lifetime := time.Duration(expiresIn) * time.Second
	if lifetime <= tokenTTLMargin {
		return lifetime / 2
	}
	return lifetime - tokenTTLMargin
}

// ClientConfig carries the WHO API endpoints and OAuth2 credentials.
type ClientConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RootEntity   string
}

// Entity is one concept from the WHO linearization, with titles and
// child links already unwrapped from the localized wire shape.
type Entity struct {
	ID         string
	Code       string
	Title      string
	Definition string
	Children   []string
}

// Client wraps the WHO ICD-11 API with token caching.
type Client struct {
	http   *resty.Client
	cfg    ClientConfig
	tokens *cache.Cache
	logger zerolog.Logger
}

func NewClient(cfg ClientConfig, tokens *cache.Cache, logger zerolog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(30 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		cfg:    cfg,
		tokens: tokens,
		logger: logger.With().Str("component", "icd11").Logger(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// authenticate fetches a fresh client-credentials token and reports how
// long it may be cached.
func (c *Client) authenticate(ctx context.Context) (string, time.Duration, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
			"scope":      "icdapi_access",
		}).
		SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
		Post(c.cfg.TokenURL)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		return "", 0, fmt.Errorf("%w: token endpoint returned %d", ErrAuth, resp.StatusCode())
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrAuth)
	}
	return tok.AccessToken, tokenCacheTTL(tok.ExpiresIn), nil
}

// token returns a cached access token, refreshing it on miss. Without a
// cache every call authenticates.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		tok, _, err := c.authenticate(ctx)
		return tok, err
	}
	return c.tokens.GetOrRefreshString(ctx, tokenCacheKey, c.authenticate)
}

// invalidateToken drops the cached token after a 401.
func (c *Client) invalidateToken(ctx context.Context) {
	if c.tokens != nil {
		if err := c.tokens.Delete(ctx, tokenCacheKey); err != nil {
			c.logger.Warn().Err(err).Msg("dropping stale token failed")
		}
	}
}

// rawEntity mirrors the WHO wire format. Title fields arrive either as
// a plain string or as a localized object.
type rawEntity struct {
	ID         string          `json:"@id"`
	Code       string          `json:"code"`
	Title      json.RawMessage `json:"title"`
	Definition json.RawMessage `json:"definition"`
	Children   []string        `json:"child"`
}

// localizedText unwraps "text", {"@value": text} or {"en": text}.
func localizedText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v, ok := obj["@value"]; ok {
		return v
	}
	return obj["en"]
}

// entityID extracts the trailing identifier from a WHO entity URI.
func entityID(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// FetchEntity retrieves one entity from the linearization. A stale
// token is replaced and the request retried exactly once; a second 401
// reports ErrAuth.
func (c *Client) FetchEntity(ctx context.Context, id string) (*Entity, error) {
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(id, "/")

	for attempt := 0; ; attempt++ {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(tok).
			SetHeader("Accept", "application/json").
			SetHeader("Accept-Language", "en").
			SetHeader("API-Version", "v2").
			Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("fetch entity %s: %w", id, err)
		}

		if resp.StatusCode() == 401 {
			c.invalidateToken(ctx)
			if attempt == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: entity %s rejected twice", ErrAuth, id)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch entity %s: status %d", id, resp.StatusCode())
		}

		var raw rawEntity
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return nil, fmt.Errorf("decode entity %s: %w", id, err)
		}

		children := make([]string, 0, len(raw.Children))
		for _, child := range raw.Children {
			children = append(children, entityID(child))
		}
		return &Entity{
			ID:         entityID(raw.ID),
			Code:       raw.Code,
			Title:      localizedText(raw.Title),
			Definition: localizedText(raw.Definition),
			Children:   children,
		}, nil
	}
}
