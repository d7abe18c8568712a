package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/fetch"
	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
)

// TokenPath is where the auth service issues tokens
const TokenPath = "/api/token"

type tokenRequest struct {
	Subject   string `json:"subject"`
	ExpiresIn int64  `json:"expires_in"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// TokenClientConfig configures a TokenClient
type TokenClientConfig struct {
	// AuthHost is "host:port" or a full base URL
	AuthHost string
	Subject  string
	TTL      time.Duration
	Timeout  time.Duration
	Retry    resilience.RetryConfig
}

// TokenClient obtains bearer tokens from the remote auth service and caches them
type TokenClient struct {
	endpoint   string
	subject    string
	ttl        time.Duration
	httpClient *http.Client
	retrier    *resilience.Retrier
	cache      *TokenCache
	now        func() time.Time
}

// NewTokenClient creates a client that caches tokens in cache
func NewTokenClient(config TokenClientConfig, httpClient *http.Client, cache *TokenCache) *TokenClient {
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}

	return &TokenClient{
		endpoint:   tokenEndpoint(config.AuthHost),
		subject:    config.Subject,
		ttl:        config.TTL,
		httpClient: httpClient,
		retrier:    resilience.NewRetrier(config.Retry),
		cache:      cache,
		now:        time.Now,
	}
}

func tokenEndpoint(authHost string) string {
	base := strings.TrimRight(authHost, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + TokenPath
}

// Token returns a cached token while it is usable and requests a new one otherwise
func (c *TokenClient) Token(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(ctx); ok {
		return token, nil
	}

	token, err := resilience.Do(ctx, c.retrier, c.request)
	if err != nil {
		return "", err
	}

	c.cache.Set(ctx, token)
	return token.Value, nil
}

func (c *TokenClient) request(ctx context.Context) (CachedToken, error) {
	body, err := json.Marshal(tokenRequest{Subject: c.subject, ExpiresIn: int64(c.ttl / time.Second)})
	if err != nil {
		return CachedToken{}, apperrors.NewInternalError("encoding token request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return CachedToken{}, apperrors.NewValidationError("creating token request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	issuedAt := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return CachedToken{}, ctx.Err()
		}
		return CachedToken{}, apperrors.NewTransientError("auth", "requesting token").WithCause(err)
	}
	defer resp.Body.Close()

	if appErr := fetch.Classify("auth", resp); appErr != nil {
		return CachedToken{}, appErr
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return CachedToken{}, apperrors.NewTransientError("auth", "reading token response").WithCause(err)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return CachedToken{}, apperrors.NewAuthenticationError("auth service returned invalid JSON").WithCause(err)
	}
	if parsed.Token == "" {
		return CachedToken{}, apperrors.NewAuthenticationError("auth service returned no token")
	}

	ttl := c.ttl
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	return CachedToken{Value: parsed.Token, ExpiresAt: issuedAt.Add(ttl)}, nil
}
