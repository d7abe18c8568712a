// Package fetch performs authenticated GETs against CI provider APIs. Every
// request runs through a retry policy and the provider's circuit breaker, and
// every non-2xx status is turned into a typed error.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
)

// Authorizer adds credentials to an outgoing request
type Authorizer func(req *http.Request)

// BearerToken authorizes with "Authorization: Bearer <token>"
func BearerToken(token string) Authorizer {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// PrivateToken authorizes with GitLab's PRIVATE-TOKEN header
func PrivateToken(token string) Authorizer {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set("PRIVATE-TOKEN", token)
		}
	}
}

// BasicAuth authorizes with HTTP basic credentials
func BasicAuth(user, password string) Authorizer {
	return func(req *http.Request) {
		if user != "" {
			req.SetBasicAuth(user, password)
		}
	}
}

// Config configures a Client
type Config struct {
	// Service names the dependency in errors and logs, e.g. "gitlab"
	Service string
	BaseURL string
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// Client is a retrying, breaker-guarded HTTP GET client for one provider
type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
	authorize  Authorizer
	operation  *resilience.RetryableOperation
	logger     *logging.Logger
}

// NewClient creates a client. httpClient may be nil; breaker may be shared with
// other clients of the same dependency.
func NewClient(config Config, httpClient *http.Client, breaker *resilience.CircuitBreaker, authorize Authorizer) *Client {
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if authorize == nil {
		authorize = func(*http.Request) {}
	}
	if config.Retry.RetryableErrors == nil {
		config.Retry.RetryableErrors = resilience.DefaultRetryableErrors
	}

	return &Client{
		service:    config.Service,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		authorize:  authorize,
		operation:  resilience.NewRetryableOperation(breaker, config.Retry),
		logger:     logging.GetLogger(),
	}
}

// Service returns the dependency name
func (c *Client) Service() string {
	return c.service
}

// BaseURL returns the API root requests are made against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetBytes fetches path (relative to the base URL) and returns the body
func (c *Client) GetBytes(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := c.operation.Execute(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.get(ctx, path)
		return err
	})
	return body, err
}

// GetText fetches path and returns the body as a string
func (c *Client) GetText(ctx context.Context, path string) (string, error) {
	body, err := c.GetBytes(ctx, path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetJSON fetches path and decodes the JSON body into target
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	body, err := c.GetBytes(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("%s returned invalid JSON for %s", c.service, path)).WithCause(err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.NewValidationError("creating request").WithCause(err)
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewTransientError(c.service, "executing request").WithCause(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("CI API request",
		"service", c.service,
		"path", path,
		"status_code", resp.StatusCode,
		"duration", time.Since(start),
	)

	if err := Classify(c.service, resp); err != nil {
		return nil, err.WithDetail("path", path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientError(c.service, "reading response body").WithCause(err)
	}
	return body, nil
}

// Classify maps an HTTP status to the error taxonomy. It returns nil for 2xx.
func Classify(service string, resp *http.Response) *apperrors.AppError {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	message := fmt.Sprintf("%s API error: %s", service, resp.Status)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.NewAuthenticationError(message).WithStatusCode(code)
	case code == http.StatusNotFound:
		return apperrors.NewNotFoundError(service + " resource").WithStatusCode(code)
	case code == http.StatusTooManyRequests || code >= 500:
		return apperrors.NewTransientError(service, message).WithStatusCode(code)
	default:
		return apperrors.NewValidationError(message).WithStatusCode(code)
	}
}

// IsBreakerFailure counts only transient failures against a provider's breaker,
// so missing logs and bad credentials do not open it
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return apperrors.IsType(err, apperrors.ErrorTypeTransient)
}
