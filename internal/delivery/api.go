// Package delivery sends processed pipeline results to the analysis API and
// writes them to local storage.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/auth"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/internal/fetch"
	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

const (
	// StageDeliver is the stage recorded for POSTs to the analysis API
	StageDeliver = "deliver"
	// StageWrite is the stage recorded for file sink writes
	StageWrite = "write"

	statusOK = "ok"
)

// APIConfig configures the analysis API sink
type APIConfig struct {
	URL     string
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// APISink POSTs analysis requests. A delivery succeeds only when the API
// answers 2xx with {"status": "ok"}.
type APISink struct {
	url        string
	httpClient *http.Client
	chain      *auth.Chain
	operation  *resilience.RetryableOperation
	logger     *logging.Logger
	now        func() time.Time
}

// NewAPISink creates the sink. breaker guards the analysis API and is shared
// across events; chain selects the bearer token.
func NewAPISink(config APIConfig, httpClient *http.Client, breaker *resilience.CircuitBreaker, chain *auth.Chain) *APISink {
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if chain == nil {
		chain = auth.NewChain(nil, nil, "")
	}

	retry := config.Retry
	if retry.RetryableErrors == nil {
		retry.RetryableErrors = IsRetryableDelivery
	}

	return &APISink{
		url:        config.URL,
		httpClient: httpClient,
		chain:      chain,
		operation:  resilience.NewRetryableOperation(breaker, retry),
		logger:     logging.GetLogger(),
		now:        time.Now,
	}
}

// IsRetryableDelivery retries transient failures and rejected deliveries
func IsRetryableDelivery(err error) bool {
	if resilience.DefaultRetryableErrors(err) {
		return true
	}
	return !resilience.IsCircuitOpen(err) && !resilience.IsRetryExhausted(err) &&
		apperrors.IsType(err, apperrors.ErrorTypeDeliveryRejected)
}

// Deliver authorizes and POSTs req. Every auth stage and every POST is
// returned as an attempt, whether it succeeded or not.
func (s *APISink) Deliver(ctx context.Context, req *types.AnalysisRequest) (*types.AnalysisResponse, []types.DeliveryAttempt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, apperrors.NewInternalError("encoding analysis request").WithCause(err)
	}

	credential, authAttempts := s.chain.Authorize(ctx)

	var (
		mu       sync.Mutex
		attempts = authAttempts
		response *types.AnalysisResponse
	)
	err = s.operation.Execute(ctx, func(ctx context.Context) error {
		start := s.now()
		resp, statusCode, err := s.post(ctx, body, credential)

		attempt := types.DeliveryAttempt{
			Sink:       types.SinkAPI,
			Stage:      StageDeliver,
			Outcome:    types.OutcomeSuccess,
			StatusCode: statusCode,
			Duration:   s.now().Sub(start),
			At:         start,
		}
		if err != nil {
			attempt.Outcome = types.OutcomeFailure
			attempt.Error = err.Error()
		}
		s.logger.LogDeliveryAttempt(ctx, attempt.Sink, attempt.Stage, attempt.Outcome, statusCode, attempt.Duration, attempt.Error)

		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()

		if err != nil {
			return err
		}
		response = resp
		return nil
	})

	if err != nil && credential.Stage == auth.StageTokenService &&
		apperrors.IsType(err, apperrors.ErrorTypeAuthentication) {
		// the cached token was refused, request a fresh one next time
		s.chain.InvalidateCachedToken(ctx)
	}
	if resilience.IsCircuitOpen(err) && len(attempts) == len(authAttempts) {
		attempts = append(attempts, types.DeliveryAttempt{
			Sink:    types.SinkAPI,
			Stage:   StageDeliver,
			Outcome: types.OutcomeFailure,
			Error:   err.Error(),
			At:      s.now(),
		})
	}

	return response, attempts, err
}

func (s *APISink) post(ctx context.Context, body []byte, credential auth.Credential) (*types.AnalysisResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperrors.NewValidationError("creating analysis request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+credential.Bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, apperrors.NewTransientError("analysis", "posting analysis request").WithCause(err)
	}
	defer resp.Body.Close()

	if appErr := fetch.Classify("analysis", resp); appErr != nil {
		return nil, resp.StatusCode, appErr
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperrors.NewTransientError("analysis", "reading analysis response").WithCause(err)
	}

	var parsed types.AnalysisResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, resp.StatusCode, apperrors.NewDeliveryRejectedError("analysis API returned invalid JSON").
			WithStatusCode(resp.StatusCode).WithCause(err)
	}
	if parsed.Status != statusOK {
		return nil, resp.StatusCode, apperrors.NewDeliveryRejectedError(fmt.Sprintf("analysis API answered status %q", parsed.Status)).
			WithStatusCode(resp.StatusCode)
	}

	return &parsed, resp.StatusCode, nil
}
