package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, breaker *resilience.CircuitBreaker) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		Service: "gitlab",
		BaseURL: server.URL + "/",
		Retry:   resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond},
	}, server.Client(), breaker, PrivateToken("glpat-secret"))
}

func TestClient_GetText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/1/jobs/2/trace", r.URL.Path)
		assert.Equal(t, "glpat-secret", r.Header.Get("PRIVATE-TOKEN"))
		w.Write([]byte("job log"))
	}, nil)

	got, err := client.GetText(context.Background(), "/api/v4/projects/1/jobs/2/trace")

	require.NoError(t, err)
	assert.Equal(t, "job log", got)
}

func TestClient_GetJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 7, "status": "failed"}`))
	}, nil)

	var job struct {
		ID     int    `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/job", &job))
	assert.Equal(t, 7, job.ID)
	assert.Equal(t, "failed", job.Status)
}

func TestClient_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}, nil)

	var target map[string]interface{}
	err := client.GetJSON(context.Background(), "/job", &target)

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantType  apperrors.ErrorType
		wantCalls int32
	}{
		{name: "unauthorized is fatal", status: http.StatusUnauthorized, wantType: apperrors.ErrorTypeAuthentication, wantCalls: 1},
		{name: "forbidden is fatal", status: http.StatusForbidden, wantType: apperrors.ErrorTypeAuthentication, wantCalls: 1},
		{name: "not found is not retried", status: http.StatusNotFound, wantType: apperrors.ErrorTypeNotFound, wantCalls: 1},
		{name: "bad request is not retried", status: http.StatusBadRequest, wantType: apperrors.ErrorTypeValidation, wantCalls: 1},
		{name: "server error is retried", status: http.StatusBadGateway, wantType: apperrors.ErrorTypeRetryExhausted, wantCalls: 3},
		{name: "rate limit is retried", status: http.StatusTooManyRequests, wantType: apperrors.ErrorTypeRetryExhausted, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}, nil)

			_, err := client.GetText(context.Background(), "/trace")

			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.wantType), "got %v", err)
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
			assert.Equal(t, tt.status, apperrors.GetStatusCode(err))
		})
	}
}

func TestClient_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}, nil)

	got, err := client.GetText(context.Background(), "/trace")

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(Config{
		Service: "jenkins",
		BaseURL: url,
		Retry:   resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, nil, nil, nil)

	_, err := client.GetText(context.Background(), "/job/x/1/consoleText")

	require.Error(t, err)
	assert.True(t, resilience.IsRetryExhausted(err))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransient))
}

func TestClient_BreakerIgnoresNotFound(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "gitlab",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		IsFailure:        IsBreakerFailure,
	})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, breaker)

	for i := 0; i < 3; i++ {
		_, err := client.GetText(context.Background(), "/trace")
		assert.True(t, apperrors.IsNotFound(err))
	}
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestClient_OpenBreakerFailsFast(t *testing.T) {
	var calls int32
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "gitlab",
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
		IsFailure:        IsBreakerFailure,
	})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, breaker)

	_, err := client.GetText(context.Background(), "/trace")
	assert.True(t, resilience.IsCircuitOpen(err))

	_, err = client.GetText(context.Background(), "/trace")
	assert.True(t, resilience.IsCircuitOpen(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAuthorizers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	BearerToken("abc")(req)
	BasicAuth("jenkins", "token")(req)
	user, pass, ok := req.BasicAuth()

	assert.True(t, ok)
	assert.Equal(t, "jenkins", user)
	assert.Equal(t, "token", pass)

	empty := httptest.NewRequest(http.MethodGet, "/", nil)
	BearerToken("")(empty)
	PrivateToken("")(empty)
	assert.Empty(t, empty.Header.Get("Authorization"))
	assert.Empty(t, empty.Header.Get("PRIVATE-TOKEN"))
}
