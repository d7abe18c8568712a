package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingService(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	config := DefaultConfig()
	config.Enabled = true
	return NewWithProvider(tp, config), recorder
}

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(nil)
	require.NoError(t, err)

	ctx, span := ts.StartEventSpan(context.Background(), "gitlab", "evt-1", "backend", "42")
	span.End()

	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestStartEventSpan(t *testing.T) {
	ts, recorder := newRecordingService(t)

	ctx, span := ts.StartEventSpan(context.Background(), "jenkins", "evt-1", "deploy", "17")
	assert.NotEmpty(t, GetTraceID(ctx))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.jenkins", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "deploy", attrs["pipeline.project"])
	assert.Equal(t, "17", attrs["pipeline.id"])
}

func TestTrace_RecordsError(t *testing.T) {
	ts, recorder := newRecordingService(t)

	err := ts.Trace(context.Background(), "delivery.api", func(ctx context.Context) error {
		return errors.New("rejected")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "rejected", spans[0].Status().Description)
}

func TestInstrumentHTTPClient(t *testing.T) {
	ts, recorder := newRecordingService(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("traceparent"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := ts.InstrumentHTTPClient(&http.Client{})
	resp, err := client.Get(server.URL + "/api/v4/projects/1/jobs/2/trace")
	require.NoError(t, err)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
