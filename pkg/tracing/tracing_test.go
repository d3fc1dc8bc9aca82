package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingProvider() (*Provider, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return &Provider{tp: tp, tracer: tp.Tracer("test")}, rec
}

func TestInitTracerDisabled(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	_, span := p.StartSpan(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		namer     RouteNamer
		wantName  string
		wantError bool
	}{
		{"ok uses route template", http.StatusAccepted, func(*http.Request) string { return "/api/v1/timelapse/{id}" }, "GET /api/v1/timelapse/{id}", false},
		{"not found is not a span error", http.StatusNotFound, nil, "GET /api/v1/timelapse/abc", false},
		{"server error marks span", http.StatusInternalServerError, nil, "GET /api/v1/timelapse/abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := recordingProvider()
			h := HTTPMiddleware(p, tt.namer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/timelapse/abc", nil))

			assert.Equal(t, tt.status, rr.Code)
			assert.NotEmpty(t, rr.Header().Get("traceparent"))

			spans := rec.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.wantName, spans[0].Name())
			assert.Contains(t, spans[0].Attributes(), attribute.Int("http.status_code", tt.status))
			if tt.wantError {
				assert.Equal(t, codes.Error, spans[0].Status().Code)
			} else {
				assert.NotEqual(t, codes.Error, spans[0].Status().Code)
			}
		})
	}
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
