package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseResourceAttributes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{name: "empty", raw: "", want: map[string]string{}},
		{name: "single", raw: "service.namespace=flixtube", want: map[string]string{"service.namespace": "flixtube"}},
		{
			name: "skips malformed",
			raw:  " a=1 , junk, ,b = 2",
			want: map[string]string{"a": "1", "b": "2"},
		},
		{name: "value with equals", raw: "k=v=w", want: map[string]string{"k": "v=w"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseResourceAttributes(tt.raw))
		})
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "gateway"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInjectExtractRoundTrip(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "gateway"})
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	header := http.Header{}
	Inject(ctx, header)
	require.NotEmpty(t, header.Get("traceparent"))

	got := trace.SpanContextFromContext(Extract(context.Background(), header))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestMiddlewareContinuesCallerTrace(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "metadata"})
	require.NoError(t, err)
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")

	var got trace.TraceID
	h := Middleware("metadata")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context()).TraceID()
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, traceID, got)
}
