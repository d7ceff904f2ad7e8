// Package metrics holds the Prometheus collectors shared by the services
// and the HTTP server that exposes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ingestion outcomes.
const (
	OutcomeStored     = "stored"
	OutcomeDuplicate  = "duplicate"
	OutcomeMalformed  = "malformed"
	OutcomeStoreError = "store_error"
)

var (
	IngestionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_events_total",
			Help: "Upload events handled by the ingestion consumer, by outcome",
		},
		[]string{"outcome"},
	)

	IngestionHandleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestion_handle_duration_seconds",
			Help:    "Time spent handling one upload event, including the store write",
			Buckets: prometheus.DefBuckets,
		},
	)

	DownstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_downstream_requests_total",
			Help: "Requests issued by the gateway to backend services",
		},
		[]string{"role", "outcome"},
	)

	ProxiedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxied_bytes_total",
			Help: "Response bytes relayed by the streaming proxy",
		},
		[]string{"role"},
	)

	UploadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_stored_bytes_total",
			Help: "Bytes written to object storage by the upload service",
		},
	)
)

// RecordIngestion records one handled event.
func RecordIngestion(outcome string, elapsed time.Duration) {
	IngestionEvents.WithLabelValues(outcome).Inc()
	IngestionHandleDuration.Observe(elapsed.Seconds())
}

// RecordDownstream records one gateway call to a backend role.
func RecordDownstream(role, outcome string) {
	DownstreamRequests.WithLabelValues(role, outcome).Inc()
}

// RecordProxiedBytes adds n relayed bytes for role.
func RecordProxiedBytes(role string, n int64) {
	if n > 0 {
		ProxiedBytes.WithLabelValues(role).Add(float64(n))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the listener.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listener starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}
