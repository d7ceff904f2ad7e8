package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/internal/gateway"
	"github.com/ReggieReo/devops-question1/pkg/config"
	"github.com/ReggieReo/devops-question1/pkg/logger"
	"github.com/ReggieReo/devops-question1/pkg/metrics"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

const serviceName = "gateway"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(serviceName, cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: serviceName,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	metrics.Serve(ctx, cfg.Metrics.Addr, logr)

	backends, err := gateway.NewBackends(map[gateway.Role]string{
		gateway.RoleMetadata:  cfg.Backends.Metadata,
		gateway.RoleHistory:   cfg.Backends.History,
		gateway.RoleStreaming: cfg.Backends.Streaming,
		gateway.RoleUpload:    cfg.Backends.Upload,
		gateway.RoleAdvertise: cfg.Backends.Advertise,
	})
	if err != nil {
		logr.Fatal("parse backends", zap.Error(err))
	}

	handler := gateway.NewHandler(gateway.Params{
		Backends:         backends,
		Client:           &http.Client{Transport: gateway.NewTransport(cfg.Stream.ResponseHeaderTimeout)},
		Renderer:         gateway.JSONRenderer{},
		Logger:           logr,
		AggregateTimeout: cfg.Stream.AggregateTimeout,
		Stream: gateway.StreamOptions{
			BufferBytes: cfg.Stream.BufferBytes,
			IdleTimeout: cfg.Stream.IdleTimeout,
		},
	})

	// Streamed routes rely on per-write deadlines instead of a server-wide
	// read or write timeout.
	server := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("gateway starting", zap.String("addr", cfg.HTTP.Addr()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
	<-shutdownDone
}
