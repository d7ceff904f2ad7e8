package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/internal/upload"
	"github.com/ReggieReo/devops-question1/pkg/broker"
	"github.com/ReggieReo/devops-question1/pkg/config"
	"github.com/ReggieReo/devops-question1/pkg/kafka"
	"github.com/ReggieReo/devops-question1/pkg/logger"
	"github.com/ReggieReo/devops-question1/pkg/metrics"
	"github.com/ReggieReo/devops-question1/pkg/rabbitmq"
	"github.com/ReggieReo/devops-question1/pkg/storage/objectstore"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

const serviceName = "video-upload"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadUpload()
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

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	service := upload.NewService(upload.Params{
		Store:     store,
		Publisher: newPublisher(cfg.Broker, logr),
		Logger:    logr,
	})

	handler := upload.NewHTTPHandler(service, logr, cfg.Limits.MaxSizeBytes)

	// Bodies are bounded by the handler's size limit and route timeout.
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
		if err := service.Close(); err != nil {
			logr.Error("service shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("upload service starting",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.String("broker", cfg.Broker.Driver),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
	<-shutdownDone
}

func newPublisher(cfg config.BrokerConfig, logr *zap.Logger) broker.Publisher {
	if cfg.Driver == config.DriverKafka {
		return kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        broker.VideoUploaded,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Retries,
		})
	}
	return rabbitmq.New(rabbitmq.Config{
		URL:                cfg.RabbitURL,
		Exchange:           broker.VideoUploaded,
		DeadLetterExchange: broker.VideoUploadedDeadLetter,
	}, logr)
}
