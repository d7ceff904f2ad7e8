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

	"github.com/ReggieReo/devops-question1/internal/catalog"
	"github.com/ReggieReo/devops-question1/internal/ingestion"
	"github.com/ReggieReo/devops-question1/internal/metadata"
	"github.com/ReggieReo/devops-question1/pkg/broker"
	"github.com/ReggieReo/devops-question1/pkg/config"
	"github.com/ReggieReo/devops-question1/pkg/kafka"
	"github.com/ReggieReo/devops-question1/pkg/logger"
	"github.com/ReggieReo/devops-question1/pkg/metrics"
	"github.com/ReggieReo/devops-question1/pkg/rabbitmq"
	"github.com/ReggieReo/devops-question1/pkg/tracing"
)

const serviceName = "metadata"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadMetadata()
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

	store, err := catalog.OpenMongo(ctx, catalog.MongoConfig{
		URI:            cfg.DB.Host,
		Database:       cfg.DB.Name,
		Collection:     cfg.DB.Collection,
		ConnectTimeout: cfg.DB.ConnectTimeout,
	})
	if err != nil {
		logr.Fatal("connect catalog", zap.Error(err))
	}

	subscriber, closeBroker := newSubscriber(cfg.Broker, logr)

	consumer := ingestion.NewConsumer(ingestion.Params{
		Store:                store,
		Subscriber:           subscriber,
		Logger:               logr,
		RetryInitialInterval: cfg.Ingestion.RetryInitialInterval,
		RetryMaxInterval:     cfg.Ingestion.RetryMaxInterval,
	})
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx)
	}()

	handler := metadata.NewHTTPHandler(metadata.NewService(store), logr)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
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
		if err := <-consumerDone; err != nil {
			logr.Error("ingestion consumer stopped", zap.Error(err))
		}
		if err := closeBroker(); err != nil {
			logr.Error("broker shutdown failed", zap.Error(err))
		}
		if err := store.Close(shutdownCtx); err != nil {
			logr.Error("catalog shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("metadata service starting",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.String("broker", cfg.Broker.Driver),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Fatal("http server failed", zap.Error(err))
	}
	<-shutdownDone
}

// newSubscriber picks the broker driver. The returned func releases every
// handle the subscriber holds.
func newSubscriber(cfg config.BrokerConfig, logr *zap.Logger) (broker.Subscriber, func() error) {
	if cfg.Driver == config.DriverKafka {
		deadLetter := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        broker.VideoUploadedDeadLetter,
			BatchSize:    1,
			Compression:  kafka.CompressionFromString(cfg.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Retries,
		})
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:         cfg.KafkaBrokers,
			Topic:           broker.VideoUploaded,
			DeadLetterTopic: broker.VideoUploadedDeadLetter,
			GroupPrefix:     cfg.KafkaGroupPrefix,
		}, deadLetter, logr)
		return consumer, func() error {
			return errors.Join(consumer.Close(), deadLetter.Close())
		}
	}

	client := rabbitmq.New(rabbitmq.Config{
		URL:                cfg.RabbitURL,
		Exchange:           broker.VideoUploaded,
		DeadLetterExchange: broker.VideoUploadedDeadLetter,
		Prefetch:           cfg.Prefetch,
	}, logr)
	return client, client.Close
}
