package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/internal/catalog"
	"github.com/ReggieReo/devops-question1/pkg/broker"
	"github.com/ReggieReo/devops-question1/pkg/metrics"
)

// Consumer applies video-uploaded events to the catalog. It handles one
// delivery at a time and acknowledges a delivery only after the catalog
// write has returned successfully.
type Consumer struct {
	store      catalog.Store
	subscriber broker.Subscriber
	logger     *zap.Logger
	tracer     trace.Tracer

	retryInitial time.Duration
	retryMax     time.Duration
}

type Params struct {
	Store      catalog.Store
	Subscriber broker.Subscriber
	Logger     *zap.Logger
	// Bounds of the exponential backoff used both for resubscribing and
	// for pausing after a failed catalog write.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// NewConsumer constructs a Consumer.
func NewConsumer(p Params) *Consumer {
	if p.RetryInitialInterval <= 0 {
		p.RetryInitialInterval = 500 * time.Millisecond
	}
	if p.RetryMaxInterval < p.RetryInitialInterval {
		p.RetryMaxInterval = 30 * time.Second
	}
	return &Consumer{
		store:        p.Store,
		subscriber:   p.Subscriber,
		logger:       p.Logger.Named("ingestion"),
		tracer:       otel.Tracer("github.com/ReggieReo/devops-question1/internal/ingestion"),
		retryInitial: p.RetryInitialInterval,
		retryMax:     p.RetryMaxInterval,
	}
}

func (c *Consumer) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	return b
}

// Run subscribes and processes deliveries until ctx is cancelled. A lost
// subscription is re-established with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	pause := c.backOff()

	for {
		deliveries, err := backoff.Retry(ctx,
			func() (<-chan broker.Delivery, error) {
				return c.subscriber.Subscribe(ctx)
			},
			backoff.WithBackOff(c.backOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.logger.Warn("subscribe failed", zap.Error(err), zap.Duration("retry_in", next))
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for d := range deliveries {
			if ctx.Err() != nil {
				// unsettled; the broker redelivers it once the subscription ends
				break
			}
			if c.Handle(ctx, d) != metrics.OutcomeStoreError {
				pause.Reset()
				continue
			}
			wait := pause.NextBackOff()
			c.logger.Info("pausing after store failure", zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("subscription closed, resubscribing")
	}
}

// Handle processes one delivery and reports its outcome.
//
//   - malformed body: Nack without requeue (dead-lettered), never acked
//   - catalog write failed: Nack with requeue, never acked
//   - stored or already present: Ack after the write returned
func (c *Consumer) Handle(ctx context.Context, d broker.Delivery) string {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "ingestion.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", broker.VideoUploaded)),
	)
	defer span.End()

	outcome, err := c.handle(ctx, d)
	span.SetAttributes(attribute.String("ingestion.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	metrics.RecordIngestion(outcome, time.Since(start))
	return outcome
}

func (c *Consumer) handle(ctx context.Context, d broker.Delivery) (string, error) {
	event, err := DecodeUploadEvent(d.Body())
	if err != nil {
		c.logger.Error("dropping malformed event to dead-letter",
			zap.Error(err),
			zap.Bool("redelivered", d.Redelivered()),
			zap.Int("body_bytes", len(d.Body())),
		)
		if nerr := d.Nack(false); nerr != nil {
			c.logger.Error("nack malformed event", zap.Error(nerr))
		}
		return metrics.OutcomeMalformed, err
	}

	logger := c.logger.With(zap.String("video_id", event.Video.ID))

	created, err := c.store.Upsert(ctx, event.Record())
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidID) {
			logger.Error("catalog rejected video id", zap.Error(err))
			if nerr := d.Nack(false); nerr != nil {
				logger.Error("nack rejected event", zap.Error(nerr))
			}
			return metrics.OutcomeMalformed, err
		}
		logger.Error("catalog write failed, requeueing", zap.Error(err), zap.Bool("redelivered", d.Redelivered()))
		if nerr := d.Nack(true); nerr != nil {
			logger.Error("nack event", zap.Error(nerr))
		}
		return metrics.OutcomeStoreError, err
	}

	if err := d.Ack(); err != nil {
		// the write is idempotent, so a redelivery after a lost ack is harmless
		logger.Warn("ack failed", zap.Error(err))
	}

	if !created {
		logger.Info("video already catalogued", zap.Bool("redelivered", d.Redelivered()))
		return metrics.OutcomeDuplicate, nil
	}
	logger.Info("video catalogued", zap.String("name", event.Video.Name))
	return metrics.OutcomeStored, nil
}
