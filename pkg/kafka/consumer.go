package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/broker"
)

type ConsumerConfig struct {
	Brokers         []string
	Topic           string
	DeadLetterTopic string
	// GroupPrefix is suffixed with a random id so each instance forms its
	// own consumer group and receives every message.
	GroupPrefix string
}

// messageReader is the subset of *kafkago.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer is a broadcast subscriber over a Kafka topic. It hands out one
// message at a time; Nack with requeue reopens the reader, which resumes
// from the last committed offset.
type Consumer struct {
	cfg        ConsumerConfig
	groupID    string
	deadLetter broker.Publisher
	logger     *zap.Logger
	newReader  func() messageReader

	// highest offset handed out per partition; touched only by the
	// subscription goroutine.
	seen map[int]int64
}

var _ broker.Subscriber = (*Consumer)(nil)

// NewConsumer builds a Consumer. Rejected messages are written to
// deadLetter before being committed.
func NewConsumer(cfg ConsumerConfig, deadLetter broker.Publisher, logger *zap.Logger) *Consumer {
	if cfg.Topic == "" {
		cfg.Topic = broker.VideoUploaded
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "metadata"
	}

	c := &Consumer{
		cfg:        cfg,
		groupID:    fmt.Sprintf("%s-%s", cfg.GroupPrefix, uuid.NewString()),
		deadLetter: deadLetter,
		logger:     logger.Named("kafka"),
		seen:       map[int]int64{},
	}
	c.newReader = func() messageReader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			GroupID:     c.groupID,
			Topic:       c.cfg.Topic,
			StartOffset: kafkago.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return c
}

// Subscribe starts fetching in the background.
func (c *Consumer) Subscribe(ctx context.Context) (<-chan broker.Delivery, error) {
	out := make(chan broker.Delivery)
	go c.run(ctx, out)
	c.logger.Info("subscribed", zap.String("topic", c.cfg.Topic), zap.String("group", c.groupID))
	return out, nil
}

func (c *Consumer) run(ctx context.Context, out chan<- broker.Delivery) {
	defer close(out)

	for {
		reader := c.newReader()
		rewind, err := c.consume(ctx, reader, out)
		if cerr := reader.Close(); cerr != nil {
			c.logger.Warn("close reader", zap.Error(cerr))
		}
		if rewind {
			c.logger.Debug("rewinding to last committed offset")
			continue
		}
		if err != nil && ctx.Err() == nil {
			c.logger.Error("fetch failed", zap.Error(err))
		}
		return
	}
}

func (c *Consumer) consume(ctx context.Context, reader messageReader, out chan<- broker.Delivery) (bool, error) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return false, err
		}

		last, ok := c.seen[msg.Partition]
		if !ok {
			if err := anchor(ctx, reader, msg); err != nil {
				return false, err
			}
		}
		redelivered := ok && msg.Offset <= last
		if !ok || msg.Offset > last {
			c.seen[msg.Partition] = msg.Offset
		}

		d := &delivery{
			ctx:         ctx,
			msg:         msg,
			reader:      reader,
			deadLetter:  c.deadLetter,
			redelivered: redelivered,
			settled:     make(chan bool, 1),
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return false, ctx.Err()
		}

		select {
		case rewind := <-d.settled:
			if rewind {
				return true, nil
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// anchor commits the offset of msg for a partition this group has not
// committed on yet. Without it a reader reopened by a requeue would start
// from the group's start offset, past msg.
func anchor(ctx context.Context, reader messageReader, msg kafkago.Message) error {
	err := reader.CommitMessages(ctx, kafkago.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset - 1,
	})
	if err != nil {
		return fmt.Errorf("anchor partition %d at offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return nil
}

// Close is a no-op; readers are closed when their subscription ends.
func (c *Consumer) Close() error {
	return nil
}

var errSettled = errors.New("delivery already settled")

type delivery struct {
	ctx         context.Context
	msg         kafkago.Message
	reader      messageReader
	deadLetter  broker.Publisher
	redelivered bool

	once    sync.Once
	settled chan bool
}

func (d *delivery) Body() []byte      { return d.msg.Value }
func (d *delivery) Redelivered() bool { return d.redelivered }

func (d *delivery) Ack() error {
	err := errSettled
	d.once.Do(func() {
		err = d.reader.CommitMessages(d.ctx, d.msg)
		d.settled <- false
	})
	return err
}

func (d *delivery) Nack(requeue bool) error {
	err := errSettled
	d.once.Do(func() {
		if requeue {
			err = nil
			d.settled <- true
			return
		}
		if perr := d.deadLetter.Publish(d.ctx, string(d.msg.Key), d.msg.Value); perr != nil {
			err = fmt.Errorf("dead-letter message at offset %d: %w", d.msg.Offset, perr)
			d.settled <- true
			return
		}
		err = d.reader.CommitMessages(d.ctx, d.msg)
		d.settled <- false
	})
	return err
}
