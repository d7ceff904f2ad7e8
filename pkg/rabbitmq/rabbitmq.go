package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/broker"
)

// Config describes the broker endpoint and topology.
type Config struct {
	URL                string
	Exchange           string
	DeadLetterExchange string
	// Prefetch bounds unacknowledged deliveries per subscription.
	Prefetch int
}

// Client is a RabbitMQ publisher and fanout subscriber. The underlying
// connection is dialled lazily and re-dialled after it closes.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	conn  *amqp.Connection
	pubCh *amqp.Channel
}

var (
	_ broker.Subscriber = (*Client)(nil)
	_ broker.Publisher  = (*Client)(nil)
)

// New constructs a Client. No connection is made until first use.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Exchange == "" {
		cfg.Exchange = broker.VideoUploaded
	}
	if cfg.DeadLetterExchange == "" {
		cfg.DeadLetterExchange = broker.VideoUploadedDeadLetter
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Client{
		cfg:    cfg,
		logger: logger.Named("rabbitmq"),
	}
}

func (c *Client) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionLocked()
}

func (c *Client) connectionLocked() (*amqp.Connection, error) {
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	c.conn = conn
	c.pubCh = nil
	c.logger.Info("connected to broker")
	return conn, nil
}

// declare asserts the fanout exchange and the durable dead-letter
// exchange with its queue.
func (c *Client) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}
	if err := ch.ExchangeDeclare(c.cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(c.cfg.DeadLetterExchange, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.DeadLetterExchange, err)
	}
	if err := ch.QueueBind(c.cfg.DeadLetterExchange, "", c.cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", c.cfg.DeadLetterExchange, err)
	}
	return nil
}

// Subscribe creates a private, exclusive, auto-deleted queue bound to the
// fanout exchange, so every subscriber sees every message, and consumes it
// in manual acknowledgement mode.
func (c *Client) Subscribe(ctx context.Context) (<-chan broker.Delivery, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	msgs, err := c.consume(ch)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	out := make(chan broker.Delivery)
	go func() {
		defer close(out)
		defer ch.Close() //nolint:errcheck

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("delivery channel closed")
					return
				}
				select {
				case out <- &delivery{msg: msg}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *Client) consume(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	if err := c.declare(ch); err != nil {
		return nil, err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, amqp.Table{
		"x-dead-letter-exchange": c.cfg.DeadLetterExchange,
	})
	if err != nil {
		return nil, fmt.Errorf("declare subscription queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind %s to %s: %w", q.Name, c.cfg.Exchange, err)
	}

	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}

	c.logger.Info("subscribed", zap.String("exchange", c.cfg.Exchange), zap.String("queue", q.Name))
	return msgs, nil
}

// Publish sends a persistent JSON message to the fanout exchange. The key
// becomes the message id; fanout routing ignores it.
func (c *Client) Publish(ctx context.Context, key string, body []byte) error {
	ch, err := c.publishChannel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, c.cfg.Exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.cfg.Exchange, err)
	}
	return nil
}

func (c *Client) publishChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pubCh != nil && !c.pubCh.IsClosed() {
		return c.pubCh, nil
	}

	conn, err := c.connectionLocked()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := c.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	c.pubCh = ch
	return ch, nil
}

// Close closes the connection and every channel opened on it.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.pubCh = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

type delivery struct {
	msg amqp.Delivery
}

func (d *delivery) Body() []byte      { return d.msg.Body }
func (d *delivery) Redelivered() bool { return d.msg.Redelivered }

func (d *delivery) Ack() error {
	return d.msg.Ack(false)
}

func (d *delivery) Nack(requeue bool) error {
	return d.msg.Nack(false, requeue)
}
