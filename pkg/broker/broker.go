// Package broker defines the publish/subscribe contract shared by the
// RabbitMQ and Kafka drivers.
package broker

import "context"

// Topology names.
const (
	VideoUploaded           = "video-uploaded"
	VideoUploadedDeadLetter = "video-uploaded.dead-letter"
)

// Delivery is one message handed to a consumer. Exactly one of Ack or Nack
// must be called for every delivery.
type Delivery interface {
	Body() []byte
	// Redelivered reports whether the broker has handed this message out
	// before.
	Redelivered() bool
	// Ack tells the broker the message was processed and may be discarded.
	Ack() error
	// Nack rejects the message. With requeue the broker delivers it again;
	// without, it is routed to the dead-letter destination.
	Nack(requeue bool) error
}

// Subscriber yields deliveries from a broadcast subscription. The returned
// channel is closed when the connection is lost or ctx is done; callers
// resubscribe to recover.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Publisher emits messages to the broadcast topic.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}
