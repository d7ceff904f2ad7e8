package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ReggieReo/devops-question1/pkg/broker"
)

// partitionLog is a single-partition topic with one committed offset.
// committed is -1 until the group commits; an uncommitted reader starts at
// offset 0, or at the end of the log when latest is set.
type partitionLog struct {
	mu        sync.Mutex
	msgs      []kafkago.Message
	committed int64
	latest    bool
	opened    int
}

func newPartitionLog(values ...string) *partitionLog {
	l := &partitionLog{committed: -1}
	for _, v := range values {
		l.append(v)
	}
	return l
}

func (l *partitionLog) append(v string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, kafkago.Message{Offset: int64(len(l.msgs)), Key: []byte(v), Value: []byte(v)})
}

func (l *partitionLog) reader() messageReader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened++

	var start int64
	switch {
	case l.committed >= 0:
		start = l.committed
	case l.latest:
		start = int64(len(l.msgs))
	}
	return &logReader{log: l, next: start}
}

func (l *partitionLog) committedOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

func (l *partitionLog) openedReaders() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}

type logReader struct {
	log  *partitionLog
	next int64
}

func (r *logReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	for {
		r.log.mu.Lock()
		if r.next < int64(len(r.log.msgs)) {
			msg := r.log.msgs[r.next]
			r.next++
			r.log.mu.Unlock()
			return msg, nil
		}
		r.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafkago.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *logReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	r.log.committed = msgs[len(msgs)-1].Offset + 1
	return nil
}

func (r *logReader) Close() error { return nil }

type capturePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, _ string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestConsumer(log *partitionLog, dl broker.Publisher) *Consumer {
	c := NewConsumer(ConsumerConfig{Brokers: []string{"unused:9092"}}, dl, zap.NewNop())
	c.newReader = log.reader
	return c
}

func next(t *testing.T, ch <-chan broker.Delivery) broker.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestConsumerAckCommitsAndAdvances(t *testing.T) {
	log := newPartitionLog("a", "b")
	c := newTestConsumer(log, &capturePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	first := next(t, ch)
	assert.Equal(t, []byte("a"), first.Body())
	assert.False(t, first.Redelivered())
	require.NoError(t, first.Ack())
	assert.Equal(t, int64(1), log.committedOffset())

	second := next(t, ch)
	assert.Equal(t, []byte("b"), second.Body())
	require.NoError(t, second.Ack())
	assert.Equal(t, int64(2), log.committedOffset())
}

func TestConsumerNackRequeueRedelivers(t *testing.T) {
	log := newPartitionLog("a")
	c := newTestConsumer(log, &capturePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := next(t, ch)
	require.NoError(t, d.Nack(true))
	assert.Equal(t, int64(0), log.committedOffset())

	again := next(t, ch)
	assert.Equal(t, []byte("a"), again.Body())
	assert.True(t, again.Redelivered())
	require.NoError(t, again.Ack())
	assert.Equal(t, 2, log.opened)
}

func TestConsumerNackRequeueOnFreshGroupRedelivers(t *testing.T) {
	log := newPartitionLog("published-before-subscribe")
	log.latest = true
	c := newTestConsumer(log, &capturePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.openedReaders() == 1 }, 2*time.Second, 5*time.Millisecond)
	log.append("first")

	d := next(t, ch)
	assert.Equal(t, []byte("first"), d.Body())
	require.NoError(t, d.Nack(true))
	assert.Equal(t, int64(1), log.committedOffset())

	again := next(t, ch)
	assert.Equal(t, []byte("first"), again.Body())
	assert.True(t, again.Redelivered())
	require.NoError(t, again.Ack())
	assert.Equal(t, int64(2), log.committedOffset())
}

func TestConsumerNackWithoutRequeueDeadLetters(t *testing.T) {
	log := newPartitionLog("poison", "ok")
	dl := &capturePublisher{}
	c := newTestConsumer(log, dl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := next(t, ch)
	require.NoError(t, d.Nack(false))
	assert.Equal(t, [][]byte{[]byte("poison")}, dl.bodies)
	assert.Equal(t, int64(1), log.committedOffset())

	assert.Equal(t, []byte("ok"), next(t, ch).Body())
}

func TestConsumerDeadLetterFailureRewinds(t *testing.T) {
	log := newPartitionLog("poison")
	c := newTestConsumer(log, &capturePublisher{err: errors.New("broker down")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := next(t, ch)
	assert.ErrorContains(t, d.Nack(false), "broker down")
	assert.Equal(t, int64(0), log.committedOffset())

	assert.True(t, next(t, ch).Redelivered())
}

func TestDeliverySettlesOnce(t *testing.T) {
	log := newPartitionLog("a")
	c := newTestConsumer(log, &capturePublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	d := next(t, ch)
	require.NoError(t, d.Ack())
	assert.ErrorIs(t, d.Ack(), errSettled)
	assert.ErrorIs(t, d.Nack(true), errSettled)
}

func TestSubscriptionClosesOnCancel(t *testing.T) {
	c := newTestConsumer(newPartitionLog(), &capturePublisher{})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestConsumerGroupsAreUniquePerInstance(t *testing.T) {
	a := NewConsumer(ConsumerConfig{}, &capturePublisher{}, zap.NewNop())
	b := NewConsumer(ConsumerConfig{}, &capturePublisher{}, zap.NewNop())

	assert.NotEqual(t, a.groupID, b.groupID)
	assert.Contains(t, a.groupID, "metadata-")
	assert.Equal(t, broker.VideoUploaded, a.cfg.Topic)
}

func TestCompressionFromString(t *testing.T) {
	assert.Equal(t, kafkago.Gzip, CompressionFromString("GZIP"))
	assert.Equal(t, kafkago.Zstd, CompressionFromString("zstd"))
	assert.Equal(t, kafkago.Snappy, CompressionFromString("unknown"))
}
