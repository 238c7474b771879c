package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Handler processes one decoded event.
type Handler[T any] func(ctx context.Context, event *T) error

// Consumer decodes JSON messages from one topic into T and hands them to
// a Handler. Messages that fail to decode or handle are nacked.
type Consumer[T any] struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler[T]
	logger     *zap.Logger

	handled atomic.Int64
	failed  atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewConsumer creates a consumer for topic.
func NewConsumer[T any](
	subscriber message.Subscriber, topic string, handler Handler[T], logger *zap.Logger,
) *Consumer[T] {
	return &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		logger:     logger.With(zap.String("topic", topic)),
		done:       make(chan struct{}),
	}
}

func (c *Consumer[T]) Topic() string { return c.topic }

// Handled and Failed count acked and nacked messages.
func (c *Consumer[T]) Handled() int64 { return c.handled.Load() }
func (c *Consumer[T]) Failed() int64  { return c.failed.Load() }

// Start subscribes and processes messages until ctx ends or Shutdown.
func (c *Consumer[T]) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		cancel()

		return err
	}

	c.cancel = cancel

	go func() {
		defer close(c.done)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				c.process(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer[T]) process(ctx context.Context, msg *message.Message) {
	var event T

	err := json.Unmarshal(msg.Payload, &event)
	if err == nil {
		err = c.handler(ctx, &event)
	}

	if err != nil {
		c.failed.Add(1)
		c.logger.Error("event not processed", zap.String("message_id", msg.UUID), zap.Error(err))
		msg.Nack()

		return
	}

	c.handled.Add(1)
	msg.Ack()
}

// Shutdown stops consumption and waits for the in-flight message.
func (c *Consumer[T]) Shutdown() error {
	if c.cancel == nil {
		return nil
	}

	c.stopOnce.Do(c.cancel)
	<-c.done

	return nil
}
