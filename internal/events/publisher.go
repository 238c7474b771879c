package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/driftquota/internal/quota"
	"go.uber.org/zap"
)

const defaultBuffer = 256

// Publish is a function that publishes a typed event.
type Publish[T any] func(event *T) error

// NewPublishFunc creates a typed publish function for a specific topic.
func NewPublishFunc[T any](publisher message.Publisher, topic string) Publish[T] {
	return func(event *T) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}

		return publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
	}
}

// DecisionPublisher is a quota.Observer that forwards decisions to a topic.
// Publishing happens on a background goroutine; when the buffer is full
// the decision is dropped rather than delaying the quota operation.
type DecisionPublisher struct {
	publisher    message.Publisher
	publish      Publish[DecisionEvent]
	instance     string
	onlyRejected bool
	logger       *zap.Logger

	// mu guards closed and sends on queue against Shutdown closing it.
	mu     sync.RWMutex
	closed bool
	queue  chan *DecisionEvent
	done   chan struct{}
}

// PublisherOption configures a DecisionPublisher.
type PublisherOption func(*DecisionPublisher)

// OnlyRejected skips accepted decisions.
func OnlyRejected() PublisherOption {
	return func(p *DecisionPublisher) { p.onlyRejected = true }
}

// WithBuffer sets the queue capacity.
func WithBuffer(n int) PublisherOption {
	return func(p *DecisionPublisher) { p.queue = make(chan *DecisionEvent, n) }
}

// NewDecisionPublisher starts the background publishing loop.
func NewDecisionPublisher(
	publisher message.Publisher, instance string, logger *zap.Logger, opts ...PublisherOption,
) *DecisionPublisher {
	p := &DecisionPublisher{
		publisher: publisher,
		publish:   NewPublishFunc[DecisionEvent](publisher, TopicDecisions),
		instance:  instance,
		logger:    logger,
		queue:     make(chan *DecisionEvent, defaultBuffer),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	go p.loop()

	return p
}

func (p *DecisionPublisher) Observe(_ context.Context, d quota.Decision) {
	if p.onlyRejected && d.Accepted {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Debug("publisher shut down, dropping decision",
			zap.String("action", d.Action),
			zap.String("key", d.Key),
		)

		return
	}

	select {
	case p.queue <- NewDecisionEvent(p.instance, d):
	default:
		p.logger.Warn("decision queue full, dropping event",
			zap.String("action", d.Action),
			zap.String("key", d.Key),
		)
	}
}

func (p *DecisionPublisher) loop() {
	defer close(p.done)

	for event := range p.queue {
		if err := p.publish(event); err != nil {
			p.logger.Error("failed to publish decision",
				zap.String("topic", TopicDecisions),
				zap.String("action", event.Action),
				zap.Error(err),
			)
		}
	}
}

// Shutdown flushes queued events and closes the underlying publisher.
// Decisions observed afterwards are dropped.
func (p *DecisionPublisher) Shutdown() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done

	return p.publisher.Close()
}

// Compile-time check.
var _ quota.Observer = (*DecisionPublisher)(nil)
