package events

import (
	"context"
	"sync"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

const publishTimeout = 5 * time.Second

type queued struct {
	topic   string
	payload map[string]interface{}
}

// AsyncPublisher decouples event emission from delivery. Publish enqueues
// onto a bounded buffer and returns immediately; a background worker drains
// the buffer into the wrapped publisher. When the buffer is full the event
// is dropped and counted rather than blocking the caller.
type AsyncPublisher struct {
	next    Publisher
	buffer  chan queued
	logger  *observability.Logger
	metrics *observability.Metrics

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

// NewAsyncPublisher wraps next with a buffer of the given size and starts
// the delivery worker.
func NewAsyncPublisher(next Publisher, size int, logger *observability.Logger, metrics *observability.Metrics) *AsyncPublisher {
	if size <= 0 {
		size = 256
	}
	p := &AsyncPublisher{
		next:    next,
		buffer:  make(chan queued, size),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) Publish(_ context.Context, topic string, payload map[string]interface{}) error {
	select {
	case p.buffer <- queued{topic: topic, payload: payload}:
	default:
		if p.metrics != nil {
			p.metrics.EventsDroppedTotal.Inc()
		}
		p.logger.WithField("event_topic", topic).Warn("event buffer full, dropping event")
	}
	return nil
}

func (p *AsyncPublisher) run() {
	defer close(p.drained)
	for {
		select {
		case q := <-p.buffer:
			p.deliver(q)
		case <-p.done:
			for {
				select {
				case q := <-p.buffer:
					p.deliver(q)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) deliver(q queued) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.next.Publish(ctx, q.topic, q.payload); err != nil {
		p.logger.WithError(err).WithField("event_topic", q.topic).Error("event delivery failed")
		return
	}
	if p.metrics != nil {
		p.metrics.EventsPublishedTotal.WithLabelValues(q.topic).Inc()
	}
}

// Close stops the worker after draining whatever is already buffered.
func (p *AsyncPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	<-p.drained
}
