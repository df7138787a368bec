package events

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// LogPublisher writes every event to the structured log. It is the default
// publisher when no broker is configured.
type LogPublisher struct {
	logger *observability.Logger
}

// NewLogPublisher creates a publisher backed by the given logger.
func NewLogPublisher(logger *observability.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload map[string]interface{}) error {
	evt := NewEvent(topic, payload)
	p.logger.WithFields(map[string]interface{}{
		"event_id":    evt.ID,
		"event_topic": evt.Topic,
		"payload":     evt.Payload,
	}).Info("event published")
	return nil
}
