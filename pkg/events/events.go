package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topics emitted by the platform.
const (
	TopicLogin                  = "login"
	TopicLogout                 = "logout"
	TopicTokenReplay            = "token.replay"
	TopicPolicyChanged          = "policy.changed"
	TopicPasswordResetRequested = "password.reset.requested"
	TopicPasswordResetCompleted = "password.reset.completed"
)

// Event is the envelope placed on every topic.
type Event struct {
	ID        string                 `json:"id"`
	Topic     string                 `json:"topic"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]interface{}) error
}

// NewEvent builds an envelope with a fresh id and timestamp.
func NewEvent(topic string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NopPublisher discards everything. Useful in tests and when eventing is
// disabled by configuration.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, map[string]interface{}) error { return nil }
