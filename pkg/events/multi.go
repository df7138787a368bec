package events

import "context"

// MultiPublisher fans a single event out to several publishers. The first
// error is returned after every publisher has been attempted.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, topic string, payload map[string]interface{}) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, topic, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
