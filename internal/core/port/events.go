package port

import "context"

// EventPublisher forwards security events to the notification stream.
// Implementations must not block the request path on broker availability.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
}
