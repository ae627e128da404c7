package kafka

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/port"
)

// StubPublisher records published events in memory. It stands in for the
// broker in development mode and in tests.
type StubPublisher struct {
	mu     sync.Mutex
	logger *zap.Logger
	events []StubEvent
}

// StubEvent captures a single published event.
type StubEvent struct {
	Topic   string
	Key     string
	Payload any
}

// NewStubPublisher constructs an in-memory publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// Publish records the event and logs it at debug level.
func (s *StubPublisher) Publish(_ context.Context, topic, key string, payload any) error {
	s.mu.Lock()
	s.events = append(s.events, StubEvent{Topic: topic, Key: key, Payload: payload})
	s.mu.Unlock()

	s.logger.Debug("event published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Events returns a copy of everything published so far.
func (s *StubPublisher) Events() []StubEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StubEvent, len(s.events))
	copy(out, s.events)
	return out
}

var _ port.EventPublisher = (*StubPublisher)(nil)
