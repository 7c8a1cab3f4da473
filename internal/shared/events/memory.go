package events

import (
	"context"
	"sync"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
)

type subscription struct {
	pattern  string
	consumer string
	handler  Handler
}

// MemoryBus delivers events synchronously to in-process subscribers. It is
// used when KurrentDB is disabled and in tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish hands the event to every matching subscriber. Handler errors are
// logged and do not fail the publish.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !MatchesPattern(event.Type, s.pattern) {
			continue
		}
		if err := s.handler(ctx, event); err != nil {
			logger := log.WithComponent("events")
			logger.Warn().
				Err(err).
				Str("consumer", s.consumer).
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Msg("event handler failed")
		}
	}
	return nil
}

// Subscribe registers handler for events matching pattern
func (b *MemoryBus) Subscribe(_ context.Context, pattern string, consumerName string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subs = append(b.subs, subscription{pattern: pattern, consumer: consumerName, handler: handler})
	return nil
}

// Close drops all subscribers; later publishes fail with ErrBusClosed
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}

// Health reports ErrBusClosed after Close
func (b *MemoryBus) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}
