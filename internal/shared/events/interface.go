package events

import (
	"context"
	"fmt"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
)

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe registers handler for events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// NewEventBus connects to KurrentDB and verifies the connection
func NewEventBus(ctx context.Context, cfg config.KurrentDBConfig) (EventBus, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bus, err := NewBus(timeoutCtx, cfg)
	if err != nil {
		return nil, err
	}

	if err := bus.Health(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("KurrentDB health check failed: %w", err)
	}

	return bus, nil
}

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
