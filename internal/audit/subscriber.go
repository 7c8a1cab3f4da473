package audit

import (
	"context"
	"fmt"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/events"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// Subscriber records bus events in a trail
type Subscriber struct {
	trail *Trail
	bus   events.EventBus
}

// NewSubscriber creates a subscriber writing to trail
func NewSubscriber(trail *Trail, bus events.EventBus) *Subscriber {
	return &Subscriber{trail: trail, bus: bus}
}

// Start subscribes to simulation events
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, "simulation.*", "audit-simulation-subscriber", s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to simulation events: %w", err)
	}
	return nil
}

func (s *Subscriber) handleEvent(_ context.Context, event events.Event) error {
	entry := s.trail.Append(eventToEntry(event))
	logger := log.WithComponent("audit")
	logger.Debug().
		Int64("sequence", entry.Sequence).
		Str("action", entry.Action).
		Str("session_id", entry.SessionID.String()).
		Msg("audit entry appended")
	return nil
}

func eventToEntry(event events.Event) Entry {
	actorType := ActorTypeTrainee
	if event.ActorType == string(ActorTypeSystem) {
		actorType = ActorTypeSystem
	}

	entry := Entry{
		Timestamp: event.Timestamp,
		ActorType: actorType,
		ActorID:   event.ActorID,
		Action:    event.Type,
		SessionID: types.ID(event.StreamID),
		EventID:   event.ID,
	}
	if data, ok := event.Data.(map[string]any); ok && len(data) > 0 {
		entry.Changes = data
	}
	return entry
}
