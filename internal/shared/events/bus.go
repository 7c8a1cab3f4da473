package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/config"
	"github.com/cbgabler/ehr-module-simulator/internal/shared/log"
)

// ErrBusClosed is returned by a bus after Close
var ErrBusClosed = errors.New("event bus closed")

const streamPrefix = "sim"

// Bus provides event publishing and subscription using KurrentDB
type Bus struct {
	client *esdb.Client
	prefix string
	logger zerolog.Logger
}

// NewBus creates a new event bus connected to KurrentDB
func NewBus(ctx context.Context, cfg config.KurrentDBConfig) (*Bus, error) {
	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	return &Bus{
		client: client,
		prefix: streamPrefix,
		logger: log.WithComponent("kurrentdb"),
	}, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false&keepAliveInterval=10000&keepAliveTimeout=10000"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// StreamName maps an event to its KurrentDB stream. Events that carry a
// stream id land in "sim-session-<id>" so a session can be replayed from one
// stream; others go to a stream per event type.
func StreamName(prefix string, event Event) string {
	if event.StreamID != "" {
		category, _, _ := strings.Cut(event.Type, ".")
		if category == "simulation" {
			category = "session"
		}
		return fmt.Sprintf("%s-%s-%s", prefix, category, event.StreamID)
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(event.Type, ".", "-"))
}

// Publish appends the event to its stream
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	_, err = b.client.AppendToStream(ctx, StreamName(b.prefix, event), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe starts a catch-up subscription on $all filtered by event type.
// Delivery begins at the end of the log; the handler runs on its own
// goroutine until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error {
	sub, err := b.client.SubscribeToAll(ctx, esdb.SubscribeToAllOptions{
		From: esdb.End{},
		Filter: &esdb.SubscriptionFilter{
			Type:  esdb.EventFilterType,
			Regex: patternToRegex(pattern),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to pattern: %w", err)
	}

	go b.consume(ctx, sub, pattern, consumerName, handler)
	return nil
}

// patternToRegex converts a simple wildcard pattern to regex
func patternToRegex(pattern string) string {
	if pattern == "*" || pattern == ">" {
		return "^[^$].*"
	}
	var sb strings.Builder
	sb.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '.':
			sb.WriteString(`\.`)
		case '*':
			sb.WriteString(".*")
		default:
			sb.WriteByte(pattern[i])
		}
	}
	return sb.String()
}

func (b *Bus) consume(ctx context.Context, sub *esdb.Subscription, pattern, consumer string, handler Handler) {
	defer sub.Close()
	logger := b.logger.With().Str("consumer", consumer).Logger()

	for {
		if ctx.Err() != nil {
			return
		}
		subEvent := sub.Recv()
		if subEvent.SubscriptionDropped != nil {
			logger.Warn().Err(subEvent.SubscriptionDropped.Error).Msg("subscription dropped")
			return
		}
		if subEvent.EventAppeared == nil || subEvent.EventAppeared.Event == nil {
			continue
		}

		recorded := subEvent.EventAppeared.Event
		if strings.HasPrefix(recorded.EventType, "$") || !MatchesPattern(recorded.EventType, pattern) {
			continue
		}

		event, err := recordedEventToEvent(recorded)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to convert event")
			continue
		}

		if err := handler(ctx, event); err != nil {
			logger.Warn().Err(err).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}

// recordedEventToEvent converts a KurrentDB event to our Event type
func recordedEventToEvent(recorded *esdb.RecordedEvent) (Event, error) {
	var event Event
	if err := json.Unmarshal(recorded.Data, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.ID == "" {
		event.ID = recorded.EventID.String()
	}
	return event, nil
}

// Close closes the event bus connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health checks the KurrentDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}
