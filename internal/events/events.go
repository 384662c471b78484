// Package events publishes receiver session lifecycle events over redis
// pub/sub so that other services can follow live sessions.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// Channel is the redis channel events are published on.
	Channel    = "haptics:sessions"
	publishTTL = 5 * time.Second
)

// Type names a session event.
type Type string

const (
	SessionStarted   Type = "session_started"
	SessionTypeSet   Type = "session_type"
	SessionEnded     Type = "session_ended"
	RecordingStarted Type = "recording_started"
	RecordingClosed  Type = "recording_closed"
)

// Event is the message published for every session change.
type Event struct {
	Type        Type      `json:"event"`
	SessionID   uuid.UUID `json:"session_id"`
	Peer        string    `json:"peer"`
	SessionType string    `json:"session_type,omitempty"`
	Recording   string    `json:"recording,omitempty"`
	At          int64     `json:"at"`
}

// New stamps an event with the current time.
func New(t Type, sessionID uuid.UUID, peer string) Event {
	return Event{Type: t, SessionID: sessionID, Peer: peer, At: time.Now().Unix()}
}

// RedisPubSub publishes and subscribes to session events.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Publish sends ev on Channel.
func (r *RedisPubSub) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()
	if err := r.client.Publish(ctx, Channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe calls handler for each event until the returned cancel function
// is called.
func (r *RedisPubSub) Subscribe(handler func(Event)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					r.logger.Debug("skipping invalid event", zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}

// Decode parses a published event.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return ev, fmt.Errorf("decode event: missing event type")
	}
	return ev, nil
}
