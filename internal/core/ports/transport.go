package ports

import (
	"context"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/signaling"
)

// PubSub opens named topics on the message bus.
type PubSub interface {
	Open(ctx context.Context, topic string, self domain.ParticipantID) (Channel, error)
}

// Channel is one participant's subscription to a topic. Messages from a
// single sender arrive in send order; a participant never receives its own
// broadcasts. Presence changes arrive as PresenceSync, PresenceJoin and
// PresenceLeave messages.
type Channel interface {
	Topic() string
	Publish(ctx context.Context, msg signaling.Message) error
	Inbound() <-chan signaling.Received
	// Track announces or re-announces the caller's presence state.
	Track(ctx context.Context, state domain.Participant) error
	Untrack(ctx context.Context) error
	// Presence returns the current roster snapshot.
	Presence(ctx context.Context) ([]domain.Participant, error)
	Close() error
}
