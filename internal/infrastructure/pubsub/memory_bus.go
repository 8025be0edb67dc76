package pubsub

import (
	"context"
	"sort"
	"sync"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/signaling"

	"go.uber.org/zap"
)

// MemoryBus is an in-process bus for single-instance deployments and
// tests. Messages pass through the wire codec so both transports carry
// exactly the same payloads.
type MemoryBus struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	topics map[string]*memoryTopic
}

type memoryTopic struct {
	subscribers map[*memoryChannel]struct{}
	presence    map[domain.ParticipantID]domain.Participant
}

func NewMemoryBus(logger *zap.SugaredLogger) *MemoryBus {
	return &MemoryBus{
		logger: logger,
		topics: make(map[string]*memoryTopic),
	}
}

func (b *MemoryBus) Open(ctx context.Context, topic string, self domain.ParticipantID) (ports.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := &memoryChannel{bus: b, topic: topic, self: self, inbox: newInbox()}

	b.mu.Lock()
	t, exists := b.topics[topic]
	if !exists {
		t = &memoryTopic{
			subscribers: make(map[*memoryChannel]struct{}),
			presence:    make(map[domain.ParticipantID]domain.Participant),
		}
		b.topics[topic] = t
	}
	t.subscribers[ch] = struct{}{}
	ch.deliver(b.logger, "", signaling.PresenceSync{Roster: t.rosterLocked()})
	b.mu.Unlock()

	b.logger.Debugw("opened topic", "topic", topic, "participant_id", self)
	return ch, nil
}

func (t *memoryTopic) rosterLocked() []domain.Participant {
	roster := make([]domain.Participant, 0, len(t.presence))
	for _, p := range t.presence {
		roster = append(roster, p)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster
}

// broadcastLocked fans a message out to every subscriber except the
// sender. Presence events also reach the sender.
func (b *MemoryBus) broadcastLocked(topic string, sender domain.ParticipantID, msg signaling.Message) {
	t, exists := b.topics[topic]
	if !exists {
		return
	}
	for sub := range t.subscribers {
		if sub.self == sender && !msg.Kind().IsPresence() {
			continue
		}
		sub.deliver(b.logger, sender, msg)
	}
}

type memoryChannel struct {
	bus   *MemoryBus
	topic string
	self  domain.ParticipantID
	inbox *inbox

	// guarded by bus.mu
	tracked bool
	closed  bool
}

func (c *memoryChannel) deliver(logger *zap.SugaredLogger, sender domain.ParticipantID, msg signaling.Message) {
	data, err := signaling.Encode(sender, msg)
	if err != nil {
		logger.Warnw("dropping unencodable message", "kind", msg.Kind(), "error", err)
		return
	}
	received, err := signaling.Decode(data)
	if err != nil {
		logger.Warnw("dropping undecodable message", "kind", msg.Kind(), "error", err)
		return
	}
	c.inbox.push(received)
}

func (c *memoryChannel) Topic() string {
	return c.topic
}

func (c *memoryChannel) Publish(ctx context.Context, msg signaling.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.bus.broadcastLocked(c.topic, c.self, msg)
	return nil
}

func (c *memoryChannel) Inbound() <-chan signaling.Received {
	return c.inbox.out
}

func (c *memoryChannel) Track(ctx context.Context, state domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state.ID = c.self

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.bus.topics[c.topic].presence[c.self] = state
	c.tracked = true
	c.bus.broadcastLocked(c.topic, c.self, signaling.PresenceJoin{Participants: []domain.Participant{state}})
	return nil
}

func (c *memoryChannel) Untrack(ctx context.Context) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.untrackLocked()
	return nil
}

func (c *memoryChannel) untrackLocked() {
	if !c.tracked {
		return
	}
	c.tracked = false
	t := c.bus.topics[c.topic]
	state, exists := t.presence[c.self]
	if !exists {
		return
	}
	delete(t.presence, c.self)
	c.bus.broadcastLocked(c.topic, c.self, signaling.PresenceLeave{Participants: []domain.Participant{state}})
}

func (c *memoryChannel) Presence(ctx context.Context) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return c.bus.topics[c.topic].rosterLocked(), nil
}

func (c *memoryChannel) Close() error {
	c.bus.mu.Lock()
	if c.closed {
		c.bus.mu.Unlock()
		return nil
	}
	c.untrackLocked()
	c.closed = true

	t := c.bus.topics[c.topic]
	delete(t.subscribers, c)
	if len(t.subscribers) == 0 && len(t.presence) == 0 {
		delete(c.bus.topics, c.topic)
	}
	c.bus.mu.Unlock()

	c.inbox.close()
	return nil
}
