package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/signaling"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	topicChannelPrefix = "meetroom:topic:"
	presenceKeyPrefix  = "meetroom:presence:"
)

// RedisBus carries topics over Redis pub/sub so participants served by
// different instances share a room. Presence lives in a hash per topic;
// each entry is refreshed by a heartbeat and ignored once stale, so a
// crashed instance drops out of the roster on its own.
type RedisBus struct {
	client      *redis.Client
	presenceTTL time.Duration
	logger      *zap.SugaredLogger
}

func NewRedisBus(client *redis.Client, presenceTTL time.Duration, logger *zap.SugaredLogger) *RedisBus {
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}
	return &RedisBus{
		client:      client,
		presenceTTL: presenceTTL,
		logger:      logger,
	}
}

type presenceEntry struct {
	Participant domain.Participant `json:"participant"`
	SeenAt      time.Time          `json:"seen_at"`
}

func (b *RedisBus) Open(ctx context.Context, topic string, self domain.ParticipantID) (ports.Channel, error) {
	sub := b.client.Subscribe(ctx, topicChannelPrefix+topic)
	// Wait for the subscription to be confirmed so nothing published after
	// Open returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch := &redisChannel{
		bus:    b,
		topic:  topic,
		self:   self,
		sub:    sub,
		inbox:  newInbox(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	roster, err := ch.Presence(ctx)
	if err != nil {
		cancel()
		_ = sub.Close()
		ch.inbox.close()
		return nil, err
	}
	ch.inbox.push(signaling.Received{Message: signaling.PresenceSync{Roster: roster}})

	go ch.receive(runCtx)

	b.logger.Debugw("opened redis topic", "topic", topic, "participant_id", self)
	return ch, nil
}

type redisChannel struct {
	bus    *RedisBus
	topic  string
	self   domain.ParticipantID
	sub    *redis.PubSub
	inbox  *inbox
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     *domain.Participant
	heartbeat context.CancelFunc
	closed    bool
}

func (c *redisChannel) channelName() string {
	return topicChannelPrefix + c.topic
}

func (c *redisChannel) presenceKey() string {
	return presenceKeyPrefix + c.topic
}

func (c *redisChannel) receive(ctx context.Context) {
	defer close(c.done)
	messages := c.sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			received, err := signaling.Decode([]byte(msg.Payload))
			if err != nil {
				c.bus.logger.Warnw("failed to decode bus message",
					"topic", c.topic,
					"error", err,
				)
				continue
			}

			// Skip our own broadcasts, but keep presence so the roster
			// includes ourselves.
			if received.Sender == c.self && !received.Message.Kind().IsPresence() {
				continue
			}
			c.inbox.push(received)
		}
	}
}

func (c *redisChannel) Topic() string {
	return c.topic
}

func (c *redisChannel) Publish(ctx context.Context, msg signaling.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return c.publish(ctx, msg)
}

func (c *redisChannel) publish(ctx context.Context, msg signaling.Message) error {
	data, err := signaling.Encode(c.self, msg)
	if err != nil {
		return err
	}
	if err := c.bus.client.Publish(ctx, c.channelName(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Kind(), err)
	}
	return nil
}

func (c *redisChannel) Inbound() <-chan signaling.Received {
	return c.inbox.out
}

func (c *redisChannel) Track(ctx context.Context, state domain.Participant) error {
	state.ID = c.self

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.state = &state
	if c.heartbeat == nil {
		hbCtx, cancel := context.WithCancel(context.Background())
		c.heartbeat = cancel
		go c.refresh(hbCtx)
	}
	c.mu.Unlock()

	if err := c.writePresence(ctx, state); err != nil {
		return err
	}
	return c.publish(ctx, signaling.PresenceJoin{Participants: []domain.Participant{state}})
}

func (c *redisChannel) writePresence(ctx context.Context, state domain.Participant) error {
	data, err := presenceJSON(state, time.Now())
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	pipe := c.bus.client.TxPipeline()
	pipe.HSet(ctx, c.presenceKey(), string(c.self), data)
	pipe.Expire(ctx, c.presenceKey(), c.bus.presenceTTL*4)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (c *redisChannel) refresh(ctx context.Context) {
	ticker := time.NewTicker(c.bus.presenceTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			state := c.state
			c.mu.Unlock()
			if state == nil {
				continue
			}
			if err := c.writePresence(ctx, *state); err != nil {
				c.bus.logger.Warnw("failed to refresh presence",
					"topic", c.topic,
					"participant_id", c.self,
					"error", err,
				)
			}
		}
	}
}

func (c *redisChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.state = nil
	if c.heartbeat != nil {
		c.heartbeat()
		c.heartbeat = nil
	}
	c.mu.Unlock()

	if state == nil {
		return nil
	}
	if err := c.bus.client.HDel(ctx, c.presenceKey(), string(c.self)).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return c.publish(ctx, signaling.PresenceLeave{Participants: []domain.Participant{*state}})
}

// Presence returns the live roster and prunes entries whose heartbeat
// stopped.
func (c *redisChannel) Presence(ctx context.Context) ([]domain.Participant, error) {
	entries, err := c.bus.client.HGetAll(ctx, c.presenceKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	now := time.Now()
	roster := make([]domain.Participant, 0, len(entries))
	var stale []string
	for field, raw := range entries {
		var entry presenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			stale = append(stale, field)
			continue
		}
		if now.Sub(entry.SeenAt) > c.bus.presenceTTL {
			stale = append(stale, field)
			continue
		}
		roster = append(roster, entry.Participant)
	}

	if len(stale) > 0 {
		if err := c.bus.client.HDel(ctx, c.presenceKey(), stale...).Err(); err != nil {
			c.bus.logger.Warnw("failed to prune stale presence", "topic", c.topic, "error", err)
		}
	}

	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster, nil
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	tracked := c.state != nil
	c.mu.Unlock()

	if tracked {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Untrack(ctx); err != nil {
			c.bus.logger.Warnw("failed to untrack on close", "topic", c.topic, "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.sub.Close()
	<-c.done
	c.inbox.close()
	return err
}

func presenceJSON(p domain.Participant, seenAt time.Time) (string, error) {
	data, err := json.Marshal(presenceEntry{Participant: p, SeenAt: seenAt})
	return string(data), err
}
