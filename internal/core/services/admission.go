package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/signaling"

	"go.uber.org/zap"
)

const DenyReasonExpired = "expired"

// WaitingRoom is the host's view of pending join requests on the lobby
// topic.
type WaitingRoom struct {
	meetingID domain.MeetingID
	signal    signalPublisher
	ttl       time.Duration
	metrics   ports.RoomMetrics
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu      sync.Mutex
	entries map[domain.ParticipantID]*domain.WaitingParticipant
}

// NewWaitingRoom creates the host roster. A zero ttl keeps entries until
// the host decides or the joiner cancels.
func NewWaitingRoom(
	meetingID domain.MeetingID,
	lobby signalPublisher,
	ttl time.Duration,
	metrics ports.RoomMetrics,
	logger *zap.SugaredLogger,
) *WaitingRoom {
	return &WaitingRoom{
		meetingID: meetingID,
		signal:    lobby,
		ttl:       ttl,
		metrics:   metricsOrNop(metrics),
		logger:    logger,
		now:       time.Now,
		entries:   make(map[domain.ParticipantID]*domain.WaitingParticipant),
	}
}

// HandleJoinRequest adds a joiner, or refreshes LastSeen when the request
// is a re-announcement.
func (w *WaitingRoom) HandleJoinRequest(req signaling.JoinRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if entry, exists := w.entries[req.ParticipantID]; exists {
		entry.LastSeen = now
		entry.Name = req.Name
		entry.AvatarURL = req.AvatarURL
		return
	}

	joinedAt := req.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = now
	}
	w.entries[req.ParticipantID] = &domain.WaitingParticipant{
		ID:        req.ParticipantID,
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
		JoinedAt:  joinedAt,
		LastSeen:  now,
	}
	w.metrics.WaitingRoomSize(w.meetingID, len(w.entries))
	w.logger.Infow("participant waiting for admission",
		"meeting_id", w.meetingID,
		"participant_id", req.ParticipantID,
		"waiting", len(w.entries),
	)
}

// HandleCancel removes a request withdrawn by the joiner.
func (w *WaitingRoom) HandleCancel(id domain.ParticipantID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entries[id]; !exists {
		return false
	}
	delete(w.entries, id)
	w.metrics.WaitingRoomSize(w.meetingID, len(w.entries))
	return true
}

// Admit lets a waiting participant in. Admitting someone no longer waiting
// is a no-op.
func (w *WaitingRoom) Admit(ctx context.Context, id domain.ParticipantID) error {
	return w.decide(ctx, id, signaling.Admitted{ParticipantID: id})
}

func (w *WaitingRoom) Deny(ctx context.Context, id domain.ParticipantID, reason string) error {
	return w.decide(ctx, id, signaling.Denied{ParticipantID: id, Reason: reason})
}

// decide publishes the decision before removing the entry, so a failed
// publish leaves the request in place for another attempt.
func (w *WaitingRoom) decide(ctx context.Context, id domain.ParticipantID, decision signaling.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entries[id]; !exists {
		return nil
	}
	if err := w.signal.Publish(ctx, decision); err != nil {
		return fmt.Errorf("%w: %s for %s: %v", domain.ErrSignalingDelivery, decision.Kind(), id, err)
	}
	delete(w.entries, id)
	w.metrics.WaitingRoomSize(w.meetingID, len(w.entries))
	w.logger.Infow("admission decided",
		"meeting_id", w.meetingID,
		"participant_id", id,
		"decision", decision.Kind(),
	)
	return nil
}

// Expire denies every request that was not re-announced within the ttl.
func (w *WaitingRoom) Expire(ctx context.Context, now time.Time) []domain.ParticipantID {
	if w.ttl <= 0 {
		return nil
	}

	w.mu.Lock()
	var stale []domain.ParticipantID
	for id, entry := range w.entries {
		if now.Sub(entry.LastSeen) > w.ttl {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()

	sortIDs(stale)
	var expired []domain.ParticipantID
	for _, id := range stale {
		if err := w.Deny(ctx, id, DenyReasonExpired); err != nil {
			w.logger.Warnw("failed to expire waiting participant", "participant_id", id, "error", err)
			continue
		}
		expired = append(expired, id)
	}
	return expired
}

// List returns the waiting participants in arrival order.
func (w *WaitingRoom) List() []domain.WaitingParticipant {
	w.mu.Lock()
	list := make([]domain.WaitingParticipant, 0, len(w.entries))
	for _, entry := range w.entries {
		list = append(list, *entry)
	}
	w.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (w *WaitingRoom) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// AdmissionRequest is the joiner's side of the waiting room.
type AdmissionRequest struct {
	lobby      ports.Channel
	request    signaling.JoinRequest
	host       domain.ParticipantID
	reannounce time.Duration
	logger     *zap.SugaredLogger

	cancelOnce sync.Once
	cancelled  chan struct{}
}

func NewAdmissionRequest(
	lobby ports.Channel,
	identity domain.Identity,
	host domain.ParticipantID,
	joinedAt time.Time,
	reannounce time.Duration,
	logger *zap.SugaredLogger,
) *AdmissionRequest {
	return &AdmissionRequest{
		lobby: lobby,
		request: signaling.JoinRequest{
			ParticipantID: identity.ParticipantID(),
			Name:          identity.Name,
			Email:         identity.Email,
			AvatarURL:     identity.AvatarURL,
			JoinedAt:      joinedAt,
		},
		host:       host,
		reannounce: reannounce,
		logger:     logger,
		cancelled:  make(chan struct{}),
	}
}

// Wait announces the request and blocks until the host decides. It returns
// nil when admitted, ErrAdmissionDenied when denied and
// ErrAdmissionCancelled after Cancel. A context deadline maps to
// ErrAdmissionTimeout. Decisions published by anyone but the host are
// ignored.
func (a *AdmissionRequest) Wait(ctx context.Context) error {
	self := a.request.ParticipantID
	if err := a.lobby.Publish(ctx, a.request); err != nil {
		return fmt.Errorf("%w: join request: %v", domain.ErrSignalingDelivery, err)
	}

	var tick <-chan time.Time
	if a.reannounce > 0 {
		ticker := time.NewTicker(a.reannounce)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				a.publishCancel()
				return domain.ErrAdmissionTimeout
			}
			return ctx.Err()

		case <-a.cancelled:
			a.publishCancel()
			return domain.ErrAdmissionCancelled

		case <-tick:
			if err := a.lobby.Publish(ctx, a.request); err != nil {
				a.logger.Warnw("failed to re-announce join request", "participant_id", self, "error", err)
			}

		case in, ok := <-a.lobby.Inbound():
			if !ok {
				return fmt.Errorf("%w: lobby channel closed", domain.ErrSignalingDelivery)
			}
			if in.Sender != a.host {
				switch in.Message.(type) {
				case signaling.Admitted, signaling.Denied:
					a.logger.Warnw("ignoring admission decision not sent by the host",
						"sender", in.Sender,
						"participant_id", self,
					)
				}
				continue
			}
			switch msg := in.Message.(type) {
			case signaling.Admitted:
				if msg.ParticipantID == self {
					return nil
				}
			case signaling.Denied:
				if msg.ParticipantID == self {
					if msg.Reason != "" {
						return fmt.Errorf("%w: %s", domain.ErrAdmissionDenied, msg.Reason)
					}
					return domain.ErrAdmissionDenied
				}
			}
		}
	}
}

// Cancel withdraws the request. Wait returns ErrAdmissionCancelled.
func (a *AdmissionRequest) Cancel() {
	a.cancelOnce.Do(func() { close(a.cancelled) })
}

func (a *AdmissionRequest) publishCancel() {
	ctx, cancel := context.WithTimeout(context.Background(), signalPublishTimeout)
	defer cancel()
	if err := a.lobby.Publish(ctx, signaling.JoinCancel{ParticipantID: a.request.ParticipantID}); err != nil {
		a.logger.Warnw("failed to publish join cancel",
			"participant_id", a.request.ParticipantID,
			"error", err,
		)
	}
}
