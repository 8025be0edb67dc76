package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/signaling"
	"meetroom/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const signalPublishTimeout = 5 * time.Second

type signalPublisher interface {
	Publish(ctx context.Context, msg signaling.Message) error
}

// PeerLink is the connection to one remote participant.
type PeerLink struct {
	Remote    domain.ParticipantID
	Initiator bool
	CreatedAt time.Time

	conn      ports.PeerConnection
	senders   map[webrtc.RTPCodecType]ports.TrackSender
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	offeredAt time.Time
	failed    atomic.Bool
}

// LinkInfo is a read-only view of a PeerLink.
type LinkInfo struct {
	Remote               domain.ParticipantID `json:"remote"`
	Initiator            bool                 `json:"initiator"`
	RemoteDescriptionSet bool                 `json:"remote_description_set"`
	PendingCandidates    int                  `json:"pending_candidates"`
	Failed               bool                 `json:"failed"`
}

// ShouldInitiate decides which side of a pair sends the offer. Both sides
// evaluate it the same way, so near-simultaneous joins never produce two
// competing offers.
func ShouldInitiate(self, remote domain.ParticipantID) bool {
	return self < remote
}

// PeerManager keeps one PeerLink per remote participant of a full mesh.
type PeerManager struct {
	self               domain.ParticipantID
	factory            ports.PeerConnectionFactory
	signal             signalPublisher
	tracks             func() []ports.MediaTrack
	metrics            ports.RoomMetrics
	logger             *zap.SugaredLogger
	negotiationTimeout time.Duration
	now                func() time.Time

	mu    sync.Mutex
	links map[domain.ParticipantID]*PeerLink
}

func NewPeerManager(
	self domain.ParticipantID,
	factory ports.PeerConnectionFactory,
	signal signalPublisher,
	tracks func() []ports.MediaTrack,
	negotiationTimeout time.Duration,
	metrics ports.RoomMetrics,
	logger *zap.SugaredLogger,
) *PeerManager {
	return &PeerManager{
		self:               self,
		factory:            factory,
		signal:             signal,
		tracks:             tracks,
		metrics:            metricsOrNop(metrics),
		logger:             logger,
		negotiationTimeout: negotiationTimeout,
		now:                time.Now,
		links:              make(map[domain.ParticipantID]*PeerLink),
	}
}

// HandlePresenceJoin opens a link to a newly present participant. Only the
// initiator of the pair sends an offer; the other side waits for it.
func (pm *PeerManager) HandlePresenceJoin(ctx context.Context, remote domain.ParticipantID) error {
	if remote == pm.self {
		return nil
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.links[remote]; exists {
		return nil
	}
	return pm.connectLocked(ctx, remote)
}

func (pm *PeerManager) HandlePresenceLeave(remote domain.ParticipantID) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.closeLocked(remote)
}

// HandleOffer answers an offer from the pair's initiator. A fresh offer on
// a link that already completed negotiation means the initiator restarted,
// so the old connection is replaced.
func (pm *PeerManager) HandleOffer(ctx context.Context, from domain.ParticipantID, offer webrtc.SessionDescription) error {
	if from == pm.self {
		return nil
	}
	if ShouldInitiate(pm.self, from) {
		pm.logger.Warnw("ignoring offer from non-initiating peer",
			"peer_id", from,
			"self", pm.self,
		)
		return nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "answer", string(pm.self), string(from))
	defer span.End()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	link, exists := pm.links[from]
	if exists && link.remoteSet {
		pm.closeLocked(from)
		exists = false
	}
	if !exists {
		var err error
		link, err = pm.openLocked(from, false)
		if err != nil {
			return pm.failure(ctx, from, "create", err)
		}
	}

	if err := link.conn.SetRemoteDescription(offer); err != nil {
		pm.closeLocked(from)
		return pm.failure(ctx, from, "set-remote-offer", err)
	}
	link.remoteSet = true
	pm.flushCandidatesLocked(link)

	answer, err := link.conn.CreateAnswer(ctx)
	if err != nil {
		pm.closeLocked(from)
		return pm.failure(ctx, from, "create-answer", err)
	}

	pm.publish(ctx, signaling.Answer{From: pm.self, Target: from, SDP: answer})
	return nil
}

func (pm *PeerManager) HandleAnswer(ctx context.Context, from domain.ParticipantID, answer webrtc.SessionDescription) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	link, exists := pm.links[from]
	if !exists || !link.Initiator {
		pm.logger.Debugw("ignoring answer without pending offer", "peer_id", from)
		return nil
	}
	if link.remoteSet {
		pm.logger.Debugw("ignoring duplicate answer", "peer_id", from)
		return nil
	}

	if err := link.conn.SetRemoteDescription(answer); err != nil {
		pm.closeLocked(from)
		return pm.failure(ctx, from, "set-remote-answer", err)
	}
	link.remoteSet = true
	pm.flushCandidatesLocked(link)
	return nil
}

// HandleICECandidate applies a remote candidate, buffering it until the
// remote description is set. Candidates for unknown peers are dropped;
// presence reconciliation restarts negotiation if that loses a link.
func (pm *PeerManager) HandleICECandidate(from domain.ParticipantID, candidate webrtc.ICECandidateInit) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	link, exists := pm.links[from]
	if !exists {
		pm.logger.Debugw("dropping ICE candidate for unknown peer", "peer_id", from)
		return nil
	}
	if !link.remoteSet {
		link.pending = append(link.pending, candidate)
		return nil
	}
	if err := link.conn.AddICECandidate(candidate); err != nil {
		pm.metrics.NegotiationFailed("ice")
		return &domain.NegotiationError{Peer: from, Stage: "ice", Err: err}
	}
	return nil
}

// Reconcile brings the link set in line with the remote roster. It closes
// links to departed peers, opens missing ones, replaces failed links and
// restarts offers that were never answered.
func (pm *PeerManager) Reconcile(ctx context.Context, remotes []domain.ParticipantID) error {
	want := make(map[domain.ParticipantID]struct{}, len(remotes))
	for _, id := range remotes {
		if id != pm.self {
			want[id] = struct{}{}
		}
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for id := range pm.links {
		if _, ok := want[id]; !ok {
			pm.closeLocked(id)
		}
	}

	var errs []error
	for id := range want {
		link, exists := pm.links[id]
		switch {
		case !exists:
		case link.failed.Load():
			pm.logger.Infow("replacing failed peer link", "peer_id", id)
			pm.closeLocked(id)
		case link.Initiator && !link.remoteSet && pm.now().Sub(link.offeredAt) > pm.negotiationTimeout:
			pm.logger.Infow("restarting unanswered offer", "peer_id", id)
			pm.closeLocked(id)
		default:
			continue
		}
		if err := pm.connectLocked(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReplaceVideoTrack swaps the outgoing video on every link without
// renegotiating. Every link carries a video sender, reserved when there
// was no camera. A nil track stops sending video.
func (pm *PeerManager) ReplaceVideoTrack(track ports.MediaTrack) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for id, link := range pm.links {
		sender, ok := link.senders[webrtc.RTPCodecTypeVideo]
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			errs = append(errs, &domain.NegotiationError{Peer: id, Stage: "replace-track", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (pm *PeerManager) CloseAll() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for id := range pm.links {
		pm.closeLocked(id)
	}
}

// Links returns the remote ids with a live link, sorted.
func (pm *PeerManager) Links() []domain.ParticipantID {
	pm.mu.Lock()
	ids := make([]domain.ParticipantID, 0, len(pm.links))
	for id := range pm.links {
		ids = append(ids, id)
	}
	pm.mu.Unlock()
	sortIDs(ids)
	return ids
}

func (pm *PeerManager) Info() []LinkInfo {
	pm.mu.Lock()
	infos := make([]LinkInfo, 0, len(pm.links))
	for _, link := range pm.links {
		infos = append(infos, LinkInfo{
			Remote:               link.Remote,
			Initiator:            link.Initiator,
			RemoteDescriptionSet: link.remoteSet,
			PendingCandidates:    len(link.pending),
			Failed:               link.failed.Load(),
		})
	}
	pm.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Remote < infos[j].Remote })
	return infos
}

func (pm *PeerManager) connectLocked(ctx context.Context, remote domain.ParticipantID) error {
	link, err := pm.openLocked(remote, ShouldInitiate(pm.self, remote))
	if err != nil {
		return pm.failure(ctx, remote, "create", err)
	}
	if !link.Initiator {
		return nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "offer", string(pm.self), string(remote))
	defer span.End()

	offer, err := link.conn.CreateOffer(ctx)
	if err != nil {
		pm.closeLocked(remote)
		return pm.failure(ctx, remote, "create-offer", err)
	}
	link.offeredAt = pm.now()
	pm.publish(ctx, signaling.Offer{From: pm.self, Target: remote, SDP: offer})
	return nil
}

func (pm *PeerManager) openLocked(remote domain.ParticipantID, initiator bool) (*PeerLink, error) {
	conn, err := pm.factory.NewPeerConnection(remote)
	if err != nil {
		return nil, err
	}

	link := &PeerLink{
		Remote:    remote,
		Initiator: initiator,
		CreatedAt: pm.now(),
		conn:      conn,
		senders:   make(map[webrtc.RTPCodecType]ports.TrackSender),
	}

	for _, track := range pm.tracks() {
		sender, err := conn.AddTrack(track)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		link.senders[track.Kind()] = sender
	}
	if _, ok := link.senders[webrtc.RTPCodecTypeVideo]; !ok {
		sender, err := conn.ReserveVideo()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		link.senders[webrtc.RTPCodecTypeVideo] = sender
	}

	conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		ctx, cancel := context.WithTimeout(context.Background(), signalPublishTimeout)
		defer cancel()
		pm.publish(ctx, signaling.ICECandidate{From: pm.self, Target: remote, Candidate: candidate})
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		pm.logger.Debugw("peer connection state changed",
			"peer_id", remote,
			"connection_state", state,
		)
		if state == webrtc.PeerConnectionStateFailed {
			link.failed.Store(true)
			pm.metrics.NegotiationFailed("connection")
		}
	})

	pm.links[remote] = link
	pm.metrics.PeerLinkOpened()
	pm.logger.Infow("opened peer link",
		"peer_id", remote,
		"initiator", initiator,
		"links", len(pm.links),
	)
	return link, nil
}

// closeLocked releases the connection even if negotiation never finished.
func (pm *PeerManager) closeLocked(remote domain.ParticipantID) {
	link, exists := pm.links[remote]
	if !exists {
		return
	}
	delete(pm.links, remote)
	if err := link.conn.Close(); err != nil {
		pm.logger.Warnw("error closing peer connection", "peer_id", remote, "error", err)
	}
	pm.metrics.PeerLinkClosed()
	pm.logger.Infow("closed peer link", "peer_id", remote, "links", len(pm.links))
}

func (pm *PeerManager) flushCandidatesLocked(link *PeerLink) {
	for _, candidate := range link.pending {
		if err := link.conn.AddICECandidate(candidate); err != nil {
			pm.logger.Warnw("failed to apply buffered ICE candidate",
				"peer_id", link.Remote,
				"error", err,
			)
		}
	}
	link.pending = nil
}

// publish sends a directed message. Delivery failures are tolerated;
// reconciliation restarts negotiations that stall because of them.
func (pm *PeerManager) publish(ctx context.Context, msg signaling.Message) {
	if err := pm.signal.Publish(ctx, msg); err != nil {
		pm.logger.Warnw("failed to deliver signaling message",
			"kind", msg.Kind(),
			"error", errors.Join(domain.ErrSignalingDelivery, err),
		)
		return
	}
	pm.metrics.SignalingMessage(string(msg.Kind()), "out")
}

func (pm *PeerManager) failure(ctx context.Context, peer domain.ParticipantID, stage string, err error) error {
	negErr := &domain.NegotiationError{Peer: peer, Stage: stage, Err: err}
	pm.metrics.NegotiationFailed(stage)
	tracing.RecordError(ctx, negErr)
	pm.logger.Warnw("peer negotiation failed",
		"peer_id", peer,
		"stage", stage,
		"error", err,
	)
	return negErr
}
