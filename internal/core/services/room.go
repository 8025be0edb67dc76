package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/signaling"
	"meetroom/pkg/retry"
	"meetroom/pkg/tracing"
	"meetroom/pkg/utils"
	"meetroom/pkg/validation"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Session is the authenticated user and the meeting a Room serves.
type Session struct {
	Identity domain.Identity
	Meeting  *domain.Meeting
}

type RoomConfig struct {
	SyncInterval       time.Duration
	NegotiationTimeout time.Duration
	ReannounceInterval time.Duration
	RequestTTL         time.Duration
	AdmissionTimeout   time.Duration
	MaxParticipants    int
	ChatRate           rate.Limit
	ChatBurst          int
	ChatHistory        int
	PublicURL          string
	Constraints        ports.MediaConstraints
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		SyncInterval:       10 * time.Second,
		NegotiationTimeout: 15 * time.Second,
		ReannounceInterval: 20 * time.Second,
		RequestTTL:         2 * time.Minute,
		MaxParticipants:    8,
		ChatRate:           rate.Limit(2),
		ChatBurst:          5,
		ChatHistory:        500,
		Constraints:        ports.MediaConstraints{Audio: true, Video: true},
	}
}

type RoomDeps struct {
	PubSub      ports.PubSub
	Devices     ports.MediaDevices
	PeerFactory ports.PeerConnectionFactory
	Encoders    ports.MediaEncoderFactory
	Storage     ports.ObjectStorage
	Meetings    ports.MeetingRepository
	Retry       retry.Config
	Metrics     ports.RoomMetrics
}

// Snapshot is everything the UI shell renders for a room.
type Snapshot struct {
	State          domain.RoomState            `json:"state"`
	Meeting        domain.Meeting              `json:"meeting"`
	Self           domain.Participant          `json:"self"`
	Participants   []domain.Participant        `json:"participants"`
	Waiting        []domain.WaitingParticipant `json:"waiting,omitempty"`
	Chat           []domain.ChatMessage        `json:"chat"`
	Recording      domain.RecordingStatus      `json:"recording"`
	RecordingClock string                      `json:"recording_clock"`
	Links          []LinkInfo                  `json:"links"`
	LeaveReason    domain.LeaveReason          `json:"leave_reason,omitempty"`
	Error          string                      `json:"error,omitempty"`
}

// Room drives one local participant through a meeting:
// prejoin, then waiting or connecting, then in_call, then left.
type Room struct {
	session Session
	self    domain.ParticipantID
	cfg     RoomConfig
	deps    RoomDeps
	metrics ports.RoomMetrics
	logger  *zap.SugaredLogger
	now     func() time.Time

	capture     *LocalCapture
	roster      *Roster
	recorder    *RecordingPipeline
	chatLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	leaveMu sync.Mutex

	mu            sync.Mutex
	state         domain.RoomState
	local         domain.Participant
	main          ports.Channel
	lobby         ports.Channel
	peers         *PeerManager
	waiting       *WaitingRoom
	admission     *AdmissionRequest
	admissionDone chan struct{}
	loopCancel    context.CancelFunc
	loopDone      chan struct{}
	chat          []domain.ChatMessage
	leaveReason   domain.LeaveReason
	lastErr       string
	watchers      map[int]chan Snapshot
	nextWatcher   int

	// cancelRequested is set once the user withdraws while waiting. An
	// admission that arrives afterwards must not connect.
	cancelRequested bool
	// admissionDecided runs after the host's decision arrives and before
	// the room applies it.
	admissionDecided func(error)
}

func NewRoom(session Session, cfg RoomConfig, deps RoomDeps, logger *zap.SugaredLogger) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	identity := session.Identity
	self := identity.ParticipantID()
	logger = logger.With("meeting_id", session.Meeting.ID, "participant_id", self)

	r := &Room{
		session:     session,
		self:        self,
		cfg:         cfg,
		deps:        deps,
		metrics:     metricsOrNop(deps.Metrics),
		logger:      logger,
		now:         time.Now,
		capture:     NewLocalCapture(deps.Devices, logger),
		roster:      NewRoster(),
		chatLimiter: rate.NewLimiter(cfg.ChatRate, cfg.ChatBurst),
		ctx:         ctx,
		cancel:      cancel,
		state:       domain.StatePreJoin,
		local: domain.Participant{
			ID:        self,
			Name:      identity.Name,
			AvatarURL: identity.AvatarURL,
			IsHost:    session.Meeting.IsHost(identity.UserID),
		},
		watchers: make(map[int]chan Snapshot),
	}

	if r.local.IsHost {
		r.recorder = NewRecordingPipeline(session.Meeting.ID, identity.UserID, RecordingPipelineDeps{
			Devices:  deps.Devices,
			Encoders: deps.Encoders,
			Storage:  deps.Storage,
			Meetings: deps.Meetings,
			Retry:    deps.Retry,
			Metrics:  deps.Metrics,
		}, logger)
	}
	return r
}

func (r *Room) Session() Session {
	return r.session
}

func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Join acquires local media and either enters the waiting room or
// connects directly. Waiting returns immediately; admission continues in
// the background and the state moves on when the host decides.
func (r *Room) Join(ctx context.Context) error {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(r.session.Meeting.ID), string(r.self))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != domain.StatePreJoin {
		return fmt.Errorf("%w: cannot join from %s", domain.ErrInvalidState, r.state)
	}

	if _, err := r.capture.Acquire(ctx, r.cfg.Constraints); err != nil {
		r.lastErr = err.Error()
		tracing.RecordError(ctx, err)
		return err
	}
	r.local.IsMuted = false
	r.local.IsVideoOff = false

	if r.session.Meeting.WaitingRoomEnabled && !r.local.IsHost {
		return r.enterWaitingLocked(ctx)
	}
	return r.connectLocked(ctx)
}

func (r *Room) enterWaitingLocked(ctx context.Context) error {
	lobby, err := r.deps.PubSub.Open(ctx, r.session.Meeting.LobbyTopic(), r.self)
	if err != nil {
		r.capture.Release()
		r.lastErr = err.Error()
		return fmt.Errorf("%w: open lobby: %v", domain.ErrSignalingDelivery, err)
	}

	r.lobby = lobby
	host := domain.Identity{UserID: r.session.Meeting.HostID}.ParticipantID()
	r.admission = NewAdmissionRequest(lobby, r.session.Identity, host, r.now(), r.cfg.ReannounceInterval, r.logger)
	r.admissionDone = make(chan struct{})
	r.setStateLocked(domain.StateWaiting)

	go r.awaitAdmission(r.admission, r.admissionDone)
	return nil
}

func (r *Room) awaitAdmission(req *AdmissionRequest, done chan struct{}) {
	defer close(done)

	ctx := r.ctx
	if r.cfg.AdmissionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AdmissionTimeout)
		defer cancel()
	}

	err := req.Wait(ctx)
	if r.admissionDecided != nil {
		r.admissionDecided(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != domain.StateWaiting {
		return
	}
	r.closeLobbyLocked()

	switch {
	case r.cancelRequested:
		if err == nil {
			r.logger.Infow("admitted after cancelling, not connecting")
		}
		r.leaveWaitingLocked(domain.LeaveReasonCancelled, nil)
	case err == nil:
		r.logger.Infow("admitted to meeting")
		if err := r.connectLocked(r.ctx); err != nil {
			r.logger.Warnw("failed to connect after admission", "error", err)
		}
	case errors.Is(err, domain.ErrAdmissionDenied):
		r.leaveWaitingLocked(domain.LeaveReasonDenied, err)
	case errors.Is(err, domain.ErrAdmissionCancelled):
		r.leaveWaitingLocked(domain.LeaveReasonCancelled, nil)
	default:
		r.leaveWaitingLocked(domain.LeaveReasonShutdown, err)
	}
}

func (r *Room) leaveWaitingLocked(reason domain.LeaveReason, err error) {
	r.capture.Release()
	r.leaveReason = reason
	if err != nil {
		r.lastErr = err.Error()
	}
	r.setStateLocked(domain.StateLeft)
	r.logger.Infow("left waiting room", "reason", reason)
}

// connectLocked opens the main topic, starts tracking presence and brings
// up links to everyone already present. Media must already be held.
func (r *Room) connectLocked(ctx context.Context) error {
	r.setStateLocked(domain.StateConnecting)

	main, err := r.deps.PubSub.Open(ctx, r.session.Meeting.MainTopic(), r.self)
	if err != nil {
		return r.abortConnectLocked(fmt.Errorf("%w: open main topic: %v", domain.ErrSignalingDelivery, err))
	}

	present, err := main.Presence(ctx)
	if err != nil {
		_ = main.Close()
		return r.abortConnectLocked(fmt.Errorf("%w: presence: %v", domain.ErrSignalingDelivery, err))
	}
	if r.cfg.MaxParticipants > 0 && countOthers(present, r.self) >= r.cfg.MaxParticipants {
		_ = main.Close()
		return r.abortConnectLocked(domain.ErrRoomFull)
	}

	if r.local.IsHost && r.session.Meeting.WaitingRoomEnabled {
		lobby, err := r.deps.PubSub.Open(ctx, r.session.Meeting.LobbyTopic(), r.self)
		if err != nil {
			_ = main.Close()
			return r.abortConnectLocked(fmt.Errorf("%w: open lobby: %v", domain.ErrSignalingDelivery, err))
		}
		r.lobby = lobby
		r.waiting = NewWaitingRoom(r.session.Meeting.ID, lobby, r.cfg.RequestTTL, r.deps.Metrics, r.logger)
	}

	r.main = main
	r.peers = NewPeerManager(r.self, r.deps.PeerFactory, main, r.capture.OutgoingTracks,
		r.cfg.NegotiationTimeout, r.deps.Metrics, r.logger)

	r.local.JoinedAt = r.now()
	if err := main.Track(ctx, r.local); err != nil {
		r.logger.Warnw("failed to track presence", "error", err)
	}

	r.roster.ApplySync(present)
	r.roster.Upsert(r.local)
	if err := r.peers.Reconcile(ctx, r.roster.Remote(r.self)); err != nil {
		r.logger.Warnw("initial peer reconcile had failures", "error", err)
	}

	loopCtx, cancel := context.WithCancel(r.ctx)
	r.loopCancel = cancel
	r.loopDone = make(chan struct{})
	go r.run(loopCtx, main, r.lobby, r.loopDone)

	r.setStateLocked(domain.StateInCall)
	return nil
}

func (r *Room) abortConnectLocked(err error) error {
	r.capture.Release()
	r.lastErr = err.Error()
	r.leaveReason = domain.LeaveReasonShutdown
	r.setStateLocked(domain.StateLeft)
	r.logger.Warnw("failed to connect to meeting", "error", err)
	return err
}

// run is the room event loop. Inbound messages are applied one at a time
// so each sender's messages are handled in send order.
func (r *Room) run(ctx context.Context, main, lobby ports.Channel, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	if r.cfg.SyncInterval > 0 {
		ticker = time.NewTicker(r.cfg.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	mainIn := main.Inbound()
	var lobbyIn <-chan signaling.Received
	if lobby != nil {
		lobbyIn = lobby.Inbound()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-mainIn:
			if !ok {
				r.logger.Warnw("main topic closed")
				mainIn = nil
				continue
			}
			r.handleMain(ctx, in)
		case in, ok := <-lobbyIn:
			if !ok {
				lobbyIn = nil
				continue
			}
			r.handleLobby(in)
		case <-tick:
			r.sync(ctx)
		}
	}
}

func (r *Room) handleMain(ctx context.Context, in signaling.Received) {
	r.metrics.SignalingMessage(string(in.Message.Kind()), "in")
	if !signaling.IsFor(in.Message, r.self) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.StateInCall {
		return
	}

	var err error
	switch msg := in.Message.(type) {
	case signaling.PresenceSync:
		r.roster.ApplySync(msg.Roster)
		r.roster.Upsert(r.local)
		err = r.peers.Reconcile(ctx, r.roster.Remote(r.self))
	case signaling.PresenceJoin:
		delta := r.roster.ApplyJoin(msg.Participants)
		for _, id := range delta.Joined {
			if joinErr := r.peers.HandlePresenceJoin(ctx, id); joinErr != nil {
				r.logger.Warnw("failed to open peer link", "peer_id", id, "error", joinErr)
			}
		}
	case signaling.PresenceLeave:
		delta := r.roster.ApplyLeave(msg.Participants)
		for _, id := range delta.Left {
			if id == r.self {
				continue
			}
			r.peers.HandlePresenceLeave(id)
		}
		r.roster.Upsert(r.local)
	case signaling.Offer:
		if r.dropForgedLocked(in, msg.From) {
			return
		}
		err = r.peers.HandleOffer(ctx, msg.From, msg.SDP)
	case signaling.Answer:
		if r.dropForgedLocked(in, msg.From) {
			return
		}
		err = r.peers.HandleAnswer(ctx, msg.From, msg.SDP)
	case signaling.ICECandidate:
		if r.dropForgedLocked(in, msg.From) {
			return
		}
		err = r.peers.HandleICECandidate(msg.From, msg.Candidate)
	case signaling.Chat:
		r.appendChatLocked(msg.ChatMessage)
	default:
		r.logger.Debugw("ignoring message on main topic", "kind", in.Message.Kind())
		return
	}
	if err != nil {
		r.logger.Warnw("failed to apply signaling message",
			"kind", in.Message.Kind(),
			"sender", in.Sender,
			"error", err,
		)
	}
	r.notifyLocked()
}

// dropForgedLocked reports whether a negotiation message names a sender
// other than the participant that published it.
func (r *Room) dropForgedLocked(in signaling.Received, from domain.ParticipantID) bool {
	if in.Sender == from {
		return false
	}
	r.logger.Warnw("dropping negotiation message published on behalf of another participant",
		"kind", in.Message.Kind(),
		"sender", in.Sender,
		"from", from,
	)
	return true
}

func (r *Room) handleLobby(in signaling.Received) {
	r.metrics.SignalingMessage(string(in.Message.Kind()), "in")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiting == nil || r.state != domain.StateInCall {
		return
	}

	switch msg := in.Message.(type) {
	case signaling.JoinRequest:
		if msg.ParticipantID != in.Sender && in.Sender != "" {
			r.logger.Warnw("dropping join request published on behalf of another participant",
				"sender", in.Sender,
				"participant_id", msg.ParticipantID,
			)
			return
		}
		r.waiting.HandleJoinRequest(msg)
	case signaling.JoinCancel:
		r.waiting.HandleCancel(msg.ParticipantID)
	default:
		return
	}
	r.notifyLocked()
}

// sync heals missed presence deltas and expires abandoned join requests.
func (r *Room) sync(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.StateInCall {
		return
	}

	present, err := r.main.Presence(ctx)
	if err != nil {
		r.logger.Warnw("presence sync failed", "error", err)
	} else {
		r.roster.ApplySync(present)
		r.roster.Upsert(r.local)
		if err := r.peers.Reconcile(ctx, r.roster.Remote(r.self)); err != nil {
			r.logger.Warnw("peer reconcile had failures", "error", err)
		}
	}

	if r.waiting != nil {
		if expired := r.waiting.Expire(ctx, r.now()); len(expired) > 0 {
			r.logger.Infow("expired abandoned join requests", "participants", expired)
		}
	}
	r.notifyLocked()
}

// ToggleMute flips the microphone. Only the track's enablement changes;
// no link is touched.
func (r *Room) ToggleMute(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.StateLeft || !r.capture.Held() {
		return false, fmt.Errorf("%w: no local media", domain.ErrInvalidState)
	}
	r.local.IsMuted = !r.local.IsMuted
	r.capture.SetMuted(r.local.IsMuted)
	r.announceLocked(ctx)
	return r.local.IsMuted, nil
}

func (r *Room) ToggleCamera(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == domain.StateLeft || !r.capture.Held() {
		return false, fmt.Errorf("%w: no local media", domain.ErrInvalidState)
	}
	r.local.IsVideoOff = !r.local.IsVideoOff
	r.capture.SetVideoOff(r.local.IsVideoOff)
	r.announceLocked(ctx)
	return r.local.IsVideoOff, nil
}

func (r *Room) ToggleHand(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != domain.StateInCall {
		return false, fmt.Errorf("%w: not in call", domain.ErrInvalidState)
	}
	r.local.IsHandRaised = !r.local.IsHandRaised
	r.announceLocked(ctx)
	return r.local.IsHandRaised, nil
}

// StartScreenShare replaces the outgoing video on every link with the
// shared surface.
func (r *Room) StartScreenShare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != domain.StateInCall {
		return fmt.Errorf("%w: not in call", domain.ErrInvalidState)
	}
	if r.capture.Sharing() {
		return nil
	}

	surface, err := r.capture.StartScreenShare(ctx)
	if err != nil {
		r.lastErr = err.Error()
		return err
	}
	surface.OnEnded(func() {
		go func() {
			if err := r.StopScreenShare(context.Background()); err != nil {
				r.logger.Warnw("failed to restore camera after share ended", "error", err)
			}
		}()
	})

	video := surface.Video()
	if err := r.peers.ReplaceVideoTrack(video); err != nil {
		r.logger.Warnw("failed to swap in screen track on some links", "error", err)
	}
	if video != nil {
		video.RequestKeyFrame()
	}

	r.local.IsScreenSharing = true
	r.announceLocked(ctx)
	return nil
}

// StopScreenShare restores the camera track. A camera that was off stays
// off because its track stays disabled.
func (r *Room) StopScreenShare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capture.StopScreenShare() {
		return nil
	}

	if r.peers != nil {
		camera := r.capture.CameraTrack()
		if err := r.peers.ReplaceVideoTrack(camera); err != nil {
			r.logger.Warnw("failed to restore camera track on some links", "error", err)
		}
		if camera != nil {
			camera.RequestKeyFrame()
		}
	}

	r.local.IsScreenSharing = false
	r.announceLocked(ctx)
	return nil
}

func (r *Room) StartRecording(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHostInCallLocked(); err != nil {
		return err
	}
	if err := r.recorder.Start(ctx, r.capture.MicTrack()); err != nil {
		r.lastErr = err.Error()
		return err
	}
	r.notifyLocked()
	return nil
}

// StopRecording ends the recording and uploads it. Stopping when nothing
// is recording returns an empty url and no error.
func (r *Room) StopRecording(ctx context.Context) (string, error) {
	if !r.local.IsHost {
		return "", domain.ErrNotHost
	}
	url, err := r.recorder.Stop(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.lastErr = err.Error()
	} else if url != "" {
		r.session.Meeting.RecordingURL = url
		r.session.Meeting.IsRecorded = true
	}
	r.notifyLocked()
	return url, err
}

func (r *Room) RetryRecordingUpload(ctx context.Context) (string, error) {
	if !r.local.IsHost {
		return "", domain.ErrNotHost
	}
	url, err := r.recorder.RetryUpload(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.session.Meeting.RecordingURL = url
		r.session.Meeting.IsRecorded = true
		r.lastErr = ""
	}
	r.notifyLocked()
	return url, err
}

func (r *Room) Admit(ctx context.Context, id domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireWaitingRoomLocked(); err != nil {
		return err
	}
	if err := r.waiting.Admit(ctx, id); err != nil {
		return err
	}
	r.notifyLocked()
	return nil
}

func (r *Room) Deny(ctx context.Context, id domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireWaitingRoomLocked(); err != nil {
		return err
	}
	if err := r.waiting.Deny(ctx, id, ""); err != nil {
		return err
	}
	r.notifyLocked()
	return nil
}

// SendChat broadcasts a message and appends it locally, since the
// transport does not echo a sender's own broadcasts.
func (r *Room) SendChat(ctx context.Context, body string) (domain.ChatMessage, error) {
	body = utils.SanitizeString(body)
	if err := validation.ValidateChatBody(body); err != nil {
		return domain.ChatMessage{}, err
	}
	if !r.chatLimiter.Allow() {
		return domain.ChatMessage{}, domain.ErrRateLimited
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != domain.StateInCall {
		return domain.ChatMessage{}, fmt.Errorf("%w: not in call", domain.ErrInvalidState)
	}

	msg := domain.ChatMessage{
		ID:         utils.GenerateMessageID(),
		SenderID:   r.self,
		SenderName: r.local.Name,
		Body:       body,
		SentAt:     r.now(),
	}
	if err := r.main.Publish(ctx, signaling.Chat{ChatMessage: msg}); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: chat: %v", domain.ErrSignalingDelivery, err)
	}
	r.metrics.SignalingMessage(string(signaling.KindChat), "out")
	r.appendChatLocked(msg)
	r.notifyLocked()
	return msg, nil
}

// CancelWaiting withdraws a pending join request and waits until the room
// has left.
func (r *Room) CancelWaiting() error {
	r.mu.Lock()
	if r.state != domain.StateWaiting {
		r.mu.Unlock()
		return fmt.Errorf("%w: not waiting", domain.ErrInvalidState)
	}
	done := r.cancelWaitingLocked()
	r.mu.Unlock()

	<-done
	return nil
}

// cancelWaitingLocked withdraws the join request and returns a channel
// closed once the room has left the waiting state.
func (r *Room) cancelWaitingLocked() <-chan struct{} {
	r.cancelRequested = true
	r.admission.Cancel()
	return r.admissionDone
}

// Leave ends the session. Recording is stopped and uploaded before media
// is released, then every link is closed, media released, presence
// untracked and the topics closed.
func (r *Room) Leave(ctx context.Context) error {
	r.leaveMu.Lock()
	defer r.leaveMu.Unlock()

	ctx, span := tracing.TraceRoomOperation(ctx, "leave", string(r.session.Meeting.ID), string(r.self))
	defer span.End()

	r.mu.Lock()
	state := r.state
	switch state {
	case domain.StateLeft:
		r.mu.Unlock()
		return nil
	case domain.StatePreJoin:
		r.capture.Release()
		r.leaveReason = domain.LeaveReasonUser
		r.setStateLocked(domain.StateLeft)
		r.mu.Unlock()
		r.cancel()
		return nil
	case domain.StateWaiting:
		done := r.cancelWaitingLocked()
		r.mu.Unlock()
		<-done
		return nil
	}
	loopCancel, loopDone := r.loopCancel, r.loopDone
	r.mu.Unlock()

	var uploadErr error
	if r.recorder != nil && r.recorder.Active() {
		if _, err := r.recorder.Stop(ctx); err != nil {
			uploadErr = err
			r.logger.Warnw("recording upload failed during leave", "error", err)
		}
	}

	if loopCancel != nil {
		loopCancel()
		<-loopDone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers.CloseAll()
	r.capture.Release()
	if err := r.main.Untrack(ctx); err != nil {
		r.logger.Warnw("failed to untrack presence", "error", err)
	}
	if err := r.main.Close(); err != nil {
		r.logger.Warnw("failed to close main topic", "error", err)
	}
	r.closeLobbyLocked()

	r.leaveReason = domain.LeaveReasonUser
	if uploadErr != nil {
		r.lastErr = uploadErr.Error()
	}
	r.setStateLocked(domain.StateLeft)
	r.cancel()
	return uploadErr
}

// InviteLink is the shareable URL for the meeting.
func (r *Room) InviteLink() string {
	base := strings.TrimRight(r.cfg.PublicURL, "/")
	return base + "/meeting/" + r.session.Meeting.Link
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Watch streams snapshots after every change. Slow watchers only see the
// latest one.
func (r *Room) Watch() (<-chan Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextWatcher
	r.nextWatcher++
	ch := make(chan Snapshot, 1)
	ch <- r.snapshotLocked()
	r.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Room) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:        r.state,
		Meeting:      *r.session.Meeting,
		Self:         r.local,
		Participants: r.roster.List(),
		Chat:         append([]domain.ChatMessage(nil), r.chat...),
		LeaveReason:  r.leaveReason,
		Error:        r.lastErr,
	}
	if r.state != domain.StateInCall {
		snap.Participants = nil
	}
	if r.waiting != nil {
		snap.Waiting = r.waiting.List()
	}
	if r.recorder != nil {
		snap.Recording = r.recorder.Status()
	}
	snap.RecordingClock = utils.FormatClock(snap.Recording.Duration)
	if r.peers != nil && r.state == domain.StateInCall {
		snap.Links = r.peers.Info()
	}
	return snap
}

func (r *Room) notifyLocked() {
	if len(r.watchers) == 0 {
		return
	}
	snap := r.snapshotLocked()
	for _, ch := range r.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// announceLocked publishes the local state to presence when in call.
func (r *Room) announceLocked(ctx context.Context) {
	if r.state == domain.StateInCall {
		r.roster.Upsert(r.local)
		if err := r.main.Track(ctx, r.local); err != nil {
			r.logger.Warnw("failed to announce presence state", "error", err)
		}
	}
	r.notifyLocked()
}

func (r *Room) appendChatLocked(msg domain.ChatMessage) {
	r.chat = append(r.chat, msg)
	if r.cfg.ChatHistory > 0 && len(r.chat) > r.cfg.ChatHistory {
		r.chat = append([]domain.ChatMessage(nil), r.chat[len(r.chat)-r.cfg.ChatHistory:]...)
	}
}

func (r *Room) closeLobbyLocked() {
	if r.lobby == nil {
		return
	}
	if err := r.lobby.Close(); err != nil {
		r.logger.Warnw("failed to close lobby topic", "error", err)
	}
	r.lobby = nil
}

func (r *Room) requireHostInCallLocked() error {
	if !r.local.IsHost {
		return domain.ErrNotHost
	}
	if r.state != domain.StateInCall {
		return fmt.Errorf("%w: not in call", domain.ErrInvalidState)
	}
	return nil
}

func (r *Room) requireWaitingRoomLocked() error {
	if err := r.requireHostInCallLocked(); err != nil {
		return err
	}
	if r.waiting == nil {
		return fmt.Errorf("%w: waiting room disabled", domain.ErrInvalidState)
	}
	return nil
}

func (r *Room) setStateLocked(to domain.RoomState) {
	from := r.state
	if from == to {
		return
	}
	r.state = to
	r.metrics.RoomStateChanged(from, to)
	r.logger.Infow("room state changed", "from", from, "to", to)
	r.notifyLocked()
}

func countOthers(present []domain.Participant, self domain.ParticipantID) int {
	n := 0
	for _, p := range present {
		if p.ID != self {
			n++
		}
	}
	return n
}
