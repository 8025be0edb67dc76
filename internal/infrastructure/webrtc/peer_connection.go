package webrtc

import (
	"context"
	"fmt"
	"sync"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config is the WebRTC transport configuration.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	// IncludeLoopback gathers loopback candidates, for single-host setups.
	IncludeLoopback bool
}

// PeerFactory creates pion peer connections for the mesh.
type PeerFactory struct {
	config Config
	logger *zap.SugaredLogger
}

func NewPeerFactory(config Config, logger *zap.SugaredLogger) *PeerFactory {
	return &PeerFactory{config: config, logger: logger}
}

// NewPeerConnection builds a connection with its own media engine; engines
// are not shared between connections.
func (f *PeerFactory) NewPeerConnection(remote domain.ParticipantID) (ports.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}
	settingEngine.SetIncludeLoopbackCandidate(f.config.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := &peerConnection{
		pc:     pc,
		remote: remote,
		logger: f.logger.With("peer_id", remote),
	}
	pc.OnTrack(conn.handleRemoteTrack)
	return conn, nil
}

type peerConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID
	logger *zap.SugaredLogger

	mu    sync.Mutex
	stats map[string]*trackCounter
}

func (c *peerConnection) AddTrack(track ports.MediaTrack) (ports.TrackSender, error) {
	rtpSender, err := c.pc.AddTrack(track.Local())
	if err != nil {
		return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	sender := &trackSender{sender: rtpSender, track: track}
	go sender.readRTCP(c.logger)
	return sender, nil
}

// ReserveVideo negotiates a video m-line with a placeholder source. The
// sender reports no track until ReplaceTrack binds a real one.
func (c *peerConnection) ReserveVideo() (ports.TrackSender, error) {
	transceiver, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reserve video sender: %w", err)
	}
	rtpSender := transceiver.Sender()
	if rtpSender == nil {
		return nil, fmt.Errorf("failed to reserve video sender: transceiver has no sender")
	}
	sender := &trackSender{sender: rtpSender}
	go sender.readRTCP(c.logger)
	return sender, nil
}

func (c *peerConnection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *peerConnection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// OnICECandidate forwards gathered candidates. The end-of-gathering nil
// candidate is not forwarded.
func (c *peerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *peerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Infow("peer connection state changed", "connection_state", state)
		fn(state)
	})
}

func (c *peerConnection) Close() error {
	return c.pc.Close()
}

// RemoteTracks returns counters for every track received from the peer.
func (c *peerConnection) RemoteTracks() []RemoteTrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RemoteTrackStats, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, s.snapshot())
	}
	return out
}

// handleRemoteTrack drains an incoming track. Rendering belongs to the UI
// shell; the engine only keeps counters and asks for a first key frame.
func (c *peerConnection) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.logger.Infow("remote track started",
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)

	stats := &trackCounter{stats: RemoteTrackStats{TrackID: track.ID(), Kind: track.Kind().String()}}
	c.mu.Lock()
	if c.stats == nil {
		c.stats = make(map[string]*trackCounter)
	}
	c.stats[track.ID()] = stats
	c.mu.Unlock()

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
		if err != nil {
			c.logger.Debugw("failed to request key frame", "track_id", track.ID(), "error", err)
		}
	}

	go func() {
		for {
			if _, _, err := receiver.ReadRTCP(); err != nil {
				return
			}
		}
	}()

	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			c.logger.Debugw("remote track ended", "track_id", track.ID(), "error", err)
			return
		}
		stats.observe(packet, track.Kind() == webrtc.RTPCodecTypeVideo && IsVP8KeyFrame(packet.Payload))
	}
}

// trackSender tracks the local track currently bound to an RTP sender so
// key frame requests reach whichever source is live.
type trackSender struct {
	sender *webrtc.RTPSender

	mu    sync.Mutex
	track ports.MediaTrack
}

func (s *trackSender) ReplaceTrack(track ports.MediaTrack) error {
	var local webrtc.TrackLocal
	if track != nil {
		local = track.Local()
	}
	if err := s.sender.ReplaceTrack(local); err != nil {
		return err
	}
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

func (s *trackSender) Track() ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// readRTCP runs until the sender stops, turning PLI and FIR into key
// frame requests.
func (s *trackSender) readRTCP(logger *zap.SugaredLogger) {
	for {
		packets, _, err := s.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch packet.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if track := s.Track(); track != nil {
					logger.Debugw("key frame requested", "track_id", track.ID())
					track.RequestKeyFrame()
				}
			}
		}
	}
}
