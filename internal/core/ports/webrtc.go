package ports

import (
	"context"

	"meetroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the subset of a WebRTC connection the mesh needs.
type PeerConnection interface {
	AddTrack(track MediaTrack) (TrackSender, error)
	// ReserveVideo adds a video sender with no source yet, so video can
	// start later without renegotiation.
	ReserveVideo() (TrackSender, error)
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	Close() error
}

// TrackSender swaps the track carried by an outgoing sender without
// renegotiation. A nil track stops sending.
type TrackSender interface {
	ReplaceTrack(track MediaTrack) error
	Track() MediaTrack
}

type PeerConnectionFactory interface {
	NewPeerConnection(remote domain.ParticipantID) (PeerConnection, error)
}
