package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// MediaTrack is a local capture track. Disabling a track stops it from
// producing samples without removing it from any connection.
type MediaTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop ends the track permanently.
	Stop()
	Stopped() bool
	// Local is the track handed to peer connections.
	Local() webrtc.TrackLocal
	// Subscribe taps the samples the track produces while enabled.
	Subscribe() (<-chan media.Sample, func())
	// RequestKeyFrame asks the source for a key frame on the next sample.
	RequestKeyFrame()
}

// LocalStream is the result of a user media request.
type LocalStream struct {
	Audio MediaTrack
	Video MediaTrack
}

func (s *LocalStream) Tracks() []MediaTrack {
	var tracks []MediaTrack
	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}
	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}
	return tracks
}

// CaptureSurface is a captured screen or window.
type CaptureSurface interface {
	Video() MediaTrack
	// Audio is nil when the surface emits no audio.
	Audio() MediaTrack
	// OnEnded registers a callback fired when capture ends on its own.
	OnEnded(fn func())
	Stop()
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (*LocalStream, error)
	GetDisplayMedia(ctx context.Context) (CaptureSurface, error)
}

// MediaEncoder turns live tracks into container chunks.
type MediaEncoder interface {
	// Chunks delivers encoded output on a fixed cadence.
	Chunks() <-chan []byte
	// Stop flushes and returns the final bytes.
	Stop() ([]byte, error)
	ContentType() string
}

type MediaEncoderFactory interface {
	NewEncoder(video MediaTrack, audio []MediaTrack) (MediaEncoder, error)
}
