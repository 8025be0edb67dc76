package ports

import (
	"context"
	"io"
	"time"

	"meetroom/internal/core/domain"
)

type IdentityProvider interface {
	Current(ctx context.Context) (domain.Identity, error)
}

// ObjectStorage persists recording artifacts and returns their public URL.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error)
}

// RoomMetrics receives room lifecycle observations.
type RoomMetrics interface {
	PeerLinkOpened()
	PeerLinkClosed()
	NegotiationFailed(stage string)
	SignalingMessage(kind string, direction string)
	WaitingRoomSize(meetingID domain.MeetingID, size int)
	RecordingStarted()
	RecordingCompleted(duration time.Duration, bytes int64)
	RecordingUploadFailed()
	RoomStateChanged(from, to domain.RoomState)
}
