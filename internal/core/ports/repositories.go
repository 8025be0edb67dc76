package ports

import (
	"context"

	"meetroom/internal/core/domain"
)

// MeetingRepository is the meeting metadata collaborator. The core only
// reads meetings and records the recording url.
type MeetingRepository interface {
	Create(ctx context.Context, meeting *domain.Meeting) error
	GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	GetByLink(ctx context.Context, link string) (*domain.Meeting, error)
	SetRecording(ctx context.Context, id domain.MeetingID, url string) error
}
