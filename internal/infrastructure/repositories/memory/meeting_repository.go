package memory

import (
	"context"
	"sync"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
)

type MemoryMeetingRepository struct {
	mu       sync.RWMutex
	meetings map[domain.MeetingID]*domain.Meeting
	links    map[string]domain.MeetingID
}

func NewMemoryMeetingRepository() ports.MeetingRepository {
	return &MemoryMeetingRepository{
		meetings: make(map[domain.MeetingID]*domain.Meeting),
		links:    make(map[string]domain.MeetingID),
	}
}

func (r *MemoryMeetingRepository) Create(ctx context.Context, meeting *domain.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[meeting.ID]; exists {
		return domain.ErrMeetingExists
	}
	if _, exists := r.links[meeting.Link]; exists && meeting.Link != "" {
		return domain.ErrMeetingExists
	}

	stored := *meeting
	r.meetings[meeting.ID] = &stored
	if meeting.Link != "" {
		r.links[meeting.Link] = meeting.ID
	}
	return nil
}

func (r *MemoryMeetingRepository) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meeting, exists := r.meetings[id]
	if !exists {
		return nil, domain.ErrMeetingNotFound
	}
	out := *meeting
	return &out, nil
}

func (r *MemoryMeetingRepository) GetByLink(ctx context.Context, link string) (*domain.Meeting, error) {
	r.mu.RLock()
	id, exists := r.links[link]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.ErrMeetingNotFound
	}
	return r.GetByID(ctx, id)
}

// SetRecording stores the url of the latest uploaded recording.
func (r *MemoryMeetingRepository) SetRecording(ctx context.Context, id domain.MeetingID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meeting, exists := r.meetings[id]
	if !exists {
		return domain.ErrMeetingNotFound
	}
	meeting.IsRecorded = true
	meeting.RecordingURL = url
	return nil
}
