package memory

import (
	"context"
	"testing"
	"time"

	"meetroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeeting() *domain.Meeting {
	return &domain.Meeting{
		ID:                 "m1",
		Link:               "abc-defg-hij",
		Title:              "Standup",
		ScheduledAt:        time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC),
		Duration:           30 * time.Minute,
		HostID:             "alice",
		WaitingRoomEnabled: true,
	}
}

func TestMemoryMeetingRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryMeetingRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testMeeting()))

	byID, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Standup", byID.Title)

	byLink, err := repo.GetByLink(ctx, "abc-defg-hij")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingID("m1"), byLink.ID)

	// returned values are copies
	byID.Title = "changed"
	again, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Standup", again.Title)
}

func TestMemoryMeetingRepository_Duplicates(t *testing.T) {
	repo := NewMemoryMeetingRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testMeeting()))
	assert.ErrorIs(t, repo.Create(ctx, testMeeting()), domain.ErrMeetingExists)

	other := testMeeting()
	other.ID = "m2"
	assert.ErrorIs(t, repo.Create(ctx, other), domain.ErrMeetingExists)
}

func TestMemoryMeetingRepository_NotFound(t *testing.T) {
	repo := NewMemoryMeetingRepository()
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
	_, err = repo.GetByLink(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
	assert.ErrorIs(t, repo.SetRecording(ctx, "missing", "x"), domain.ErrMeetingNotFound)
}

func TestMemoryMeetingRepository_SetRecording(t *testing.T) {
	repo := NewMemoryMeetingRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testMeeting()))

	require.NoError(t, repo.SetRecording(ctx, "m1", "https://cdn.example.com/a.webm"))

	meeting, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, meeting.IsRecorded)
	assert.Equal(t, "https://cdn.example.com/a.webm", meeting.RecordingURL)
}
