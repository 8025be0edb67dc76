package services

import (
	"context"
	"testing"

	"meetroom/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoomService(t *testing.T) (*RoomService, *meetingFixture) {
	t.Helper()
	f := newMeetingFixture(t, false)
	h := f.participant(t, "unused")
	svc := NewRoomService(f.cfg, h.room.deps, testLogger())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, f
}

func TestRoomService_OpenReusesLiveRoom(t *testing.T) {
	svc, _ := newTestRoomService(t)
	ctx := context.Background()
	alice := domain.Identity{UserID: "alice", Name: "Alice"}

	room, err := svc.Open(ctx, "abc-defg-hij", alice)
	require.NoError(t, err)
	again, err := svc.Open(ctx, "abc-defg-hij", alice)
	require.NoError(t, err)
	assert.Same(t, room, again)
	assert.True(t, room.Snapshot().Self.IsHost)

	bob, err := svc.Open(ctx, "abc-defg-hij", domain.Identity{UserID: "bob"})
	require.NoError(t, err)
	assert.NotSame(t, room, bob)
	assert.False(t, bob.Snapshot().Self.IsHost)
	assert.Equal(t, 2, svc.Len())

	got, err := svc.Get("m1", "alice")
	require.NoError(t, err)
	assert.Same(t, room, got)
}

func TestRoomService_OpenAfterLeaveCreatesFreshRoom(t *testing.T) {
	svc, _ := newTestRoomService(t)
	ctx := context.Background()
	alice := domain.Identity{UserID: "alice"}

	room, err := svc.Open(ctx, "abc-defg-hij", alice)
	require.NoError(t, err)
	require.NoError(t, room.Join(ctx))
	require.NoError(t, room.Leave(ctx))

	fresh, err := svc.Open(ctx, "abc-defg-hij", alice)
	require.NoError(t, err)
	assert.NotSame(t, room, fresh)
	assert.Equal(t, domain.StatePreJoin, fresh.State())
}

func TestRoomService_UnknownLink(t *testing.T) {
	svc, _ := newTestRoomService(t)

	_, err := svc.Open(context.Background(), "nope", domain.Identity{UserID: "alice"})

	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
	assert.Zero(t, svc.Len())
}

func TestRoomService_CloseLeavesRoom(t *testing.T) {
	svc, _ := newTestRoomService(t)
	ctx := context.Background()

	room, err := svc.Open(ctx, "abc-defg-hij", domain.Identity{UserID: "alice"})
	require.NoError(t, err)
	require.NoError(t, room.Join(ctx))

	require.NoError(t, svc.Close(ctx, "m1", "alice"))
	assert.Equal(t, domain.StateLeft, room.State())

	_, err = svc.Get("m1", "alice")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.ErrorIs(t, svc.Close(ctx, "m1", "alice"), domain.ErrRoomNotFound)
}

func TestRoomService_ShutdownLeavesAll(t *testing.T) {
	svc, _ := newTestRoomService(t)
	ctx := context.Background()

	var rooms []*Room
	for _, id := range []domain.UserID{"alice", "bob"} {
		room, err := svc.Open(ctx, "abc-defg-hij", domain.Identity{UserID: id})
		require.NoError(t, err)
		require.NoError(t, room.Join(ctx))
		rooms = append(rooms, room)
	}

	require.NoError(t, svc.Shutdown(ctx))
	for _, room := range rooms {
		assert.Equal(t, domain.StateLeft, room.State())
	}
	assert.Zero(t, svc.Len())
}
