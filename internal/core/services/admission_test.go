package services

import (
	"context"
	"testing"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/signaling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWaitingRoom(ttl time.Duration) (*WaitingRoom, *recordingPublisher) {
	lobby := &recordingPublisher{}
	return NewWaitingRoom("m1", lobby, ttl, nil, testLogger()), lobby
}

func TestWaitingRoom_JoinRequestUpsertsAndRefreshes(t *testing.T) {
	w, _ := newTestWaitingRoom(0)
	start := time.Now()
	now := start
	w.now = func() time.Time { return now }

	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest-b", Name: "B", JoinedAt: start.Add(time.Second)})
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest-a", Name: "A", JoinedAt: start})

	now = start.Add(10 * time.Second)
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest-b", Name: "B2", JoinedAt: start.Add(time.Second)})

	list := w.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.ParticipantID("guest-a"), list[0].ID)
	assert.Equal(t, domain.ParticipantID("guest-b"), list[1].ID)
	assert.Equal(t, "B2", list[1].Name)
	assert.Equal(t, now, list[1].LastSeen)
	assert.Equal(t, start.Add(time.Second), list[1].JoinedAt)
}

func TestWaitingRoom_AdmitIsIdempotent(t *testing.T) {
	w, lobby := newTestWaitingRoom(0)
	ctx := context.Background()
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest", Name: "Guest"})

	require.NoError(t, w.Admit(ctx, "guest"))
	require.NoError(t, w.Admit(ctx, "guest"))

	assert.Equal(t, []signaling.Message{signaling.Admitted{ParticipantID: "guest"}}, lobby.messages())
	assert.Zero(t, w.Len())
}

func TestWaitingRoom_DenyPublishesReason(t *testing.T) {
	w, lobby := newTestWaitingRoom(0)
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest"})

	require.NoError(t, w.Deny(context.Background(), "guest", "not invited"))

	assert.Equal(t, []signaling.Message{signaling.Denied{ParticipantID: "guest", Reason: "not invited"}}, lobby.messages())
	assert.Empty(t, w.List())
}

func TestWaitingRoom_FailedPublishKeepsRequest(t *testing.T) {
	w, lobby := newTestWaitingRoom(0)
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest"})
	lobby.err = errBoom

	err := w.Admit(context.Background(), "guest")

	assert.ErrorIs(t, err, domain.ErrSignalingDelivery)
	assert.Equal(t, 1, w.Len())
}

func TestWaitingRoom_HandleCancel(t *testing.T) {
	w, lobby := newTestWaitingRoom(0)
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest"})

	assert.True(t, w.HandleCancel("guest"))
	assert.False(t, w.HandleCancel("guest"))
	require.NoError(t, w.Admit(context.Background(), "guest"))
	assert.Empty(t, lobby.messages())
}

func TestWaitingRoom_ExpireAbandonedRequests(t *testing.T) {
	w, lobby := newTestWaitingRoom(time.Minute)
	start := time.Now()
	now := start
	w.now = func() time.Time { return now }

	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "gone"})
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "active"})

	now = start.Add(50 * time.Second)
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "active"})

	expired := w.Expire(context.Background(), start.Add(90*time.Second))

	assert.Equal(t, []domain.ParticipantID{"gone"}, expired)
	assert.Equal(t, []signaling.Message{signaling.Denied{ParticipantID: "gone", Reason: DenyReasonExpired}}, lobby.messages())
	require.Len(t, w.List(), 1)
	assert.Equal(t, domain.ParticipantID("active"), w.List()[0].ID)
}

func TestWaitingRoom_ZeroTTLNeverExpires(t *testing.T) {
	w, _ := newTestWaitingRoom(0)
	w.HandleJoinRequest(signaling.JoinRequest{ParticipantID: "guest"})

	assert.Empty(t, w.Expire(context.Background(), time.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, w.Len())
}

func newTestAdmission(reannounce time.Duration) (*AdmissionRequest, *fakeChannel) {
	lobby := newFakeChannel("meeting:m1:lobby")
	identity := domain.Identity{UserID: "guest", Name: "Guest", Email: "guest@example.com"}
	return NewAdmissionRequest(lobby, identity, "host", time.Now(), reannounce, testLogger()), lobby
}

func waitAsync(ctx context.Context, req *AdmissionRequest) <-chan error {
	result := make(chan error, 1)
	go func() { result <- req.Wait(ctx) }()
	return result
}

func awaitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
		return nil
	}
}

func TestAdmissionRequest_AdmittedIgnoresOtherParticipants(t *testing.T) {
	req, lobby := newTestAdmission(0)
	result := waitAsync(context.Background(), req)

	lobby.inbound <- signaling.Received{Sender: "host", Message: signaling.Admitted{ParticipantID: "someone-else"}}
	lobby.inbound <- signaling.Received{Sender: "host", Message: signaling.Denied{ParticipantID: "someone-else"}}
	lobby.inbound <- signaling.Received{Sender: "host", Message: signaling.Admitted{ParticipantID: "guest"}}

	require.NoError(t, awaitResult(t, result))

	requests := lobby.ofKind(signaling.KindJoinRequest)
	require.NotEmpty(t, requests)
	sent := requests[0].(signaling.JoinRequest)
	assert.Equal(t, domain.ParticipantID("guest"), sent.ParticipantID)
	assert.Equal(t, "guest@example.com", sent.Email)
}

func TestAdmissionRequest_Denied(t *testing.T) {
	req, lobby := newTestAdmission(0)
	result := waitAsync(context.Background(), req)

	lobby.inbound <- signaling.Received{Sender: "host", Message: signaling.Denied{ParticipantID: "guest", Reason: "expired"}}

	err := awaitResult(t, result)
	assert.ErrorIs(t, err, domain.ErrAdmissionDenied)
	assert.Contains(t, err.Error(), "expired")
}

func TestAdmissionRequest_CancelPublishesJoinCancel(t *testing.T) {
	req, lobby := newTestAdmission(0)
	result := waitAsync(context.Background(), req)

	require.Eventually(t, func() bool {
		return len(lobby.ofKind(signaling.KindJoinRequest)) == 1
	}, time.Second, 5*time.Millisecond)
	req.Cancel()
	req.Cancel()

	assert.ErrorIs(t, awaitResult(t, result), domain.ErrAdmissionCancelled)
	assert.Equal(t, []signaling.Message{signaling.JoinCancel{ParticipantID: "guest"}}, lobby.ofKind(signaling.KindJoinCancel))
}

func TestAdmissionRequest_ReannouncesUntilDecided(t *testing.T) {
	req, lobby := newTestAdmission(10 * time.Millisecond)
	result := waitAsync(context.Background(), req)

	require.Eventually(t, func() bool {
		return len(lobby.ofKind(signaling.KindJoinRequest)) >= 3
	}, time.Second, 5*time.Millisecond)

	lobby.inbound <- signaling.Received{Sender: "host", Message: signaling.Admitted{ParticipantID: "guest"}}
	require.NoError(t, awaitResult(t, result))
}

func TestAdmissionRequest_OnlyHostDecides(t *testing.T) {
	req, lobby := newTestAdmission(0)
	result := waitAsync(context.Background(), req)

	lobby.inbound <- signaling.Received{Sender: "mallory", Message: signaling.Admitted{ParticipantID: "guest"}}
	lobby.inbound <- signaling.Received{Sender: "mallory", Message: signaling.Denied{ParticipantID: "guest"}}
	lobby.inbound <- signaling.Received{Message: signaling.Admitted{ParticipantID: "guest"}}

	select {
	case err := <-result:
		t.Fatalf("Wait returned on a decision from a non-host: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	lobby.inbound <- signaling.Received{Sender: "host", Message: signaling.Denied{ParticipantID: "guest"}}
	assert.ErrorIs(t, awaitResult(t, result), domain.ErrAdmissionDenied)
}

func TestAdmissionRequest_Timeout(t *testing.T) {
	req, lobby := newTestAdmission(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, req.Wait(ctx), domain.ErrAdmissionTimeout)
	assert.Len(t, lobby.ofKind(signaling.KindJoinCancel), 1)
}

func TestAdmissionRequest_PublishFailure(t *testing.T) {
	req, lobby := newTestAdmission(0)
	lobby.err = errBoom

	assert.ErrorIs(t, req.Wait(context.Background()), domain.ErrSignalingDelivery)
}
