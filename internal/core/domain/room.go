package domain

import "time"

type MeetingID string
type UserID string
type ParticipantID string

// RoomState is the lifecycle state of a local participant's room session.
type RoomState string

const (
	StatePreJoin    RoomState = "prejoin"
	StateWaiting    RoomState = "waiting"
	StateConnecting RoomState = "connecting"
	StateInCall     RoomState = "in_call"
	StateLeft       RoomState = "left"
)

// Identity is the authenticated user driving a room session.
type Identity struct {
	UserID    UserID
	Name      string
	Email     string
	AvatarURL string
}

// ParticipantID returns the id this identity uses inside a room.
func (i Identity) ParticipantID() ParticipantID {
	return ParticipantID(i.UserID)
}

type LeaveReason string

const (
	LeaveReasonUser      LeaveReason = "user"
	LeaveReasonDenied    LeaveReason = "denied"
	LeaveReasonCancelled LeaveReason = "cancelled"
	LeaveReasonShutdown  LeaveReason = "shutdown"
)

// RecordingStatus is what the UI shell shows for the recording control.
type RecordingStatus struct {
	Active        bool          `json:"active"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Duration      time.Duration `json:"duration"`
	PendingUpload bool          `json:"pending_upload"`
	LastURL       string        `json:"last_url,omitempty"`
}
