package domain

import "time"

type Meeting struct {
	ID                 MeetingID     `json:"id"`
	Link               string        `json:"link"`
	Title              string        `json:"title"`
	ScheduledAt        time.Time     `json:"scheduled_at"`
	Duration           time.Duration `json:"duration"`
	HostID             UserID        `json:"host_id"`
	WaitingRoomEnabled bool          `json:"waiting_room_enabled"`
	IsRecorded         bool          `json:"is_recorded"`
	RecordingURL       string        `json:"recording_url,omitempty"`
}

func (m *Meeting) IsHost(userID UserID) bool {
	return m.HostID != "" && m.HostID == userID
}

// MainTopic is the pub/sub topic carrying presence, signaling and chat.
func (m *Meeting) MainTopic() string {
	return "meeting:" + string(m.ID)
}

// LobbyTopic carries waiting-room traffic only, so pre-admission joiners
// never see main room messages.
func (m *Meeting) LobbyTopic() string {
	return "meeting:" + string(m.ID) + ":lobby"
}
