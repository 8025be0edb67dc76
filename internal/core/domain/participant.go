package domain

import "time"

// Participant is the presence state a participant announces about itself.
// Remote copies are mirrored from presence and never edited locally.
type Participant struct {
	ID              ParticipantID `json:"id"`
	Name            string        `json:"name"`
	AvatarURL       string        `json:"avatar_url,omitempty"`
	IsHost          bool          `json:"is_host"`
	IsMuted         bool          `json:"is_muted"`
	IsVideoOff      bool          `json:"is_video_off"`
	IsHandRaised    bool          `json:"is_hand_raised"`
	IsScreenSharing bool          `json:"is_screen_sharing"`
	JoinedAt        time.Time     `json:"joined_at"`
}

type WaitingParticipant struct {
	ID        ParticipantID `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	JoinedAt  time.Time     `json:"joined_at"`
	LastSeen  time.Time     `json:"last_seen"`
}
