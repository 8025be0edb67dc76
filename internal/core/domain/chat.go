package domain

import "time"

type ChatMessage struct {
	ID         string        `json:"id"`
	SenderID   ParticipantID `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Body       string        `json:"body"`
	SentAt     time.Time     `json:"sent_at"`
}
