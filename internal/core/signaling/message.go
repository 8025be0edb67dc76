// Package signaling defines the messages exchanged on a meeting's pub/sub
// topics. Every kind is a concrete type; receivers switch on the type
// rather than inspecting an untyped payload.
package signaling

import (
	"time"

	"meetroom/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type Kind string

const (
	KindJoinRequest   Kind = "join-request"
	KindJoinCancel    Kind = "join-cancel"
	KindAdmitted      Kind = "admitted"
	KindDenied        Kind = "denied"
	KindPresenceSync  Kind = "presence-sync"
	KindPresenceJoin  Kind = "presence-join"
	KindPresenceLeave Kind = "presence-leave"
	KindOffer         Kind = "offer"
	KindAnswer        Kind = "answer"
	KindICECandidate  Kind = "ice-candidate"
	KindChat          Kind = "chat"
)

// Message is implemented by every signaling message variant.
type Message interface {
	Kind() Kind
}

// Targeted messages are addressed to exactly one participant.
type Targeted interface {
	Message
	TargetID() domain.ParticipantID
}

// Received is a message as delivered by a channel, tagged with the
// participant that published it. Presence events carry an empty sender.
type Received struct {
	Sender  domain.ParticipantID
	Message Message
}

// IsFor reports whether msg should be processed by self. Broadcast
// messages are for everyone.
func IsFor(msg Message, self domain.ParticipantID) bool {
	t, ok := msg.(Targeted)
	if !ok {
		return true
	}
	return t.TargetID() == self
}

type JoinRequest struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Name          string               `json:"name"`
	Email         string               `json:"email,omitempty"`
	AvatarURL     string               `json:"avatar,omitempty"`
	JoinedAt      time.Time            `json:"joinedAt"`
}

func (JoinRequest) Kind() Kind { return KindJoinRequest }

type JoinCancel struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

func (JoinCancel) Kind() Kind { return KindJoinCancel }

type Admitted struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

func (Admitted) Kind() Kind                       { return KindAdmitted }
func (m Admitted) TargetID() domain.ParticipantID { return m.ParticipantID }

type Denied struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Reason        string               `json:"reason,omitempty"`
}

func (Denied) Kind() Kind                       { return KindDenied }
func (m Denied) TargetID() domain.ParticipantID { return m.ParticipantID }

// PresenceSync carries the full roster of a topic.
type PresenceSync struct {
	Roster []domain.Participant `json:"roster"`
}

func (PresenceSync) Kind() Kind { return KindPresenceSync }

// PresenceJoin carries participants that started tracking or re-announced
// their state.
type PresenceJoin struct {
	Participants []domain.Participant `json:"participants"`
}

func (PresenceJoin) Kind() Kind { return KindPresenceJoin }

type PresenceLeave struct {
	Participants []domain.Participant `json:"participants"`
}

func (PresenceLeave) Kind() Kind { return KindPresenceLeave }

type Offer struct {
	From   domain.ParticipantID      `json:"from"`
	Target domain.ParticipantID      `json:"target"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

func (Offer) Kind() Kind                       { return KindOffer }
func (m Offer) TargetID() domain.ParticipantID { return m.Target }

type Answer struct {
	From   domain.ParticipantID      `json:"from"`
	Target domain.ParticipantID      `json:"target"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

func (Answer) Kind() Kind                       { return KindAnswer }
func (m Answer) TargetID() domain.ParticipantID { return m.Target }

type ICECandidate struct {
	From      domain.ParticipantID    `json:"from"`
	Target    domain.ParticipantID    `json:"target"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (ICECandidate) Kind() Kind                       { return KindICECandidate }
func (m ICECandidate) TargetID() domain.ParticipantID { return m.Target }

type Chat struct {
	domain.ChatMessage
}

func (Chat) Kind() Kind { return KindChat }

// IsPresence reports whether k is a presence event. Presence events
// describe shared state and are delivered to every subscriber, the
// announcing participant included.
func (k Kind) IsPresence() bool {
	return k == KindPresenceSync || k == KindPresenceJoin || k == KindPresenceLeave
}
