package signaling

import (
	"encoding/json"
	"fmt"

	"meetroom/internal/core/domain"
)

// Envelope is the wire form of a message.
type Envelope struct {
	Kind    Kind                 `json:"kind"`
	Sender  domain.ParticipantID `json:"sender,omitempty"`
	Payload json.RawMessage      `json:"payload"`
}

func Encode(sender domain.ParticipantID, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil message")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(Envelope{
		Kind:    msg.Kind(),
		Sender:  sender,
		Payload: payload,
	})
}

func Decode(data []byte) (Received, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Received{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Kind == "" {
		return Received{}, fmt.Errorf("message kind is required")
	}

	msg, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return Received{}, err
	}
	return Received{Sender: env.Sender, Message: msg}, nil
}

func decodePayload(kind Kind, payload json.RawMessage) (Message, error) {
	switch kind {
	case KindJoinRequest:
		return unmarshalAs[JoinRequest](kind, payload)
	case KindJoinCancel:
		return unmarshalAs[JoinCancel](kind, payload)
	case KindAdmitted:
		return unmarshalAs[Admitted](kind, payload)
	case KindDenied:
		return unmarshalAs[Denied](kind, payload)
	case KindPresenceSync:
		return unmarshalAs[PresenceSync](kind, payload)
	case KindPresenceJoin:
		return unmarshalAs[PresenceJoin](kind, payload)
	case KindPresenceLeave:
		return unmarshalAs[PresenceLeave](kind, payload)
	case KindOffer:
		return unmarshalAs[Offer](kind, payload)
	case KindAnswer:
		return unmarshalAs[Answer](kind, payload)
	case KindICECandidate:
		return unmarshalAs[ICECandidate](kind, payload)
	case KindChat:
		return unmarshalAs[Chat](kind, payload)
	default:
		return nil, fmt.Errorf("unknown message kind: %s", kind)
	}
}

func unmarshalAs[T Message](kind Kind, payload json.RawMessage) (Message, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
	}
	return msg, nil
}
