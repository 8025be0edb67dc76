package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMeetingNotFound    = errors.New("meeting not found")
	ErrMeetingExists      = errors.New("meeting already exists")
	ErrRoomNotFound       = errors.New("room not found")
	ErrMediaAccess        = errors.New("media access denied or unavailable")
	ErrSignalingDelivery  = errors.New("signaling delivery failed")
	ErrAdmissionDenied    = errors.New("admission denied")
	ErrAdmissionCancelled = errors.New("admission cancelled")
	ErrAdmissionTimeout   = errors.New("admission timed out")
	ErrRecordingUpload    = errors.New("recording upload failed")
	ErrRecordingActive    = errors.New("recording already active")
	ErrNotRecording       = errors.New("no recording to process")
	ErrNotHost            = errors.New("operation requires host")
	ErrInvalidState       = errors.New("invalid room state")
	ErrRoomFull           = errors.New("room is full")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// NegotiationError is a failure scoped to a single peer link.
type NegotiationError struct {
	Peer  ParticipantID
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed at %s: %v", e.Peer, e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// RecordingUploadError keeps the captured artifact so the upload can be retried.
type RecordingUploadError struct {
	Artifact *RecordingArtifact
	Err      error
}

func (e *RecordingUploadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrRecordingUpload, e.Artifact.Key, e.Err)
}

func (e *RecordingUploadError) Unwrap() error {
	return e.Err
}

func (e *RecordingUploadError) Is(target error) bool {
	return target == ErrRecordingUpload
}

// MediaAccessError wraps a capture failure for a specific device.
type MediaAccessError struct {
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrMediaAccess, e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}

func (e *MediaAccessError) Is(target error) bool {
	return target == ErrMediaAccess
}
