package domain

import (
	"fmt"
	"time"
)

// RecordingChunk is one timeslice of encoded recording output.
type RecordingChunk struct {
	Seq       int
	Timestamp time.Time
	Data      []byte
}

// RecordingArtifact is the immutable result of one recording session.
type RecordingArtifact struct {
	Key         string
	MeetingID   MeetingID
	UserID      UserID
	StartedAt   time.Time
	Duration    time.Duration
	ContentType string
	Data        []byte
}

func (a *RecordingArtifact) Size() int64 {
	return int64(len(a.Data))
}

// RecordingKey builds the storage key for a recording started at startedAt.
func RecordingKey(userID UserID, meetingID MeetingID, startedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%d.webm", userID, meetingID, startedAt.UnixMilli())
}
