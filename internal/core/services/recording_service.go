package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/pkg/retry"
	"meetroom/pkg/tracing"

	"go.uber.org/zap"
)

// RecordingPipeline records a display surface plus mixed audio into a
// single artifact and uploads it when the recording stops. It never
// touches peer links.
type RecordingPipeline struct {
	meetingID domain.MeetingID
	userID    domain.UserID
	devices   ports.MediaDevices
	encoders  ports.MediaEncoderFactory
	storage   ports.ObjectStorage
	meetings  ports.MeetingRepository
	retry     retry.Config
	metrics   ports.RoomMetrics
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu      sync.Mutex
	session *recordingSession
	pending *domain.RecordingArtifact
	lastURL string
}

type recordingSession struct {
	startedAt time.Time
	surface   ports.CaptureSurface
	encoder   ports.MediaEncoder
	done      chan struct{}

	mu     sync.Mutex
	chunks []domain.RecordingChunk
}

type RecordingPipelineDeps struct {
	Devices  ports.MediaDevices
	Encoders ports.MediaEncoderFactory
	Storage  ports.ObjectStorage
	Meetings ports.MeetingRepository
	Retry    retry.Config
	Metrics  ports.RoomMetrics
}

func NewRecordingPipeline(
	meetingID domain.MeetingID,
	userID domain.UserID,
	deps RecordingPipelineDeps,
	logger *zap.SugaredLogger,
) *RecordingPipeline {
	return &RecordingPipeline{
		meetingID: meetingID,
		userID:    userID,
		devices:   deps.Devices,
		encoders:  deps.Encoders,
		storage:   deps.Storage,
		meetings:  deps.Meetings,
		retry:     deps.Retry,
		metrics:   metricsOrNop(deps.Metrics),
		logger:    logger,
		now:       time.Now,
	}
}

// Start captures a display surface and begins encoding it together with
// the microphone and any surface audio. If the surface cannot be acquired
// nothing else is started.
func (p *RecordingPipeline) Start(ctx context.Context, mic ports.MediaTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		return domain.ErrRecordingActive
	}

	surface, err := p.devices.GetDisplayMedia(ctx)
	if err != nil {
		return asMediaAccessError("display", err)
	}

	var audio []ports.MediaTrack
	if mic != nil {
		audio = append(audio, mic)
	}
	if surface.Audio() != nil {
		audio = append(audio, surface.Audio())
	}

	encoder, err := p.encoders.NewEncoder(surface.Video(), audio)
	if err != nil {
		surface.Stop()
		return fmt.Errorf("failed to start recording encoder: %w", err)
	}

	session := &recordingSession{
		startedAt: p.now(),
		surface:   surface,
		encoder:   encoder,
		done:      make(chan struct{}),
	}
	go session.collect()

	surface.OnEnded(func() {
		p.logger.Infow("recording surface ended", "meeting_id", p.meetingID)
		go func() {
			if _, err := p.Stop(context.Background()); err != nil {
				p.logger.Warnw("failed to finish recording after surface ended", "error", err)
			}
		}()
	})

	p.session = session
	p.metrics.RecordingStarted()
	p.logger.Infow("recording started",
		"meeting_id", p.meetingID,
		"audio_tracks", len(audio),
	)
	return nil
}

func (s *recordingSession) collect() {
	defer close(s.done)
	seq := 0
	for data := range s.encoder.Chunks() {
		if len(data) == 0 {
			continue
		}
		s.mu.Lock()
		s.chunks = append(s.chunks, domain.RecordingChunk{Seq: seq, Timestamp: time.Now(), Data: data})
		s.mu.Unlock()
		seq++
	}
}

// Stop finishes the recording, uploads the artifact and records its URL
// on the meeting. Stopping when nothing is recording is a no-op. On
// upload failure the returned *RecordingUploadError carries the artifact
// and RetryUpload can try again. An encoder that fails to finish is
// reported the same way, with the chunks collected so far as the artifact.
func (p *RecordingPipeline) Stop(ctx context.Context) (string, error) {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()

	if session == nil {
		return "", nil
	}

	tail, encErr := session.encoder.Stop()
	<-session.done
	session.surface.Stop()

	artifact := session.artifact(p, tail)
	p.mu.Lock()
	p.pending = artifact
	p.mu.Unlock()

	if encErr != nil {
		// what was collected stays pending so RetryUpload can still save it
		p.metrics.RecordingUploadFailed()
		p.logger.Warnw("recording encoder did not finish cleanly",
			"meeting_id", p.meetingID,
			"key", artifact.Key,
			"bytes", artifact.Size(),
			"error", encErr,
		)
		return "", &domain.RecordingUploadError{
			Artifact: artifact,
			Err:      fmt.Errorf("failed to finalize recording: %w", encErr),
		}
	}

	p.logger.Infow("recording stopped",
		"meeting_id", p.meetingID,
		"key", artifact.Key,
		"duration", artifact.Duration,
		"bytes", artifact.Size(),
	)
	return p.upload(ctx, artifact)
}

func (s *recordingSession) artifact(p *RecordingPipeline, tail []byte) *domain.RecordingArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	for _, chunk := range s.chunks {
		buf.Write(chunk.Data)
	}
	buf.Write(tail)

	return &domain.RecordingArtifact{
		Key:         domain.RecordingKey(p.userID, p.meetingID, s.startedAt),
		MeetingID:   p.meetingID,
		UserID:      p.userID,
		StartedAt:   s.startedAt,
		Duration:    p.now().Sub(s.startedAt),
		ContentType: s.encoder.ContentType(),
		Data:        buf.Bytes(),
	}
}

// RetryUpload re-attempts the upload of the last failed artifact.
func (p *RecordingPipeline) RetryUpload(ctx context.Context) (string, error) {
	p.mu.Lock()
	artifact := p.pending
	p.mu.Unlock()

	if artifact == nil {
		return "", domain.ErrNotRecording
	}
	return p.upload(ctx, artifact)
}

func (p *RecordingPipeline) upload(ctx context.Context, artifact *domain.RecordingArtifact) (string, error) {
	ctx, span := tracing.TraceRecordingUpload(ctx, artifact.Key, artifact.Size())
	defer span.End()

	url, err := retry.RetryWithResult(ctx, p.retry, func() (string, error) {
		return p.storage.Upload(ctx, artifact.Key, bytes.NewReader(artifact.Data), artifact.Size(), artifact.ContentType)
	})
	if err == nil {
		err = p.meetings.SetRecording(ctx, artifact.MeetingID, url)
	}
	if err != nil {
		p.metrics.RecordingUploadFailed()
		tracing.RecordError(ctx, err)
		p.logger.Warnw("recording upload failed",
			"meeting_id", p.meetingID,
			"key", artifact.Key,
			"error", err,
		)
		return "", &domain.RecordingUploadError{Artifact: artifact, Err: err}
	}

	p.mu.Lock()
	if p.pending == artifact {
		p.pending = nil
	}
	p.lastURL = url
	p.mu.Unlock()

	p.metrics.RecordingCompleted(artifact.Duration, artifact.Size())
	p.logger.Infow("recording uploaded",
		"meeting_id", p.meetingID,
		"key", artifact.Key,
		"url", url,
	)
	return url, nil
}

func (p *RecordingPipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil
}

// Pending returns the artifact awaiting a successful upload, if any.
func (p *RecordingPipeline) Pending() *domain.RecordingArtifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Status reports the recording control state. Duration counts whole
// seconds since start and is zero when not recording.
func (p *RecordingPipeline) Status() domain.RecordingStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := domain.RecordingStatus{
		PendingUpload: p.pending != nil,
		LastURL:       p.lastURL,
	}
	if p.session != nil {
		status.Active = true
		status.StartedAt = p.session.startedAt
		status.Duration = p.now().Sub(p.session.startedAt).Truncate(time.Second)
	}
	return status
}

// IsUploadFailure reports whether err left an artifact awaiting retry.
func IsUploadFailure(err error) bool {
	var uploadErr *domain.RecordingUploadError
	return errors.As(err, &uploadErr)
}
