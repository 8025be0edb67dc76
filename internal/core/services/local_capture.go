package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"

	"go.uber.org/zap"
)

// LocalCapture exclusively owns the local media stream and any active
// screen share. Other components read its tracks but never start or stop
// them.
type LocalCapture struct {
	devices ports.MediaDevices
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	stream *ports.LocalStream
	screen ports.CaptureSurface
}

func NewLocalCapture(devices ports.MediaDevices, logger *zap.SugaredLogger) *LocalCapture {
	return &LocalCapture{
		devices: devices,
		logger:  logger,
	}
}

// Acquire returns the held stream, requesting user media only the first
// time.
func (c *LocalCapture) Acquire(ctx context.Context, constraints ports.MediaConstraints) (*ports.LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return c.stream, nil
	}

	stream, err := c.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, asMediaAccessError("user-media", err)
	}
	c.stream = stream
	c.logger.Infow("acquired local media",
		"audio", stream.Audio != nil,
		"video", stream.Video != nil,
	)
	return stream, nil
}

func (c *LocalCapture) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

func (c *LocalCapture) Stream() *ports.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *LocalCapture) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil && c.stream.Audio != nil {
		c.stream.Audio.SetEnabled(!muted)
	}
}

func (c *LocalCapture) SetVideoOff(off bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil && c.stream.Video != nil {
		c.stream.Video.SetEnabled(!off)
	}
}

// CameraTrack is the outgoing video when no screen is being shared.
func (c *LocalCapture) CameraTrack() ports.MediaTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	return c.stream.Video
}

// OutgoingTracks are the tracks a new peer link should carry right now:
// the microphone and either the shared screen or the camera.
func (c *LocalCapture) OutgoingTracks() []ports.MediaTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}

	var tracks []ports.MediaTrack
	if c.stream.Audio != nil {
		tracks = append(tracks, c.stream.Audio)
	}
	switch {
	case c.screen != nil && c.screen.Video() != nil:
		tracks = append(tracks, c.screen.Video())
	case c.stream.Video != nil:
		tracks = append(tracks, c.stream.Video)
	}
	return tracks
}

func (c *LocalCapture) MicTrack() ports.MediaTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	return c.stream.Audio
}

func (c *LocalCapture) StartScreenShare(ctx context.Context) (ports.CaptureSurface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screen != nil {
		return c.screen, nil
	}
	surface, err := c.devices.GetDisplayMedia(ctx)
	if err != nil {
		return nil, asMediaAccessError("display", err)
	}
	c.screen = surface
	return surface, nil
}

func (c *LocalCapture) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen != nil
}

// StopScreenShare ends the share and returns whether one was active.
func (c *LocalCapture) StopScreenShare() bool {
	c.mu.Lock()
	screen := c.screen
	c.screen = nil
	c.mu.Unlock()

	if screen == nil {
		return false
	}
	screen.Stop()
	return true
}

// Release stops every held track.
func (c *LocalCapture) Release() {
	c.StopScreenShare()

	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		return
	}
	for _, track := range stream.Tracks() {
		track.Stop()
	}
	c.logger.Infow("released local media")
}

func asMediaAccessError(device string, err error) error {
	var accessErr *domain.MediaAccessError
	if errors.As(err, &accessErr) {
		return err
	}
	return &domain.MediaAccessError{Device: device, Err: fmt.Errorf("capture failed: %w", err)}
}
