package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetroom/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// writeIVF writes a minimal VP8 IVF file with the given frames at 20fps.
func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 320)
	binary.LittleEndian.PutUint16(header[14:16], 240)
	binary.LittleEndian.PutUint32(header[16:20], 20)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	data := header
	for i, frame := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		data = append(data, fh...)
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "source.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDevices_UserMedia(t *testing.T) {
	devices := NewDevices(DeviceConfig{CameraFile: writeIVF(t, []byte{0x10, 0x02})}, zap.NewNop().Sugar())

	stream, err := devices.GetUserMedia(context.Background(), ports.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer func() {
		for _, track := range stream.Tracks() {
			track.Stop()
		}
	}()

	require.NotNil(t, stream.Audio)
	require.NotNil(t, stream.Video)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, stream.Audio.Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, stream.Video.Kind())

	samples, unsubscribe := stream.Audio.Subscribe()
	defer unsubscribe()
	select {
	case sample := <-samples:
		assert.Len(t, sample.Data, 160)
		assert.Equal(t, 20*time.Millisecond, sample.Duration)
	case <-time.After(time.Second):
		t.Fatal("no audio frame")
	}
}

func TestDevices_UserMediaWithoutCamera(t *testing.T) {
	devices := NewDevices(DeviceConfig{}, zap.NewNop().Sugar())

	_, err := devices.GetUserMedia(context.Background(), ports.MediaConstraints{Audio: true, Video: true})
	assert.ErrorIs(t, err, ErrNoCamera)

	stream, err := devices.GetUserMedia(context.Background(), ports.MediaConstraints{Audio: true})
	require.NoError(t, err)
	assert.Nil(t, stream.Video)
	stream.Audio.Stop()
}

func TestDevices_DisplayEndsAtEOF(t *testing.T) {
	path := writeIVF(t, []byte{0x10, 1}, []byte{0x11, 2}, []byte{0x11, 3})
	devices := NewDevices(DeviceConfig{ScreenFile: path}, zap.NewNop().Sugar())

	surface, err := devices.GetDisplayMedia(context.Background())
	require.NoError(t, err)
	assert.Nil(t, surface.Audio())

	ended := make(chan struct{})
	surface.OnEnded(func() { close(ended) })
	samples, unsubscribe := surface.Video().Subscribe()
	defer unsubscribe()

	var frames [][]byte
	for sample := range samples {
		frames = append(frames, sample.Data)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not end")
	}
	assert.Equal(t, [][]byte{{0x10, 1}, {0x11, 2}, {0x11, 3}}, frames)
	assert.True(t, surface.Video().Stopped())
}

func TestDevices_DisplayStopDoesNotFireEnded(t *testing.T) {
	path := writeIVF(t, []byte{0x10, 1})
	devices := NewDevices(DeviceConfig{ScreenFile: path, ScreenLoop: true}, zap.NewNop().Sugar())

	surface, err := devices.GetDisplayMedia(context.Background())
	require.NoError(t, err)
	fired := make(chan struct{}, 1)
	surface.OnEnded(func() { fired <- struct{}{} })

	surface.Stop()

	assert.True(t, surface.Video().Stopped())
	select {
	case <-fired:
		t.Fatal("ended fired on local stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDevices_DisplayRequiresSource(t *testing.T) {
	devices := NewDevices(DeviceConfig{}, zap.NewNop().Sugar())
	_, err := devices.GetDisplayMedia(context.Background())
	assert.ErrorIs(t, err, ErrNoDisplaySource)

	bad := filepath.Join(t.TempDir(), "bad.ivf")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	devices = NewDevices(DeviceConfig{ScreenFile: bad}, zap.NewNop().Sugar())
	_, err = devices.GetDisplayMedia(context.Background())
	assert.Error(t, err)
}
