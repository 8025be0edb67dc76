package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"meetroom/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"go.uber.org/zap"
)

const (
	audioSampleRate = 8000
	audioFrame      = 20 * time.Millisecond
	toneAmplitude   = 6000
)

var (
	ErrNoCamera        = errors.New("no camera source configured")
	ErrNoDisplaySource = errors.New("no display source configured")
)

// DeviceConfig points the headless capture devices at their sources.
// Camera and screen are VP8 IVF files; the microphone is a generated tone.
type DeviceConfig struct {
	CameraFile string
	ScreenFile string
	// ScreenLoop replays the screen file; otherwise capture ends at EOF.
	ScreenLoop bool
	// ToneHz is the microphone tone frequency. Zero produces silence.
	ToneHz   float64
	StreamID string
}

// Devices implements MediaDevices over file and generated sources.
type Devices struct {
	cfg    DeviceConfig
	logger *zap.SugaredLogger

	mu  sync.Mutex
	seq int
}

func NewDevices(cfg DeviceConfig, logger *zap.SugaredLogger) *Devices {
	if cfg.StreamID == "" {
		cfg.StreamID = "meetroom"
	}
	return &Devices{cfg: cfg, logger: logger}
}

func (d *Devices) next() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}

func (d *Devices) GetUserMedia(ctx context.Context, constraints ports.MediaConstraints) (*ports.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := d.next()
	stream := &ports.LocalStream{}

	if constraints.Video {
		if d.cfg.CameraFile == "" {
			return nil, ErrNoCamera
		}
		if err := probeIVF(d.cfg.CameraFile); err != nil {
			return nil, fmt.Errorf("camera: %w", err)
		}
		video, err := NewTrack(fmt.Sprintf("camera-%d", n), d.cfg.StreamID,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8})
		if err != nil {
			return nil, err
		}
		go d.playIVF(video, d.cfg.CameraFile, true, nil)
		stream.Video = video
	}

	if constraints.Audio {
		audio, err := NewTrack(fmt.Sprintf("mic-%d", n), d.cfg.StreamID,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: audioSampleRate})
		if err != nil {
			if stream.Video != nil {
				stream.Video.Stop()
			}
			return nil, err
		}
		go d.playTone(audio)
		stream.Audio = audio
	}

	d.logger.Infow("opened user media",
		"audio", stream.Audio != nil,
		"video", stream.Video != nil,
	)
	return stream, nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (ports.CaptureSurface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.cfg.ScreenFile == "" {
		return nil, ErrNoDisplaySource
	}
	if err := probeIVF(d.cfg.ScreenFile); err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}

	video, err := NewTrack(fmt.Sprintf("screen-%d", d.next()), d.cfg.StreamID,
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8})
	if err != nil {
		return nil, err
	}
	surface := &Surface{video: video}
	go d.playIVF(video, d.cfg.ScreenFile, d.cfg.ScreenLoop, surface.end)

	d.logger.Infow("opened display media", "track_id", video.ID(), "loop", d.cfg.ScreenLoop)
	return surface, nil
}

// playTone writes 20ms PCMU frames until the track stops.
func (d *Devices) playTone(track *Track) {
	samples := int(audioSampleRate * audioFrame / time.Second)
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * d.cfg.ToneHz / audioSampleRate
	pcm := make([]int16, samples)

	for {
		select {
		case <-track.Done():
			return
		case <-ticker.C:
		}
		for i := range pcm {
			if d.cfg.ToneHz > 0 {
				pcm[i] = int16(toneAmplitude * math.Sin(phase))
				phase += step
			}
		}
		if phase > 2*math.Pi {
			phase = math.Mod(phase, 2*math.Pi)
		}
		if err := track.WriteSample(media.Sample{Data: EncodeMulaw(pcm), Duration: audioFrame}); err != nil {
			return
		}
	}
}

// playIVF paces frames from an IVF file onto track. A key frame request
// restarts a looping file, since only its first frame is known to be a
// key frame.
func (d *Devices) playIVF(track *Track, path string, loop bool, onEOF func()) {
	for {
		restart, err := d.playIVFOnce(track, path, loop)
		if err != nil {
			d.logger.Warnw("video source failed", "track_id", track.ID(), "path", path, "error", err)
		}
		if track.Stopped() {
			return
		}
		if !loop && !restart {
			track.Stop()
			if onEOF != nil {
				onEOF()
			}
			return
		}
	}
}

func (d *Devices) playIVFOnce(track *Track, path string, loop bool) (restart bool, err error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		return false, err
	}
	frameDuration := ivfFrameDuration(header)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-track.Done():
			return false, nil
		case <-track.KeyFrameRequests():
			if loop {
				return true, nil
			}
		case <-ticker.C:
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
				return false, nil
			}
		}
	}
}

func probeIVF(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, header, err := ivfreader.NewWith(file)
	if err != nil {
		return err
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("unsupported codec %q", header.FourCC)
	}
	return nil
}

func ivfFrameDuration(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 || header.TimebaseNumerator == 0 {
		return time.Second / 30
	}
	return time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
}

// Surface is a captured display backed by a video file.
type Surface struct {
	video *Track

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

func (s *Surface) Video() ports.MediaTrack { return s.video }
func (s *Surface) Audio() ports.MediaTrack { return nil }

func (s *Surface) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

func (s *Surface) Stop() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.video.Stop()
}

func (s *Surface) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
