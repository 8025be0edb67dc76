package recording

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetroom/internal/core/ports"
	"meetroom/internal/infrastructure/media"

	"github.com/at-wat/ebml-go/webm"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const (
	ContentType = "video/webm"

	audioSampleRate = 8000
	audioFrame      = 20 * time.Millisecond
	// about two seconds of queued audio per source
	maxPendingAudio = audioSampleRate * 2
	closeTimeout    = 5 * time.Second
)

var ErrNoVideo = errors.New("recording needs a video track")

type Config struct {
	// Timeslice is the cadence at which encoded output is cut into chunks.
	Timeslice time.Duration
	Width     int
	Height    int
}

func DefaultConfig() Config {
	return Config{
		Timeslice: time.Second,
		Width:     1280,
		Height:    720,
	}
}

// EncoderFactory builds WebM encoders that mux a VP8 surface with the
// mixed μ-law audio sources as 16-bit PCM.
type EncoderFactory struct {
	cfg    Config
	logger *zap.SugaredLogger
}

func NewEncoderFactory(cfg Config, logger *zap.SugaredLogger) *EncoderFactory {
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = DefaultConfig().Timeslice
	}
	return &EncoderFactory{cfg: cfg, logger: logger}
}

func (f *EncoderFactory) NewEncoder(video ports.MediaTrack, audio []ports.MediaTrack) (ports.MediaEncoder, error) {
	if video == nil {
		return nil, ErrNoVideo
	}

	tracks := []webm.TrackEntry{{
		Name:            "Video",
		TrackNumber:     1,
		TrackUID:        1,
		CodecID:         "V_VP8",
		TrackType:       1,
		DefaultDuration: uint64(time.Second / 30),
		Video: &webm.Video{
			PixelWidth:  uint64(f.cfg.Width),
			PixelHeight: uint64(f.cfg.Height),
		},
	}}
	if len(audio) > 0 {
		tracks = append(tracks, webm.TrackEntry{
			Name:            "Audio",
			TrackNumber:     2,
			TrackUID:        2,
			CodecID:         "A_PCM/INT/LIT",
			TrackType:       2,
			DefaultDuration: uint64(audioFrame),
			Audio: &webm.Audio{
				SamplingFrequency: audioSampleRate,
				Channels:          1,
			},
		})
	}

	out := newChunkBuffer()
	writers, err := webm.NewSimpleBlockWriter(out, tracks)
	if err != nil {
		return nil, fmt.Errorf("failed to create webm writer: %w", err)
	}

	e := &Encoder{
		cfg:     f.cfg,
		out:     out,
		writers: writers,
		mixer:   media.NewMixer(len(audio), maxPendingAudio),
		chunks:  make(chan []byte, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  f.logger,
	}

	videoSamples, unsubscribe := video.Subscribe()
	e.unsubscribe = append(e.unsubscribe, unsubscribe)
	for i, track := range audio {
		samples, unsubscribe := track.Subscribe()
		e.unsubscribe = append(e.unsubscribe, unsubscribe)
		e.feeders.Add(1)
		go e.feed(i, samples)
	}
	video.RequestKeyFrame()

	go e.run(videoSamples, len(audio) > 0)

	f.logger.Infow("recording encoder started",
		"video_track", video.ID(),
		"audio_tracks", len(audio),
		"timeslice", f.cfg.Timeslice,
	)
	return e, nil
}

// Encoder writes one WebM stream and emits it in timesliced chunks.
type Encoder struct {
	cfg         Config
	out         *chunkBuffer
	writers     []webm.BlockWriteCloser
	mixer       *media.Mixer
	chunks      chan []byte
	stop        chan struct{}
	done        chan struct{}
	feeders     sync.WaitGroup
	unsubscribe []func()
	logger      *zap.SugaredLogger

	once    sync.Once
	tail    []byte
	stopErr error
}

func (e *Encoder) Chunks() <-chan []byte { return e.chunks }
func (e *Encoder) ContentType() string   { return ContentType }

func (e *Encoder) feed(source int, samples <-chan pionmedia.Sample) {
	defer e.feeders.Done()
	for {
		select {
		case <-e.stop:
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			e.mixer.Push(source, sample.Data)
		}
	}
}

func (e *Encoder) run(video <-chan pionmedia.Sample, hasAudio bool) {
	defer close(e.done)

	start := time.Now()
	slice := time.NewTicker(e.cfg.Timeslice)
	defer slice.Stop()

	var audioTick <-chan time.Time
	if hasAudio {
		ticker := time.NewTicker(audioFrame)
		defer ticker.Stop()
		audioTick = ticker.C
	}

	keyed := false
	samplesPerFrame := int(audioSampleRate * audioFrame / time.Second)

	for {
		select {
		case <-e.stop:
			return

		case sample, ok := <-video:
			if !ok {
				video = nil
				continue
			}
			key := isKeyFrame(sample.Data)
			if !keyed && !key {
				continue
			}
			keyed = true
			if _, err := e.writers[0].Write(key, time.Since(start).Milliseconds(), sample.Data); err != nil {
				e.logger.Warnw("failed to write video block", "error", err)
			}

		case <-audioTick:
			pcm := e.mixer.Next(samplesPerFrame)
			frame := make([]byte, 2*len(pcm))
			for i, s := range pcm {
				binary.LittleEndian.PutUint16(frame[2*i:], uint16(s))
			}
			if _, err := e.writers[1].Write(true, time.Since(start).Milliseconds(), frame); err != nil {
				e.logger.Warnw("failed to write audio block", "error", err)
			}

		case <-slice.C:
			if chunk := e.out.take(); len(chunk) > 0 {
				e.chunks <- chunk
			}
		}
	}
}

// Stop finishes the stream and returns the bytes written since the last
// chunk. The chunk channel is closed once Stop returns.
func (e *Encoder) Stop() ([]byte, error) {
	e.once.Do(func() {
		close(e.stop)
		<-e.done
		e.feeders.Wait()
		for _, unsubscribe := range e.unsubscribe {
			unsubscribe()
		}

		var errs []error
		for _, w := range e.writers {
			if err := w.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		// the muxer closes its output once every track is closed
		select {
		case <-e.out.closed:
		case <-time.After(closeTimeout):
			errs = append(errs, errors.New("webm writer did not finish"))
		}
		close(e.chunks)
		e.tail = e.out.take()
		e.stopErr = errors.Join(errs...)
		e.logger.Infow("recording encoder stopped", "tail_bytes", len(e.tail))
	})
	return e.tail, e.stopErr
}

// isKeyFrame checks the P bit of a VP8 frame tag.
func isKeyFrame(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

// chunkBuffer collects writer output between slices.
type chunkBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{closed: make(chan struct{})}
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *chunkBuffer) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *chunkBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out
}
