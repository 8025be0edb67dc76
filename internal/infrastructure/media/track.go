package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

var ErrTrackStopped = errors.New("track stopped")

const subscriberBuffer = 64

// Track is a local media track backed by a static-sample pion track. A
// disabled track keeps running but forwards nothing, which is how mute and
// camera-off are expressed.
type Track struct {
	id    string
	kind  webrtc.RTPCodecType
	local *webrtc.TrackLocalStaticSample

	keyFrames chan struct{}
	done      chan struct{}

	mu      sync.RWMutex
	enabled bool
	stopped bool
	subs    map[int]chan media.Sample
	nextSub int
}

func NewTrack(id, streamID string, codec webrtc.RTPCodecCapability) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}

	kind := webrtc.RTPCodecTypeVideo
	if len(codec.MimeType) > 5 && codec.MimeType[:5] == "audio" {
		kind = webrtc.RTPCodecTypeAudio
	}

	return &Track{
		id:        id,
		kind:      kind,
		local:     local,
		keyFrames: make(chan struct{}, 1),
		done:      make(chan struct{}),
		enabled:   true,
		subs:      make(map[int]chan media.Sample),
	}, nil
}

func (t *Track) ID() string                { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Local() webrtc.TrackLocal  { return t.local }

func (t *Track) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
	if enabled && t.kind == webrtc.RTPCodecTypeVideo {
		t.RequestKeyFrame()
	}
}

// Stop ends the track and closes every subscription.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.done)
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

func (t *Track) Stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stopped
}

// Done is closed when the track stops.
func (t *Track) Done() <-chan struct{} {
	return t.done
}

// Subscribe taps the samples written to the track. Slow subscribers lose
// samples instead of stalling the source.
func (t *Track) Subscribe() (<-chan media.Sample, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan media.Sample, subscriberBuffer)
	if t.stopped {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				close(sub)
				delete(t.subs, id)
			}
		})
	}
}

func (t *Track) RequestKeyFrame() {
	select {
	case t.keyFrames <- struct{}{}:
	default:
	}
}

// KeyFrameRequests signals the source to emit a key frame as soon as it can.
func (t *Track) KeyFrameRequests() <-chan struct{} {
	return t.keyFrames
}

// WriteSample forwards one encoded sample to peers and subscribers.
func (t *Track) WriteSample(sample media.Sample) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.stopped {
		return ErrTrackStopped
	}
	if !t.enabled {
		return nil
	}
	for _, ch := range t.subs {
		select {
		case ch <- sample:
		default:
		}
	}
	return t.local.WriteSample(sample)
}
