package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/signaling"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// eventLog records side effects across fakes in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// index returns the position of the first event equal to name, or -1.
func (l *eventLog) index(name string) int {
	for i, e := range l.list() {
		if e == name {
			return i
		}
	}
	return -1
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
	log  *eventLog

	mu        sync.Mutex
	enabled   bool
	stopped   bool
	keyFrames int
}

func newFakeTrack(id string, kind webrtc.RTPCodecType, log *eventLog) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, log: log, enabled: true}
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *fakeTrack) Local() webrtc.TrackLocal  { return nil }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.log.add("track.stop:%s", t.id)
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTrack) Subscribe() (<-chan media.Sample, func()) {
	return make(chan media.Sample), func() {}
}

func (t *fakeTrack) RequestKeyFrame() {
	t.mu.Lock()
	t.keyFrames++
	t.mu.Unlock()
}

func (t *fakeTrack) keyFrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyFrames
}

type fakeSurface struct {
	video *fakeTrack
	audio *fakeTrack
	log   *eventLog

	mu      sync.Mutex
	onEnded func()
	stopped bool
}

func (s *fakeSurface) Video() ports.MediaTrack { return s.video }

func (s *fakeSurface) Audio() ports.MediaTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *fakeSurface) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

func (s *fakeSurface) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.video.Stop()
	s.log.add("surface.stop:%s", s.video.id)
}

// end simulates the user ending capture from outside the app.
func (s *fakeSurface) end() {
	s.mu.Lock()
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *fakeSurface) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeDevices struct {
	log          *eventLog
	userErr      error
	displayErr   error
	surfaceAudio bool

	mu       sync.Mutex
	streams  []*ports.LocalStream
	surfaces []*fakeSurface
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, constraints ports.MediaConstraints) (*ports.LocalStream, error) {
	if d.userErr != nil {
		return nil, d.userErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.streams)
	stream := &ports.LocalStream{}
	if constraints.Audio {
		stream.Audio = newFakeTrack(fmt.Sprintf("mic-%d", n), webrtc.RTPCodecTypeAudio, d.log)
	}
	if constraints.Video {
		stream.Video = newFakeTrack(fmt.Sprintf("camera-%d", n), webrtc.RTPCodecTypeVideo, d.log)
	}
	d.streams = append(d.streams, stream)
	return stream, nil
}

func (d *fakeDevices) GetDisplayMedia(ctx context.Context) (ports.CaptureSurface, error) {
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.surfaces)
	surface := &fakeSurface{
		video: newFakeTrack(fmt.Sprintf("screen-%d", n), webrtc.RTPCodecTypeVideo, d.log),
		log:   d.log,
	}
	if d.surfaceAudio {
		surface.audio = newFakeTrack(fmt.Sprintf("screen-audio-%d", n), webrtc.RTPCodecTypeAudio, d.log)
	}
	d.surfaces = append(d.surfaces, surface)
	return surface, nil
}

func (d *fakeDevices) lastSurface() *fakeSurface {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.surfaces) == 0 {
		return nil
	}
	return d.surfaces[len(d.surfaces)-1]
}

func (d *fakeDevices) surfaceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.surfaces)
}

type fakeSender struct {
	mu    sync.Mutex
	track ports.MediaTrack
	err   error
}

func (s *fakeSender) ReplaceTrack(track ports.MediaTrack) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) Track() ports.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakePeerConnection struct {
	owner  domain.ParticipantID
	remote domain.ParticipantID
	log    *eventLog

	setRemoteErr error
	offerErr     error

	mu         sync.Mutex
	senders    map[webrtc.RTPCodecType]*fakeSender
	local      *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
	closed     bool
}

func (c *fakePeerConnection) AddTrack(track ports.MediaTrack) (ports.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender := &fakeSender{track: track}
	c.senders[track.Kind()] = sender
	return sender, nil
}

func (c *fakePeerConnection) ReserveVideo() (ports.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender := &fakeSender{}
	c.senders[webrtc.RTPCodecTypeVideo] = sender
	return sender, nil
}

func (c *fakePeerConnection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s->%s", c.owner, c.remote)}
	c.mu.Lock()
	c.local = &desc
	c.mu.Unlock()
	return desc, nil
}

func (c *fakePeerConnection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s->%s", c.owner, c.remote)}
	c.mu.Lock()
	c.local = &desc
	c.mu.Unlock()
	return desc, nil
}

func (c *fakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if c.setRemoteErr != nil {
		return c.setRemoteErr
	}
	c.mu.Lock()
	c.remoteDesc = &desc
	c.mu.Unlock()
	return nil
}

func (c *fakePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakePeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakePeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakePeerConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.log.add("link.close:%s", c.remote)
	return nil
}

func (c *fakePeerConnection) emitCandidate(candidate string) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: candidate})
}

func (c *fakePeerConnection) setState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	fn(state)
}

func (c *fakePeerConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakePeerConnection) remoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDesc
}

func (c *fakePeerConnection) appliedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *fakePeerConnection) sender(kind webrtc.RTPCodecType) *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[kind]
}

type fakePeerFactory struct {
	owner domain.ParticipantID
	log   *eventLog
	err   error

	// applied to connections created after they are set
	setRemoteErr error

	mu    sync.Mutex
	conns []*fakePeerConnection
}

func (f *fakePeerFactory) NewPeerConnection(remote domain.ParticipantID) (ports.PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakePeerConnection{
		owner:        f.owner,
		remote:       remote,
		log:          f.log,
		setRemoteErr: f.setRemoteErr,
		senders:      make(map[webrtc.RTPCodecType]*fakeSender),
	}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakePeerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// latest returns the most recent connection to remote.
func (f *fakePeerFactory) latest(remote domain.ParticipantID) *fakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.conns) - 1; i >= 0; i-- {
		if f.conns[i].remote == remote {
			return f.conns[i]
		}
	}
	return nil
}

func (f *fakePeerFactory) all() []*fakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeerConnection(nil), f.conns...)
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []signaling.Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg signaling.Message) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) messages() []signaling.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]signaling.Message(nil), p.msgs...)
}

func (p *recordingPublisher) ofKind(kind signaling.Kind) []signaling.Message {
	var out []signaling.Message
	for _, m := range p.messages() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// fakeChannel is a Channel whose inbound side is fed by the test.
type fakeChannel struct {
	recordingPublisher
	topic   string
	inbound chan signaling.Received
}

func newFakeChannel(topic string) *fakeChannel {
	return &fakeChannel{topic: topic, inbound: make(chan signaling.Received, 16)}
}

func (c *fakeChannel) Topic() string                      { return c.topic }
func (c *fakeChannel) Inbound() <-chan signaling.Received { return c.inbound }
func (c *fakeChannel) Untrack(ctx context.Context) error  { return nil }
func (c *fakeChannel) Close() error                       { return nil }

func (c *fakeChannel) Track(ctx context.Context, state domain.Participant) error {
	return nil
}

func (c *fakeChannel) Presence(ctx context.Context) ([]domain.Participant, error) {
	return nil, nil
}

type fakeEncoder struct {
	log    *eventLog
	chunks chan []byte
	tail   []byte
	err    error
	once   sync.Once
}

func (e *fakeEncoder) Chunks() <-chan []byte { return e.chunks }
func (e *fakeEncoder) ContentType() string   { return "video/webm" }

func (e *fakeEncoder) Stop() ([]byte, error) {
	e.once.Do(func() { close(e.chunks) })
	e.log.add("encoder.stop")
	return e.tail, e.err
}

type fakeEncoderFactory struct {
	log *eventLog
	err error

	mu       sync.Mutex
	encoders []*fakeEncoder
	audio    [][]ports.MediaTrack
}

func (f *fakeEncoderFactory) NewEncoder(video ports.MediaTrack, audio []ports.MediaTrack) (ports.MediaEncoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := &fakeEncoder{log: f.log, chunks: make(chan []byte, 16), tail: []byte("|tail")}
	f.encoders = append(f.encoders, enc)
	f.audio = append(f.audio, audio)
	return enc, nil
}

func (f *fakeEncoderFactory) last() *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoders[len(f.encoders)-1]
}

type fakeStorage struct {
	log      *eventLog
	failures int

	mu       sync.Mutex
	attempts int
	objects  map[string][]byte
}

func (s *fakeStorage) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return "", errBoom
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", err
	}
	if int64(buf.Len()) != size {
		return "", fmt.Errorf("size mismatch: %d != %d", buf.Len(), size)
	}
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = buf.Bytes()
	s.log.add("storage.upload")
	return "https://storage.test/" + key, nil
}

func (s *fakeStorage) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeMeetings struct {
	mu       sync.Mutex
	meetings map[domain.MeetingID]*domain.Meeting
}

func newFakeMeetings(meetings ...*domain.Meeting) *fakeMeetings {
	f := &fakeMeetings{meetings: make(map[domain.MeetingID]*domain.Meeting)}
	for _, m := range meetings {
		f.meetings[m.ID] = m
	}
	return f
}

func (f *fakeMeetings) Create(ctx context.Context, meeting *domain.Meeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings[meeting.ID] = meeting
	return nil
}

func (f *fakeMeetings) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return nil, domain.ErrMeetingNotFound
	}
	clone := *m
	return &clone, nil
}

func (f *fakeMeetings) GetByLink(ctx context.Context, link string) (*domain.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.meetings {
		if m.Link == link {
			clone := *m
			return &clone, nil
		}
	}
	return nil, domain.ErrMeetingNotFound
}

func (f *fakeMeetings) SetRecording(ctx context.Context, id domain.MeetingID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return domain.ErrMeetingNotFound
	}
	m.IsRecorded = true
	m.RecordingURL = url
	return nil
}

func (f *fakeMeetings) recordingURL(id domain.MeetingID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meetings[id].RecordingURL
}
