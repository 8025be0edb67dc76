package monitoring

import (
	"time"

	"meetroom/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.RoomMetrics.
type PrometheusCollector struct {
	peerLinksActive    prometheus.Gauge
	peerLinksTotal     prometheus.Counter
	negotiationFailure *prometheus.CounterVec
	signalingMessages  *prometheus.CounterVec

	roomsInCall    prometheus.Gauge
	roomStateTotal *prometheus.CounterVec
	waitingSize    *prometheus.GaugeVec

	recordingsStarted  prometheus.Counter
	recordingDuration  prometheus.Histogram
	recordingBytes     prometheus.Histogram
	recordingUploadErr prometheus.Counter
}

// NewPrometheusCollector registers the room metrics on reg. Tests pass a
// fresh registry; the daemon passes prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		peerLinksActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetroom_peer_links_active",
			Help: "Number of open peer links",
		}),

		peerLinksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetroom_peer_links_total",
			Help: "Total number of peer links created",
		}),

		negotiationFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetroom_negotiation_failures_total",
			Help: "Peer negotiation failures by stage",
		}, []string{"stage"}),

		signalingMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetroom_signaling_messages_total",
			Help: "Signaling messages by kind and direction",
		}, []string{"kind", "direction"}),

		roomsInCall: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetroom_rooms_in_call",
			Help: "Number of room sessions currently in a call",
		}),

		roomStateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetroom_room_transitions_total",
			Help: "Room state transitions",
		}, []string{"from", "to"}),

		waitingSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetroom_waiting_room_size",
			Help: "Pending join requests seen by the host",
		}, []string{"meeting_id"}),

		recordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetroom_recordings_started_total",
			Help: "Total number of recordings started",
		}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetroom_recording_duration_seconds",
			Help:    "Duration of completed recordings",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),

		recordingBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetroom_recording_size_bytes",
			Help:    "Size of completed recording artifacts",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),

		recordingUploadErr: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetroom_recording_upload_failures_total",
			Help: "Failed recording uploads",
		}),
	}
}

func (p *PrometheusCollector) PeerLinkOpened() {
	p.peerLinksActive.Inc()
	p.peerLinksTotal.Inc()
}

func (p *PrometheusCollector) PeerLinkClosed() {
	p.peerLinksActive.Dec()
}

func (p *PrometheusCollector) NegotiationFailed(stage string) {
	p.negotiationFailure.WithLabelValues(stage).Inc()
}

func (p *PrometheusCollector) SignalingMessage(kind string, direction string) {
	p.signalingMessages.WithLabelValues(kind, direction).Inc()
}

// WaitingRoomSize drops the series once the roster is empty so ended
// meetings do not linger.
func (p *PrometheusCollector) WaitingRoomSize(meetingID domain.MeetingID, size int) {
	if size == 0 {
		p.waitingSize.DeleteLabelValues(string(meetingID))
		return
	}
	p.waitingSize.WithLabelValues(string(meetingID)).Set(float64(size))
}

func (p *PrometheusCollector) RecordingStarted() {
	p.recordingsStarted.Inc()
}

// RecordingCompleted observes an uploaded artifact.
func (p *PrometheusCollector) RecordingCompleted(duration time.Duration, bytes int64) {
	p.recordingDuration.Observe(duration.Seconds())
	p.recordingBytes.Observe(float64(bytes))
}

func (p *PrometheusCollector) RecordingUploadFailed() {
	p.recordingUploadErr.Inc()
}

func (p *PrometheusCollector) RoomStateChanged(from, to domain.RoomState) {
	p.roomStateTotal.WithLabelValues(string(from), string(to)).Inc()
	if to == domain.StateInCall {
		p.roomsInCall.Inc()
	}
	if from == domain.StateInCall {
		p.roomsInCall.Dec()
	}
}
