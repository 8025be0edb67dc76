package monitoring

import (
	"testing"
	"time"

	"meetroom/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_PeerLinks(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.PeerLinkOpened()
	p.PeerLinkOpened()
	p.PeerLinkClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.peerLinksActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.peerLinksTotal))

	p.NegotiationFailed("offer")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.negotiationFailure.WithLabelValues("offer")))
}

func TestPrometheusCollector_RoomsInCall(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.RoomStateChanged(domain.StatePreJoin, domain.StateConnecting)
	p.RoomStateChanged(domain.StateConnecting, domain.StateInCall)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.roomsInCall))

	p.RoomStateChanged(domain.StateInCall, domain.StateLeft)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.roomsInCall))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.roomStateTotal.WithLabelValues("in_call", "left")))
}

func TestPrometheusCollector_WaitingRoomSize(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.WaitingRoomSize("m1", 3)
	assert.Equal(t, 1, testutil.CollectAndCount(p.waitingSize))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.waitingSize.WithLabelValues("m1")))

	p.WaitingRoomSize("m1", 0)
	assert.Equal(t, 0, testutil.CollectAndCount(p.waitingSize))
}

func TestPrometheusCollector_Recordings(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.RecordingStarted()
	p.RecordingUploadFailed()
	p.RecordingCompleted(90*time.Second, 1<<20)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.recordingsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.recordingUploadErr))
	assert.Equal(t, 1, testutil.CollectAndCount(p.recordingDuration))
}
