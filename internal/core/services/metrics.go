package services

import (
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
)

type nopMetrics struct{}

func (nopMetrics) PeerLinkOpened()                            {}
func (nopMetrics) PeerLinkClosed()                            {}
func (nopMetrics) NegotiationFailed(string)                   {}
func (nopMetrics) SignalingMessage(string, string)            {}
func (nopMetrics) WaitingRoomSize(domain.MeetingID, int)      {}
func (nopMetrics) RecordingStarted()                          {}
func (nopMetrics) RecordingCompleted(time.Duration, int64)    {}
func (nopMetrics) RecordingUploadFailed()                     {}
func (nopMetrics) RoomStateChanged(from, to domain.RoomState) {}

func metricsOrNop(m ports.RoomMetrics) ports.RoomMetrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
