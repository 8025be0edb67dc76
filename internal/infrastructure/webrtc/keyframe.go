package webrtc

import (
	"sync"

	"github.com/pion/rtp"
)

// RemoteTrackStats counts what arrived on one remote track.
type RemoteTrackStats struct {
	TrackID   string `json:"track_id"`
	Kind      string `json:"kind"`
	Packets   uint64 `json:"packets"`
	Bytes     uint64 `json:"bytes"`
	KeyFrames uint64 `json:"key_frames"`
	Lost      uint64 `json:"lost"`
}

type trackCounter struct {
	mu      sync.Mutex
	stats   RemoteTrackStats
	lastSeq uint16
	started bool
}

func (c *trackCounter) observe(packet *rtp.Packet, keyFrame bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		if gap := packet.SequenceNumber - c.lastSeq; gap > 1 && gap < 0x8000 {
			c.stats.Lost += uint64(gap - 1)
		}
	}
	c.started = true
	c.lastSeq = packet.SequenceNumber
	c.stats.Packets++
	c.stats.Bytes += uint64(len(packet.Payload))
	if keyFrame {
		c.stats.KeyFrames++
	}
}

func (c *trackCounter) snapshot() RemoteTrackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// IsVP8KeyFrame reports whether an RTP payload starts a VP8 key frame. It
// walks the payload descriptor and checks the P bit of the frame header.
func IsVP8KeyFrame(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	first := payload[0]
	// S bit set and partition index 0: start of the first partition
	if first&0x10 == 0 || first&0x07 != 0 {
		return false
	}

	offset := 1
	if first&0x80 != 0 {
		if len(payload) <= offset {
			return false
		}
		ext := payload[offset]
		offset++
		if ext&0x80 != 0 {
			if len(payload) <= offset {
				return false
			}
			if payload[offset]&0x80 != 0 {
				offset += 2
			} else {
				offset++
			}
		}
		if ext&0x40 != 0 {
			offset++
		}
		if ext&0x30 != 0 {
			offset++
		}
	}
	if len(payload) <= offset {
		return false
	}
	return payload[offset]&0x01 == 0
}
