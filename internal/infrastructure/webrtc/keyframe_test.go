package webrtc

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

func TestIsVP8KeyFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"empty", nil, false},
		{"key frame without extension", []byte{0x10, 0x00}, true},
		{"inter frame", []byte{0x10, 0x01}, false},
		{"continuation packet", []byte{0x00, 0x00}, false},
		{"second partition", []byte{0x11, 0x00}, false},
		{"short picture id", []byte{0x90, 0x80, 0x05, 0x00}, true},
		{"long picture id", []byte{0x90, 0x80, 0x85, 0x01, 0x00}, true},
		{"picture id with tl0 and tid", []byte{0x90, 0xe0, 0x05, 0x01, 0x02, 0x01}, false},
		{"truncated extension", []byte{0x90}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVP8KeyFrame(tt.payload))
		})
	}
}

func TestTrackCounter(t *testing.T) {
	c := &trackCounter{stats: RemoteTrackStats{TrackID: "v", Kind: "video"}}

	c.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 10}, Payload: []byte{1, 2}}, true)
	c.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 11}, Payload: []byte{1}}, false)
	c.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 14}, Payload: []byte{1}}, false)
	c.observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 13}, Payload: []byte{1}}, false)

	assert.Equal(t, RemoteTrackStats{
		TrackID:   "v",
		Kind:      "video",
		Packets:   4,
		Bytes:     5,
		KeyFrames: 1,
		Lost:      2,
	}, c.snapshot())
}
