package media

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulaw_KnownValues(t *testing.T) {
	assert.Equal(t, []byte{0xff}, EncodeMulaw([]int16{0}))
	assert.Equal(t, []int16{0}, DecodeMulaw([]byte{0xff}))
	assert.Equal(t, []int16{-32124, 32124}, DecodeMulaw([]byte{0x00, 0x80}))
}

func TestMulaw_RoundTripWithinQuantization(t *testing.T) {
	for _, v := range []int16{1, -1, 100, -100, 1000, -1000, 12345, -12345, math.MaxInt16, math.MinInt16} {
		got := DecodeMulaw(EncodeMulaw([]int16{v}))[0]
		diff := math.Abs(float64(got) - float64(v))
		bound := math.Max(8, math.Abs(float64(v))/16)
		if v == math.MaxInt16 || v == math.MinInt16 {
			bound = 1100
		}
		assert.LessOrEqual(t, diff, bound, "sample %d decoded as %d", v, got)
	}
}

func TestMulaw_DecodeIsStable(t *testing.T) {
	for b := 0; b < 256; b++ {
		pcm := DecodeMulaw([]byte{byte(b)})
		again := DecodeMulaw(EncodeMulaw(pcm))
		assert.Equal(t, pcm, again, "byte %#x", b)
	}
}
