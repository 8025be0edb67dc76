package media

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMix_Saturates(t *testing.T) {
	got := Mix(
		[]int16{30000, -30000, 100},
		[]int16{30000, -30000, 50, 7},
	)
	assert.Equal(t, []int16{math.MaxInt16, math.MinInt16, 150, 7}, got)
}

func TestMixer_SumsSourcesAndPadsSilence(t *testing.T) {
	m := NewMixer(2, 0)
	a := DecodeMulaw([]byte{0x90, 0x90, 0x90})
	b := DecodeMulaw([]byte{0xa0})

	m.Push(0, []byte{0x90, 0x90, 0x90})
	m.Push(1, []byte{0xa0})
	m.Push(5, []byte{0x00})

	out := m.Next(3)
	assert.Equal(t, []int16{a[0] + b[0], a[1], a[2]}, out)
	assert.Equal(t, []int16{0, 0}, m.Next(2))
}

func TestMixer_DropsOldestBeyondLimit(t *testing.T) {
	m := NewMixer(1, 2)
	m.Push(0, []byte{0x00, 0x80, 0xff})

	assert.Equal(t, []int16{32124, 0}, m.Next(2))
}
