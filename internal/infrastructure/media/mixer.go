package media

import (
	"math"
	"sync"
)

// Mixer sums μ-law sources into one linear PCM stream. Each source keeps
// its own queue so a late source does not shift the others.
type Mixer struct {
	maxPending int

	mu      sync.Mutex
	pending [][]int16
}

// NewMixer creates a mixer for sources inputs. maxPending bounds the samples
// queued per source; older samples are dropped first.
func NewMixer(sources, maxPending int) *Mixer {
	return &Mixer{
		maxPending: maxPending,
		pending:    make([][]int16, sources),
	}
}

// Push queues a μ-law payload from source.
func (m *Mixer) Push(source int, payload []byte) {
	pcm := DecodeMulaw(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	if source < 0 || source >= len(m.pending) {
		return
	}
	queue := append(m.pending[source], pcm...)
	if m.maxPending > 0 && len(queue) > m.maxPending {
		queue = queue[len(queue)-m.maxPending:]
	}
	m.pending[source] = queue
}

// Next pops n samples from every source and returns their saturating sum.
// Sources with fewer queued samples contribute silence for the rest.
func (m *Mixer) Next(n int) []int16 {
	out := make([]int32, n)

	m.mu.Lock()
	for i, queue := range m.pending {
		take := n
		if len(queue) < take {
			take = len(queue)
		}
		for j := 0; j < take; j++ {
			out[j] += int32(queue[j])
		}
		m.pending[i] = queue[take:]
	}
	m.mu.Unlock()

	mixed := make([]int16, n)
	for i, v := range out {
		mixed[i] = saturate(v)
	}
	return mixed
}

// Mix returns the saturating sum of equally sized frames.
func Mix(frames ...[]int16) []int16 {
	size := 0
	for _, f := range frames {
		if len(f) > size {
			size = len(f)
		}
	}
	out := make([]int16, size)
	for i := range out {
		var sum int32
		for _, f := range frames {
			if i < len(f) {
				sum += int32(f[i])
			}
		}
		out[i] = saturate(sum)
	}
	return out
}

func saturate(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
