package media

import "github.com/zaf/g711"

// DecodeMulaw expands G.711 μ-law bytes into linear 16-bit PCM.
func DecodeMulaw(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = g711.DecodeUlawFrame(b)
	}
	return out
}

// EncodeMulaw compresses linear 16-bit PCM into G.711 μ-law.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}
