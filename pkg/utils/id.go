package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const linkAlphabet = "abcdefghijklmnopqrstuvwxyz"

// GenerateMessageID generates a unique chat message ID
func GenerateMessageID() string {
	return uuid.NewString()
}

// GenerateMeetingID generates a unique meeting ID
func GenerateMeetingID() string {
	return GenerateID("mtg")
}

// GenerateMeetingLink generates a shareable link code shaped like "abc-defg-hij"
func GenerateMeetingLink() string {
	groups := []int{3, 4, 3}
	parts := make([]string, len(groups))
	for i, n := range groups {
		var b strings.Builder
		for j := 0; j < n; j++ {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(linkAlphabet))))
			if err != nil {
				idx = big.NewInt(int64(time.Now().UnixNano() % int64(len(linkAlphabet))))
			}
			b.WriteByte(linkAlphabet[idx.Int64()])
		}
		parts[i] = b.String()
	}
	return strings.Join(parts, "-")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
