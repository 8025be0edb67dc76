package utils

import (
	"fmt"
	"time"
)

// FormatClock renders a duration as a call timer: "mm:ss", or "h:mm:ss" past an hour
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	hours, minutes, seconds := total/3600, (total%3600)/60, total%60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// IsExpired reports whether ttl has passed since timestamp at now
func IsExpired(timestamp, now time.Time, ttl time.Duration) bool {
	return now.Sub(timestamp) > ttl
}
