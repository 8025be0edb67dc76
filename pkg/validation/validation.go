package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxChatBodyLength    = 2000
	MaxDisplayNameLength = 80
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// IDRegex validates meeting and participant ids
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// MeetingLinkRegex validates the shareable meeting link code
	MeetingLinkRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateOptionalEmail accepts an empty email
func ValidateOptionalEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	return ValidateEmail(email)
}

// ValidateDisplayName validates the name shown to other participants
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return ValidateStringLength(name, 1, MaxDisplayNameLength, "display name")
}

// ValidateParticipantID validates a participant id
func ValidateParticipantID(id string) error {
	return validateID(id, "participant ID")
}

// ValidateMeetingID validates a meeting id
func ValidateMeetingID(id string) error {
	return validateID(id, "meeting ID")
}

func validateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", fieldName)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateMeetingLink validates a meeting link code such as "abc-defg-hij"
func ValidateMeetingLink(link string) error {
	if link == "" {
		return fmt.Errorf("meeting link is required")
	}
	if len(link) > 64 {
		return fmt.Errorf("meeting link is too long (max 64 characters)")
	}
	if !MeetingLinkRegex.MatchString(link) {
		return fmt.Errorf("invalid meeting link format")
	}
	return nil
}

// ValidateChatBody validates a chat message body
func ValidateChatBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body is required")
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("message body contains invalid characters")
	}
	return ValidateStringLength(body, 1, MaxChatBodyLength, "message body")
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateMaxParticipants validates the room size ceiling
func ValidateMaxParticipants(n int) error {
	if n < 2 {
		return fmt.Errorf("max participants must be at least 2")
	}
	if n > 50 {
		return fmt.Errorf("max participants is too high for a full mesh (max 50)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
