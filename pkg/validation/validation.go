package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"unicode/utf8"
)

// MaxMessageSize is the largest data channel message the control API forwards.
const MaxMessageSize = 65535

var (
	// StreamIDRegex accepts relay-issued ids: printable ASCII without spaces.
	StreamIDRegex = regexp.MustCompile(`^[\x21-\x7e]+$`)
)

// ValidateStreamID validates stream ID
func ValidateStreamID(streamID string) error {
	if streamID == "" {
		return fmt.Errorf("stream ID is required")
	}
	if len(streamID) > 256 {
		return fmt.Errorf("stream ID is too long (max 256 characters)")
	}
	if !StreamIDRegex.MatchString(streamID) {
		return fmt.Errorf("invalid stream ID format")
	}
	return nil
}

// ValidateStreamIDs validates every id in ids.
func ValidateStreamIDs[T ~string](ids []T) error {
	for i, id := range ids {
		if err := ValidateStreamID(string(id)); err != nil {
			return fmt.Errorf("stream_ids[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateMessage validates a data channel text message.
func ValidateMessage(message string) error {
	if message == "" {
		return fmt.Errorf("message is required")
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("message is too long (max %d bytes)", MaxMessageSize)
	}
	if !utf8.ValidString(message) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	return nil
}

// ValidateWebsocketURL validates a signaling endpoint.
func ValidateWebsocketURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
