package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxChatMessage is the largest chat message in bytes.
	MaxChatMessage = 1372

	// PacketHeaderSize is the datagram header prepended by the link.
	PacketHeaderSize = 1

	// MaxDatagram is the link read buffer size.
	MaxDatagram = 2048
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateChatMessage validates a chat message against MaxChatMessage.
func ValidateChatMessage(content string) error {
	if len(content) == 0 {
		return ErrMessageEmpty
	}
	if len(content) > MaxChatMessage {
		return fmt.Errorf("%w: chat message size %d exceeds limit %d", ErrMessageTooLarge, len(content), MaxChatMessage)
	}
	return nil
}

// ValidateDatagram validates a framed datagram, header included.
func ValidateDatagram(datagram []byte) error {
	return ValidateMessageSize(datagram, MaxChatMessage+PacketHeaderSize)
}
