// Package limits provides centralized capacity and size limits for the
// actorsync protocol. This ensures consistent validation across the codec,
// the transport framing and the lobby.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxConnections is the lobby capacity. It fixes the slot count of every
	// membership and transform snapshot on the wire, so both peers must be
	// built with the same value.
	MaxConnections = 5

	// TransformSampleSize is the encoded size of one transform sample
	// (10 little-endian float32 values).
	TransformSampleSize = 40

	// MaxEnvelopeContent is the largest payload an envelope may carry.
	// The biggest payload is a full transform snapshot; the rest is headroom.
	MaxEnvelopeContent = 1024

	// EnvelopeHeaderMax is the largest envelope header
	// (version + type + sender tag + client id + content length).
	EnvelopeHeaderMax = 2 + 1 + 1 + 8 + 4

	// MaxDatagramSize bounds a single unreliable datagram.
	MaxDatagramSize = EnvelopeHeaderMax + MaxEnvelopeContent

	// MaxFrameSize bounds a single length-prefixed frame on the reliable stream.
	MaxFrameSize = 64 * 1024
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

// ValidateDatagram validates an outbound unreliable datagram.
func ValidateDatagram(datagram []byte) error {
	return ValidateMessageSize(datagram, MaxDatagramSize)
}

// ValidateFrame validates a reliable stream frame.
func ValidateFrame(frame []byte) error {
	return ValidateMessageSize(frame, MaxFrameSize)
}
