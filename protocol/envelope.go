package protocol

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/actorsync/limits"
)

var (
	// ErrMalformed indicates truncated or corrupt input.
	ErrMalformed = errors.New("malformed packet")
	// ErrUnknownPayloadType indicates a payload tag this build does not know.
	ErrUnknownPayloadType = fmt.Errorf("%w: unknown payload type", ErrMalformed)
	// ErrPayloadTypeMismatch indicates an envelope was unmarshaled into the wrong payload.
	ErrPayloadTypeMismatch = errors.New("payload type mismatch")
	// ErrVersionMismatch indicates a peer speaks another protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// Payload is implemented by every type that can travel inside an envelope.
// Implementations use pointer receivers for UnmarshalBinary.
type Payload interface {
	PayloadType() PayloadType
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Envelope is the versioned, tagged, sender-stamped wrapper around a
// serialized payload.
//
// Wire format (little-endian):
//
//	[version u16][payload type u8][sender tag u8][client id u64, sender tag 1 only][content len u32][content]
type Envelope struct {
	ProtocolVersion uint16
	PayloadType     PayloadType
	Sender          Sender
	ContentSize     uint32
	Content         []byte
}

// Encode serializes the payload and wraps it in an envelope stamped with the
// running protocol version.
func Encode(payload Payload, sender Sender) (*Envelope, error) {
	if payload == nil {
		return nil, errors.New("payload cannot be nil")
	}
	if sender.Kind != SenderServer && sender.Kind != SenderClient {
		return nil, fmt.Errorf("invalid sender kind %d", sender.Kind)
	}

	content, err := payload.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", payload.PayloadType(), err)
	}
	if len(content) > limits.MaxEnvelopeContent {
		return nil, fmt.Errorf("%w: %s content is %d bytes", limits.ErrMessageTooLarge, payload.PayloadType(), len(content))
	}

	return &Envelope{
		ProtocolVersion: Version,
		PayloadType:     payload.PayloadType(),
		Sender:          sender,
		ContentSize:     uint32(len(content)),
		Content:         content,
	}, nil
}

// Marshal converts the envelope to its wire form. Identical envelopes always
// produce identical bytes.
func (e *Envelope) Marshal() []byte {
	size := 2 + 1 + 1 + 4 + len(e.Content)
	if e.Sender.Kind == SenderClient {
		size += 8
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint16(buf, e.ProtocolVersion)
	buf = append(buf, byte(e.PayloadType), byte(e.Sender.Kind))
	if e.Sender.Kind == SenderClient {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Sender.ID))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Content)))
	return append(buf, e.Content...)
}

// Decode parses wire bytes into an envelope. It returns ErrMalformed (or an
// error wrapping it) for truncated, oversized or corrupt input and never
// panics. Decode does not check the protocol version; callers gate on
// CheckVersion.
func Decode(data []byte) (*Envelope, error) {
	r := newReader(data)

	env := &Envelope{
		ProtocolVersion: r.u16(),
		PayloadType:     PayloadType(r.u8()),
	}

	kind := SenderKind(r.u8())
	switch kind {
	case SenderServer:
		env.Sender = ServerSender()
	case SenderClient:
		env.Sender = ClientSender(ParticipantID(r.u64()))
	default:
		if r.err == nil {
			return nil, fmt.Errorf("%w: sender tag %d", ErrMalformed, kind)
		}
	}

	env.ContentSize = r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if env.ContentSize > limits.MaxEnvelopeContent || int(env.ContentSize) != r.remaining() {
		return nil, fmt.Errorf("%w: content length %d with %d bytes remaining", ErrMalformed, env.ContentSize, r.remaining())
	}

	content := r.take(int(env.ContentSize))
	if err := r.finish(); err != nil {
		return nil, err
	}
	env.Content = make([]byte, len(content))
	copy(env.Content, content)

	// Only reject unknown tags once the version matches; a newer peer may
	// legitimately use tags we have never heard of.
	if env.ProtocolVersion == Version && !env.PayloadType.Valid() {
		return nil, fmt.Errorf("%w %d", ErrUnknownPayloadType, env.PayloadType)
	}

	return env, nil
}

// CheckVersion reports ErrVersionMismatch when the envelope was produced by a
// build speaking another protocol version.
func (e *Envelope) CheckVersion() error {
	if e.ProtocolVersion != Version {
		return fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, e.ProtocolVersion, Version)
	}
	return nil
}

// Unmarshal decodes the envelope content into dst. dst must declare the same
// payload type as the envelope.
func (e *Envelope) Unmarshal(dst Payload) error {
	if dst.PayloadType() != e.PayloadType {
		return fmt.Errorf("%w: envelope carries %s, destination is %s", ErrPayloadTypeMismatch, e.PayloadType, dst.PayloadType())
	}
	if err := dst.UnmarshalBinary(e.Content); err != nil {
		return fmt.Errorf("unmarshal %s: %w", e.PayloadType, err)
	}
	return nil
}

// EncodeBytes encodes a payload and returns the wire bytes in one step.
func EncodeBytes(payload Payload, sender Sender) ([]byte, error) {
	env, err := Encode(payload, sender)
	if err != nil {
		return nil, err
	}
	return env.Marshal(), nil
}
