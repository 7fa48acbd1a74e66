package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// HandshakeKind identifies a bootstrap control message.
type HandshakeKind uint8

const (
	// HandshakeInitiate is sent by the client with its unreliable endpoint address.
	HandshakeInitiate HandshakeKind = iota + 1
	// HandshakeGranted carries the server's unreliable endpoint and the assigned id.
	HandshakeGranted
	// HandshakeRefused carries a refusal reason code.
	HandshakeRefused
)

func (k HandshakeKind) String() string {
	switch k {
	case HandshakeInitiate:
		return "initiate"
	case HandshakeGranted:
		return "granted"
	case HandshakeRefused:
		return "refused"
	default:
		return fmt.Sprintf("handshake(%d)", uint8(k))
	}
}

// RefusalReason is the code carried by a refused handshake.
type RefusalReason uint32

const (
	ReasonLobbyFull RefusalReason = iota + 1
	ReasonUnreachableEndpoint
	ReasonMalformedRequest
	ReasonVersionMismatch
	ReasonServerShuttingDown
)

func (r RefusalReason) String() string {
	switch r {
	case ReasonLobbyFull:
		return "lobby full"
	case ReasonUnreachableEndpoint:
		return "unreachable endpoint"
	case ReasonMalformedRequest:
		return "malformed request"
	case ReasonVersionMismatch:
		return "version mismatch"
	case ReasonServerShuttingDown:
		return "server shutting down"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}

const (
	addrFamilyV4 = 4
	addrFamilyV6 = 6
)

// Handshake is one bootstrap control message. Which fields are meaningful
// depends on Kind: Addr for Initiate and Granted, ID for Granted, Reason for
// Refused.
type Handshake struct {
	Version uint16
	Kind    HandshakeKind
	Addr    netip.AddrPort
	ID      ParticipantID
	Reason  RefusalReason
}

// NewInitiate builds the client's opening message.
func NewInitiate(unreliable netip.AddrPort) *Handshake {
	return &Handshake{Version: Version, Kind: HandshakeInitiate, Addr: unreliable}
}

// NewGranted builds the server's acceptance reply.
func NewGranted(unreliable netip.AddrPort, id ParticipantID) *Handshake {
	return &Handshake{Version: Version, Kind: HandshakeGranted, Addr: unreliable, ID: id}
}

// NewRefused builds the server's refusal reply.
func NewRefused(reason RefusalReason) *Handshake {
	return &Handshake{Version: Version, Kind: HandshakeRefused, Reason: reason}
}

// SerializeHandshake converts a handshake message to bytes.
// Wire format: [version u16][kind u8][body]
//
//	initiate: [addr]
//	granted:  [addr][id u64]
//	refused:  [reason u32]
//
// with addr = [family u8 (4|6)][ip 4|16 bytes][port u16].
func SerializeHandshake(h *Handshake) ([]byte, error) {
	if h == nil {
		return nil, errors.New("handshake cannot be nil")
	}

	buf := make([]byte, 0, 2+1+1+16+2+8)
	buf = binary.LittleEndian.AppendUint16(buf, h.Version)
	buf = append(buf, byte(h.Kind))

	var err error
	switch h.Kind {
	case HandshakeInitiate:
		buf, err = appendAddrPort(buf, h.Addr)
	case HandshakeGranted:
		buf, err = appendAddrPort(buf, h.Addr)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(h.ID))
	case HandshakeRefused:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Reason))
	default:
		return nil, fmt.Errorf("unknown handshake kind %d", h.Kind)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// ParseHandshake converts bytes to a handshake message. When the version
// differs from this build's, only Version and Kind are populated and the
// returned error wraps ErrVersionMismatch.
func ParseHandshake(data []byte) (*Handshake, error) {
	r := newReader(data)
	h := &Handshake{
		Version: r.u16(),
		Kind:    HandshakeKind(r.u8()),
	}
	if r.err != nil {
		return nil, r.err
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, h.Version, Version)
	}

	switch h.Kind {
	case HandshakeInitiate:
		h.Addr = readAddrPort(r)
	case HandshakeGranted:
		h.Addr = readAddrPort(r)
		h.ID = ParticipantID(r.u64())
	case HandshakeRefused:
		h.Reason = RefusalReason(r.u32())
	default:
		return nil, fmt.Errorf("%w: handshake kind %d", ErrMalformed, h.Kind)
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return h, nil
}

func appendAddrPort(b []byte, ap netip.AddrPort) ([]byte, error) {
	if !ap.IsValid() {
		return nil, errors.New("handshake address is not valid")
	}
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		ip := addr.As4()
		b = append(b, addrFamilyV4)
		b = append(b, ip[:]...)
	} else {
		ip := addr.As16()
		b = append(b, addrFamilyV6)
		b = append(b, ip[:]...)
	}
	return binary.LittleEndian.AppendUint16(b, ap.Port()), nil
}

func readAddrPort(r *reader) netip.AddrPort {
	var addr netip.Addr
	switch r.u8() {
	case addrFamilyV4:
		var ip [4]byte
		copy(ip[:], r.take(4))
		addr = netip.AddrFrom4(ip)
	case addrFamilyV6:
		var ip [16]byte
		copy(ip[:], r.take(16))
		addr = netip.AddrFrom16(ip)
	default:
		if r.err == nil {
			r.err = ErrMalformed
		}
		return netip.AddrPort{}
	}
	port := r.u16()
	if r.err != nil {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(addr, port)
}
