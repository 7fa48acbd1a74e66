package protocol

import (
	"fmt"
)

// Version is the protocol version stamped on every envelope and handshake
// message. Peers built with different versions ignore each other's traffic.
const Version uint16 = 1

// ParticipantID identifies a connected peer for the lifetime of its
// connection. It is assigned by the server at bootstrap and is opaque to
// clients.
type ParticipantID uint64

// String returns the decimal form used in logs.
func (id ParticipantID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// PayloadType identifies the type of an envelope's content.
type PayloadType uint8

const (
	// PayloadLobbySync carries a MembershipSnapshot from server to clients.
	PayloadLobbySync PayloadType = iota + 1
	// PayloadClientTransform carries one TransformSample from a client to the server.
	PayloadClientTransform
	// PayloadServerTransforms carries a MultiTransformSnapshot from server to clients.
	PayloadServerTransforms
)

// Valid reports whether the payload type is known to this build.
func (t PayloadType) Valid() bool {
	return t >= PayloadLobbySync && t <= PayloadServerTransforms
}

func (t PayloadType) String() string {
	switch t {
	case PayloadLobbySync:
		return "lobby_sync"
	case PayloadClientTransform:
		return "client_transform"
	case PayloadServerTransforms:
		return "server_transforms"
	default:
		return fmt.Sprintf("payload(%d)", uint8(t))
	}
}

// SenderKind distinguishes server-originated from client-originated envelopes.
type SenderKind uint8

const (
	SenderServer SenderKind = 0
	SenderClient SenderKind = 1
)

// Sender stamps the origin of an envelope. ID is only meaningful for
// SenderClient and must be zero otherwise.
type Sender struct {
	Kind SenderKind
	ID   ParticipantID
}

// ServerSender returns the sender stamp used by the server.
func ServerSender() Sender {
	return Sender{Kind: SenderServer}
}

// ClientSender returns the sender stamp of the participant with the given id.
func ClientSender(id ParticipantID) Sender {
	return Sender{Kind: SenderClient, ID: id}
}

// IsServer reports whether the envelope originated at the server.
func (s Sender) IsServer() bool {
	return s.Kind == SenderServer
}

func (s Sender) String() string {
	if s.Kind == SenderServer {
		return "server"
	}
	return "client:" + s.ID.String()
}

// TargetKind selects how an outbound server envelope is routed.
type TargetKind uint8

const (
	TargetBroadcast TargetKind = iota
	TargetParticipant
)

// Target is server-side routing metadata. It is not part of the wire format.
type Target struct {
	Kind TargetKind
	ID   ParticipantID
}

// Broadcast targets every connected participant.
func Broadcast() Target {
	return Target{Kind: TargetBroadcast}
}

// To targets a single participant.
func To(id ParticipantID) Target {
	return Target{Kind: TargetParticipant, ID: id}
}

// Includes reports whether the target covers the given participant.
func (t Target) Includes(id ParticipantID) bool {
	return t.Kind == TargetBroadcast || t.ID == id
}
