package transport

import (
	"fmt"
	"net"
)

// Channel identifies one of the two delivery classes. The values are agreed
// upon by both peers at compile time.
type Channel uint8

const (
	// ChannelReliableOrdered delivers every message exactly once, in send
	// order. Membership snapshots use it.
	ChannelReliableOrdered Channel = 0
	// ChannelUnreliable gives no delivery or ordering guarantee. Transform
	// samples use it because a lost sample is superseded by the next one.
	ChannelUnreliable Channel = 1
)

func (c Channel) String() string {
	switch c {
	case ChannelReliableOrdered:
		return "reliable_ordered"
	case ChannelUnreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Session is one peer's view of a connection. Send and Receive never block:
// the simulation tick calls them and must not stall on the network.
type Session interface {
	// Send queues data on a channel. When the channel's outbound buffer is
	// saturated the message is dropped and ErrBufferFull is returned.
	Send(channel Channel, data []byte) error

	// Receive returns the next pending message on a channel, or false when
	// none is pending. Callers drain it in a loop every tick.
	Receive(channel Channel) ([]byte, bool)

	// Alive reports whether the peer is still connected. It turns false once
	// the reliable stream fails or is closed.
	Alive() bool

	// RemoteAddr returns the peer's control-stream address.
	RemoteAddr() net.Addr

	// Close releases every socket owned by the session.
	Close() error
}

// DefaultBufferSize is the per-channel queue depth used when none is configured.
const DefaultBufferSize = 256
