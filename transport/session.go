package transport

import (
	"errors"
	"net"
)

// PeerSession combines a reliable control stream and an unreliable datagram
// endpoint into a Session. Liveness follows the stream: UDP has no
// connection state of its own.
type PeerSession struct {
	stream   *StreamConn
	datagram *DatagramEndpoint
}

// NewPeerSession builds a session from a handshaken stream and a connected
// datagram endpoint, and switches the stream to pumped mode.
func NewPeerSession(stream *StreamConn, datagram *DatagramEndpoint) *PeerSession {
	stream.Start()
	return &PeerSession{stream: stream, datagram: datagram}
}

// Send implements Session.
func (p *PeerSession) Send(channel Channel, data []byte) error {
	switch channel {
	case ChannelReliableOrdered:
		return p.stream.Send(data)
	case ChannelUnreliable:
		return p.datagram.Send(data)
	default:
		return ErrUnknownChannel
	}
}

// Receive implements Session.
func (p *PeerSession) Receive(channel Channel) ([]byte, bool) {
	switch channel {
	case ChannelReliableOrdered:
		return p.stream.Receive()
	case ChannelUnreliable:
		return p.datagram.Receive()
	default:
		return nil, false
	}
}

// Alive implements Session.
func (p *PeerSession) Alive() bool {
	return p.stream.Alive()
}

// RemoteAddr implements Session.
func (p *PeerSession) RemoteAddr() net.Addr {
	return p.stream.RemoteAddr()
}

// Datagram exposes the unreliable endpoint, mainly for diagnostics.
func (p *PeerSession) Datagram() *DatagramEndpoint {
	return p.datagram
}

// Close implements Session.
func (p *PeerSession) Close() error {
	return errors.Join(p.stream.Close(), p.datagram.Close())
}
