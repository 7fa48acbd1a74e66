package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/protocol"
	"github.com/opd-ai/actorsync/transport"
)

// DefaultTimeout bounds a whole handshake when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// DialOptions configures the client side of the handshake.
type DialOptions struct {
	// Timeout bounds connecting and waiting for the reply.
	Timeout time.Duration
	// BufferSize is the queue depth of both channels.
	BufferSize int
}

// DefaultDialOptions returns the options used by the client binary.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		Timeout:    DefaultTimeout,
		BufferSize: transport.DefaultBufferSize,
	}
}

// Dial runs the client handshake against serverAddr. It opens the control
// stream, binds a local datagram endpoint on the same interface, advertises
// it with an Initiate message and waits for the reply. A grant pins the
// endpoint to the server's advertised address and returns the session and
// the assigned id. Every other outcome is returned as an error and leaves
// nothing open: a refusal as *RefusedError, a malformed reply as
// protocol.ErrMalformed, a foreign protocol version as
// protocol.ErrVersionMismatch. Callers do not retry.
func Dial(ctx context.Context, serverAddr string, opts DialOptions) (*transport.PeerSession, protocol.ParticipantID, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	timeout := opts.Timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = max(time.Until(dl), time.Millisecond)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"server":   serverAddr,
		"timeout":  timeout.String(),
	}).Info("Connecting to server")

	stream, err := transport.DialStream(serverAddr, timeout, opts.BufferSize)
	if err != nil {
		return nil, 0, err
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	datagram, err := bindAlongside(stream.LocalAddr(), opts.BufferSize)
	if err != nil {
		stream.Close()
		return nil, 0, err
	}

	session, id, err := handshake(stream, datagram, timeout)
	if err != nil {
		stream.Close()
		datagram.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, fmt.Errorf("handshake with %s: %w", serverAddr, ctxErr)
		}
		logrus.WithFields(logrus.Fields{
			"function": "Dial",
			"server":   serverAddr,
			"error":    err.Error(),
		}).Error("Handshake failed")
		return nil, 0, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Dial",
		"server":      serverAddr,
		"participant": id,
		"local_udp":   datagram.LocalAddr().String(),
	}).Info("Connection granted")

	return session, id, nil
}

func handshake(stream *transport.StreamConn, datagram *transport.DatagramEndpoint, timeout time.Duration) (*transport.PeerSession, protocol.ParticipantID, error) {
	advertised, err := advertisedAddr(stream.LocalAddr(), datagram.Port())
	if err != nil {
		return nil, 0, err
	}

	request, err := protocol.SerializeHandshake(protocol.NewInitiate(advertised))
	if err != nil {
		return nil, 0, err
	}
	if err := stream.WriteFrame(request, timeout); err != nil {
		return nil, 0, err
	}

	frame, err := stream.ReadFrame(timeout)
	if err != nil {
		return nil, 0, err
	}
	reply, err := protocol.ParseHandshake(frame)
	if err != nil {
		return nil, 0, fmt.Errorf("handshake reply: %w", err)
	}

	switch reply.Kind {
	case protocol.HandshakeGranted:
		if err := datagram.Connect(reply.Addr); err != nil {
			return nil, 0, err
		}
		return transport.NewPeerSession(stream, datagram), reply.ID, nil
	case protocol.HandshakeRefused:
		return nil, 0, &RefusedError{Reason: reply.Reason}
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Kind)
	}
}

// bindAlongside binds an ephemeral datagram port on the interface the
// control stream uses, so the advertised address is reachable by the peer.
func bindAlongside(local net.Addr, bufferSize int) (*transport.DatagramEndpoint, error) {
	ap, err := addrPortOf(local)
	if err != nil {
		return nil, err
	}
	return transport.ListenUDP(net.JoinHostPort(ap.Addr().String(), "0"), bufferSize)
}

func advertisedAddr(local net.Addr, port uint16) (netip.AddrPort, error) {
	ap, err := addrPortOf(local)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ap.Addr(), port), nil
}

func addrPortOf(addr net.Addr) (netip.AddrPort, error) {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		ap := tcpAddr.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
	}
	if addr == nil {
		return netip.AddrPort{}, errors.New("no local address")
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(p)), nil
}
