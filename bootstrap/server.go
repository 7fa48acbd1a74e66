package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/actorsync/limits"
	"github.com/opd-ai/actorsync/protocol"
	"github.com/opd-ai/actorsync/transport"
)

// ListenOptions configures the server side of the handshake.
type ListenOptions struct {
	// Timeout bounds reading a client's Initiate and writing the reply.
	Timeout time.Duration
	// BufferSize is the queue depth of both channels of every session.
	BufferSize int
	// MaxPending caps concurrent in-flight handshakes.
	MaxPending int
}

// DefaultListenOptions returns the options used by the server binary.
func DefaultListenOptions() ListenOptions {
	return ListenOptions{
		Timeout:    DefaultTimeout,
		BufferSize: transport.DefaultBufferSize,
		MaxPending: limits.MaxConnections,
	}
}

// Admission is a client that completed the handshake. The caller owns
// Session and must release ID from the allocator once the session is gone.
type Admission struct {
	ID      protocol.ParticipantID
	Session *transport.PeerSession
	// ConnID correlates the handshake's log lines with later ones.
	ConnID uuid.UUID
	Remote net.Addr
}

// Listener accepts control connections and runs the server side of the
// handshake for each of them.
type Listener struct {
	listener net.Listener
	slots    *SlotAllocator
	opts     ListenOptions

	closing   atomic.Bool
	closed    chan struct{}
	closeOnce sync.Once
}

// Listen binds the control listener on addr. A bind failure is returned as a
// *transport.NetError and is meant to be fatal at startup.
func Listen(addr string, slots *SlotAllocator, opts ListenOptions) (*Listener, error) {
	if slots == nil {
		return nil, errors.New("slot allocator cannot be nil")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = limits.MaxConnections
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &transport.NetError{Op: "listen", Addr: addr, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"address":  ln.Addr().String(),
		"capacity": slots.Capacity(),
	}).Info("Bootstrap listener started")

	return &Listener{listener: ln, slots: slots, opts: opts, closed: make(chan struct{})}, nil
}

// Addr returns the bound control address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until ctx is done or Close is called, running
// up to MaxPending handshakes concurrently. Every granted client is sent on
// admitted. It returns nil on shutdown and the accept error otherwise.
// In-flight handshakes are finished before Serve returns; a grant that has
// not been delivered when ctx ends or Close is called is torn down.
func (l *Listener) Serve(ctx context.Context, admitted chan<- *Admission) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var handshakes errgroup.Group
	handshakes.SetLimit(l.opts.MaxPending)
	defer handshakes.Wait()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closing.Load() {
				return nil
			}
			return &transport.NetError{Op: "accept", Addr: l.listener.Addr().String(), Err: err}
		}

		handshakes.Go(func() error {
			admission, err := l.handshake(conn)
			if err != nil {
				return nil
			}
			if l.closing.Load() {
				l.discard(admission)
				return nil
			}
			select {
			case admitted <- admission:
			case <-ctx.Done():
				l.discard(admission)
			case <-l.closed:
				l.discard(admission)
			}
			return nil
		})
	}
}

// Close stops accepting connections. Handshakes still in flight are refused
// with ReasonServerShuttingDown.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		close(l.closed)
		err = l.listener.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Listener.Close",
			"address":  l.listener.Addr().String(),
		}).Info("Bootstrap listener closed")
	})
	return err
}

// discard closes a granted session that will never be admitted and frees
// its slot.
func (l *Listener) discard(admission *Admission) {
	admission.Session.Close()
	l.slots.Release(admission.ID)

	logrus.WithFields(logrus.Fields{
		"function":    "Listener.discard",
		"participant": admission.ID,
		"conn_id":     admission.ConnID.String(),
	}).Info("Dropping grant after shutdown")
}

// handshake runs the server side of the bootstrap on one connection. The
// connection is closed on every path that does not end in a grant.
func (l *Listener) handshake(conn net.Conn) (*Admission, error) {
	connID := uuid.New()
	log := logrus.WithFields(logrus.Fields{
		"function": "Listener.handshake",
		"conn_id":  connID.String(),
		"remote":   conn.RemoteAddr().String(),
	})

	stream := transport.NewStreamConn(conn, l.opts.BufferSize)

	frame, err := stream.ReadFrame(l.opts.Timeout)
	if err != nil {
		log.WithField("error", err.Error()).Info("Handshake read failed")
		stream.Close()
		return nil, err
	}

	request, err := protocol.ParseHandshake(frame)
	switch {
	case errors.Is(err, protocol.ErrVersionMismatch):
		return nil, l.refuse(stream, log, protocol.ReasonVersionMismatch, err)
	case err != nil:
		return nil, l.refuse(stream, log, protocol.ReasonMalformedRequest, err)
	case request.Kind != protocol.HandshakeInitiate:
		return nil, l.refuse(stream, log, protocol.ReasonMalformedRequest, fmt.Errorf("%w: %s", ErrUnexpectedReply, request.Kind))
	}

	if l.closing.Load() {
		return nil, l.refuse(stream, log, protocol.ReasonServerShuttingDown, ErrListenerClosed)
	}

	clientAddr := request.Addr
	if clientAddr.Port() == 0 || clientAddr.Addr().IsUnspecified() || clientAddr.Addr().IsMulticast() {
		return nil, l.refuse(stream, log, protocol.ReasonUnreachableEndpoint, fmt.Errorf("client advertised %s", clientAddr))
	}

	id, err := l.slots.Acquire()
	if err != nil {
		return nil, l.refuse(stream, log, protocol.ReasonLobbyFull, err)
	}
	log = log.WithField("participant", id)

	datagram, err := l.openEndpoint(stream, clientAddr)
	if err != nil {
		l.slots.Release(id)
		return nil, l.refuse(stream, log, protocol.ReasonUnreachableEndpoint, err)
	}

	serverAddr, err := advertisedAddr(stream.LocalAddr(), datagram.Port())
	if err == nil {
		var reply []byte
		if reply, err = protocol.SerializeHandshake(protocol.NewGranted(serverAddr, id)); err == nil {
			err = stream.WriteFrame(reply, l.opts.Timeout)
		}
	}
	if err != nil {
		log.WithField("error", err.Error()).Info("Failed to send grant")
		l.slots.Release(id)
		datagram.Close()
		stream.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"client_udp": clientAddr.String(),
		"server_udp": serverAddr.String(),
	}).Info("Connection granted")

	return &Admission{
		ID:      id,
		Session: transport.NewPeerSession(stream, datagram),
		ConnID:  connID,
		Remote:  conn.RemoteAddr(),
	}, nil
}

// openEndpoint binds a fresh datagram endpoint for one client on the
// control stream's local interface and pins it to the client's address.
func (l *Listener) openEndpoint(stream *transport.StreamConn, client netip.AddrPort) (*transport.DatagramEndpoint, error) {
	datagram, err := bindAlongside(stream.LocalAddr(), l.opts.BufferSize)
	if err != nil {
		return nil, err
	}
	if err := datagram.Connect(client); err != nil {
		datagram.Close()
		return nil, err
	}
	return datagram, nil
}

func (l *Listener) refuse(stream *transport.StreamConn, log *logrus.Entry, reason protocol.RefusalReason, cause error) error {
	log.WithFields(logrus.Fields{
		"reason": reason.String(),
		"cause":  cause.Error(),
	}).Info("Connection refused")

	if reply, err := protocol.SerializeHandshake(protocol.NewRefused(reason)); err == nil {
		if err := stream.WriteFrame(reply, l.opts.Timeout); err != nil {
			log.WithField("error", err.Error()).Debug("Failed to send refusal")
		}
	}
	stream.Close()
	return &RefusedError{Reason: reason}
}
