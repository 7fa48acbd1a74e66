package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/actorsync/protocol"
	"github.com/opd-ai/actorsync/transport"
)

type testServer struct {
	listener *Listener
	slots    *SlotAllocator
	admitted chan *Admission
	served   chan error
}

func startServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	slots := NewSlotAllocator(capacity)
	opts := DefaultListenOptions()
	opts.Timeout = time.Second

	ln, err := Listen("127.0.0.1:0", slots, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &testServer{
		listener: ln,
		slots:    slots,
		admitted: make(chan *Admission, capacity+1),
		served:   make(chan error, 1),
	}
	go func() { srv.served <- ln.Serve(ctx, srv.admitted) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-srv.served:
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
		close(srv.admitted)
		for a := range srv.admitted {
			a.Session.Close()
		}
	})
	return srv
}

func (s *testServer) addr() string {
	return s.listener.Addr().String()
}

func (s *testServer) nextAdmission(t *testing.T) *Admission {
	t.Helper()
	select {
	case a := <-s.admitted:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no admission")
		return nil
	}
}

func dialOpts() DialOptions {
	opts := DefaultDialOptions()
	opts.Timeout = time.Second
	return opts
}

func receiveWithin(t *testing.T, s transport.Session, channel transport.Channel) []byte {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		data, ok := s.Receive(channel)
		got = data
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestDialGranted(t *testing.T) {
	srv := startServer(t, 5)

	session, id, err := Dial(context.Background(), srv.addr(), dialOpts())
	require.NoError(t, err)
	defer session.Close()

	admission := srv.nextAdmission(t)
	defer admission.Session.Close()

	assert.Equal(t, protocol.ParticipantID(1), id)
	assert.Equal(t, id, admission.ID)
	assert.NotEqual(t, [16]byte{}, [16]byte(admission.ConnID))
	assert.Equal(t, 1, srv.slots.Active())

	require.NoError(t, session.Send(transport.ChannelReliableOrdered, []byte("membership")))
	require.NoError(t, session.Send(transport.ChannelUnreliable, []byte("transform")))
	assert.Equal(t, []byte("membership"), receiveWithin(t, admission.Session, transport.ChannelReliableOrdered))
	assert.Equal(t, []byte("transform"), receiveWithin(t, admission.Session, transport.ChannelUnreliable))

	require.NoError(t, admission.Session.Send(transport.ChannelUnreliable, []byte("snapshot")))
	assert.Equal(t, []byte("snapshot"), receiveWithin(t, session, transport.ChannelUnreliable))
}

func TestDialAssignsSequentialIDs(t *testing.T) {
	srv := startServer(t, 5)

	for want := protocol.ParticipantID(1); want <= 3; want++ {
		session, id, err := Dial(context.Background(), srv.addr(), dialOpts())
		require.NoError(t, err)
		assert.Equal(t, want, id)
		session.Close()
		srv.nextAdmission(t).Session.Close()
	}
}

func TestDialRefusedWhenFull(t *testing.T) {
	srv := startServer(t, 1)

	first, _, err := Dial(context.Background(), srv.addr(), dialOpts())
	require.NoError(t, err)
	defer first.Close()
	defer srv.nextAdmission(t).Session.Close()

	_, _, err = Dial(context.Background(), srv.addr(), dialOpts())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionRefused)
	assert.ErrorIs(t, err, ErrLobbyFull)

	var refused *RefusedError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, protocol.ReasonLobbyFull, refused.Reason)
	assert.Equal(t, 1, srv.slots.Active())
}

func TestDialUnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, _, err = Dial(context.Background(), addr, dialOpts())
	var netErr *transport.NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "dial", netErr.Op)
}

func TestDialCancelledContext(t *testing.T) {
	srv := startServer(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Dial(ctx, srv.addr(), dialOpts())
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeServer answers the first frame it reads with reply.
func fakeServer(t *testing.T, reply []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		stream := transport.NewStreamConn(conn, 1)
		defer stream.Close()
		if _, err := stream.ReadFrame(time.Second); err != nil {
			return
		}
		stream.WriteFrame(reply, time.Second)
		time.Sleep(100 * time.Millisecond)
	}()
	return ln.Addr().String()
}

func TestDialMalformedReply(t *testing.T) {
	addr := fakeServer(t, []byte{1, 0, 2})

	_, _, err := Dial(context.Background(), addr, dialOpts())
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestDialForeignVersionReply(t *testing.T) {
	reply, err := protocol.SerializeHandshake(&protocol.Handshake{
		Version: protocol.Version + 1,
		Kind:    protocol.HandshakeRefused,
		Reason:  protocol.ReasonLobbyFull,
	})
	require.NoError(t, err)

	_, _, err = Dial(context.Background(), fakeServer(t, reply), dialOpts())
	assert.ErrorIs(t, err, protocol.ErrVersionMismatch)
}

func TestDialUnexpectedKind(t *testing.T) {
	reply, err := protocol.SerializeHandshake(protocol.NewInitiate(netip.MustParseAddrPort("127.0.0.1:9")))
	require.NoError(t, err)

	_, _, err = Dial(context.Background(), fakeServer(t, reply), dialOpts())
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

// rawExchange sends one frame to the listener and returns its parsed reply.
func rawExchange(t *testing.T, addr string, request []byte) *protocol.Handshake {
	t.Helper()
	stream, err := transport.DialStream(addr, time.Second, 1)
	require.NoError(t, err)
	defer stream.Close()

	require.NoError(t, stream.WriteFrame(request, time.Second))
	frame, err := stream.ReadFrame(2 * time.Second)
	require.NoError(t, err)

	reply, err := protocol.ParseHandshake(frame)
	require.NoError(t, err)
	return reply
}

func TestListenerRefusals(t *testing.T) {
	srv := startServer(t, 5)

	foreign, err := protocol.SerializeHandshake(&protocol.Handshake{
		Version: protocol.Version + 1,
		Kind:    protocol.HandshakeInitiate,
		Addr:    netip.MustParseAddrPort("127.0.0.1:4000"),
	})
	require.NoError(t, err)
	portZero, err := protocol.SerializeHandshake(protocol.NewInitiate(netip.MustParseAddrPort("127.0.0.1:0")))
	require.NoError(t, err)
	unspecified, err := protocol.SerializeHandshake(protocol.NewInitiate(netip.MustParseAddrPort("0.0.0.0:4000")))
	require.NoError(t, err)
	wrongKind, err := protocol.SerializeHandshake(protocol.NewRefused(protocol.ReasonLobbyFull))
	require.NoError(t, err)

	tests := []struct {
		name    string
		request []byte
		reason  protocol.RefusalReason
	}{
		{"foreign version", foreign, protocol.ReasonVersionMismatch},
		{"garbage", []byte{1, 0, 9}, protocol.ReasonMalformedRequest},
		{"truncated", []byte{1, 0}, protocol.ReasonMalformedRequest},
		{"wrong kind", wrongKind, protocol.ReasonMalformedRequest},
		{"port zero", portZero, protocol.ReasonUnreachableEndpoint},
		{"unspecified address", unspecified, protocol.ReasonUnreachableEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := rawExchange(t, srv.addr(), tt.request)
			assert.Equal(t, protocol.HandshakeRefused, reply.Kind)
			assert.Equal(t, tt.reason, reply.Reason)
		})
	}
	assert.Zero(t, srv.slots.Active(), "refusals must not hold slots")
}

func TestListenFailsOnBusyAddress(t *testing.T) {
	srv := startServer(t, 1)

	_, err := Listen(srv.addr(), NewSlotAllocator(1), DefaultListenOptions())
	var netErr *transport.NetError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "listen", netErr.Op)
}

func TestServeReturnsAfterClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", NewSlotAllocator(1), DefaultListenOptions())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ln.Serve(context.Background(), make(chan *Admission, 1)) }()

	require.NoError(t, ln.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestCloseDiscardsUndeliveredGrant(t *testing.T) {
	slots := NewSlotAllocator(1)
	ln, err := Listen("127.0.0.1:0", slots, DefaultListenOptions())
	require.NoError(t, err)

	// Nobody reads admitted, so the grant stays parked in Serve.
	done := make(chan error, 1)
	go func() { done <- ln.Serve(context.Background(), make(chan *Admission)) }()

	session, _, err := Dial(context.Background(), ln.Addr().String(), dialOpts())
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, ln.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return with a grant pending")
	}

	assert.Zero(t, slots.Active())
	assert.Eventually(t, func() bool { return !session.Alive() }, 2*time.Second, 10*time.Millisecond)
}

func TestSlotAllocator(t *testing.T) {
	slots := NewSlotAllocator(2)

	a, err := slots.Acquire()
	require.NoError(t, err)
	b, err := slots.Acquire()
	require.NoError(t, err)
	assert.Equal(t, protocol.ParticipantID(1), a)
	assert.Equal(t, protocol.ParticipantID(2), b)

	_, err = slots.Acquire()
	assert.ErrorIs(t, err, ErrLobbyFull)

	assert.True(t, slots.Release(a))
	assert.False(t, slots.Release(a))

	c, err := slots.Acquire()
	require.NoError(t, err)
	assert.Equal(t, protocol.ParticipantID(3), c, "ids are never reused")
	assert.Equal(t, 2, slots.Active())
}

func TestRefusedErrorMatching(t *testing.T) {
	full := &RefusedError{Reason: protocol.ReasonLobbyFull}
	shutdown := &RefusedError{Reason: protocol.ReasonServerShuttingDown}

	assert.True(t, errors.Is(full, ErrConnectionRefused))
	assert.True(t, errors.Is(full, ErrLobbyFull))
	assert.True(t, errors.Is(shutdown, ErrConnectionRefused))
	assert.False(t, errors.Is(shutdown, ErrLobbyFull))
	assert.Contains(t, shutdown.Error(), "server shutting down")
}
