package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/limits"
)

// streamWriteTimeout bounds a single frame write on the background writer.
const streamWriteTimeout = 5 * time.Second

// frameHeaderSize is the length prefix in front of every stream frame.
const frameHeaderSize = 4

// StreamConn is the reliable-ordered half of a session: a TCP connection
// carrying length-prefixed frames. It starts in blocking mode, used once by
// the bootstrap handshake, and switches to pumped mode with Start, after
// which Send and Receive go through bounded queues serviced by background
// goroutines.
type StreamConn struct {
	conn net.Conn

	bufferSize  int
	readBuffer  chan []byte
	writeBuffer chan []byte

	started   atomic.Bool
	alive     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// DialStream opens a control stream to addr. A connect failure is returned
// as a *NetError.
func DialStream(addr string, timeout time.Duration, bufferSize int) (*StreamConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, newNetError("dial", addr, err)
	}
	return NewStreamConn(conn, bufferSize), nil
}

// NewStreamConn wraps an established connection.
func NewStreamConn(conn net.Conn, bufferSize int) *StreamConn {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &StreamConn{
		conn:        conn,
		bufferSize:  bufferSize,
		readBuffer:  make(chan []byte, bufferSize),
		writeBuffer: make(chan []byte, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.alive.Store(true)
	return s
}

// WriteFrame writes one frame synchronously. It must not be used after Start.
func (s *StreamConn) WriteFrame(frame []byte, timeout time.Duration) error {
	if s.started.Load() {
		return errors.New("stream already started")
	}
	if err := s.conn.SetWriteDeadline(deadline(timeout)); err != nil {
		return newNetError("write", s.remote(), err)
	}
	if err := writeFrame(s.conn, frame); err != nil {
		return newNetError("write", s.remote(), err)
	}
	return nil
}

// ReadFrame reads one frame synchronously. It must not be used after Start.
func (s *StreamConn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if s.started.Load() {
		return nil, errors.New("stream already started")
	}
	if err := s.conn.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, newNetError("read", s.remote(), err)
	}
	frame, err := readFrame(s.conn)
	if err != nil {
		return nil, newNetError("read", s.remote(), err)
	}
	return frame, nil
}

// Start switches the stream to pumped mode. It is idempotent.
func (s *StreamConn) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	_ = s.conn.SetDeadline(time.Time{})
	go s.processFrames()
	go s.processWrites()
}

// Send queues a frame without blocking.
func (s *StreamConn) Send(frame []byte) error {
	if s.closed.Load() || !s.alive.Load() {
		return ErrSessionClosed
	}
	if err := limits.ValidateFrame(frame); err != nil {
		return err
	}

	data := make([]byte, len(frame))
	copy(data, frame)

	select {
	case s.writeBuffer <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Receive returns the next queued frame without blocking. Frames that
// arrived before the peer went away are still returned.
func (s *StreamConn) Receive() ([]byte, bool) {
	select {
	case frame := <-s.readBuffer:
		return frame, true
	default:
		return nil, false
	}
}

// Alive reports whether the stream is still usable.
func (s *StreamConn) Alive() bool {
	return s.alive.Load() && !s.closed.Load()
}

// LocalAddr returns the local end of the connection.
func (s *StreamConn) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// RemoteAddr returns the remote end of the connection.
func (s *StreamConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close shuts the stream down.
func (s *StreamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.alive.Store(false)
		s.cancel()
		err = s.conn.Close()
	})
	return err
}

// processFrames reads frames until the connection fails. A full inbound
// queue applies back-pressure instead of dropping: the stream is lossless.
func (s *StreamConn) processFrames() {
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			s.markDead("read", err)
			return
		}

		select {
		case s.readBuffer <- frame:
		case <-s.ctx.Done():
			return
		}
	}
}

// processWrites drains the outbound queue in order.
func (s *StreamConn) processWrites() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.writeBuffer:
			if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				s.markDead("write", err)
				return
			}
			if err := writeFrame(s.conn, frame); err != nil {
				s.markDead("write", err)
				return
			}
		}
	}
}

func (s *StreamConn) markDead(op string, err error) {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	if s.closed.Load() {
		return
	}

	fields := logrus.Fields{
		"function": "StreamConn." + op,
		"remote":   s.remote(),
	}
	if errors.Is(err, io.EOF) {
		logrus.WithFields(fields).Debug("Peer closed control stream")
		return
	}
	fields["error"] = err.Error()
	logrus.WithFields(fields).Info("Control stream failed")
}

func (s *StreamConn) remote() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// writeFrame writes [length u32 LE][frame].
func writeFrame(w io.Writer, frame []byte) error {
	if err := limits.ValidateFrame(frame); err != nil {
		return err
	}
	buf := make([]byte, frameHeaderSize+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[frameHeaderSize:], frame)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame, refusing lengths outside
// (0, limits.MaxFrameSize] before allocating.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 || length > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrame, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
