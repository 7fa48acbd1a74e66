package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/limits"
)

// datagramReadTimeout bounds each blocking read in the background loop so it
// notices Close promptly.
const datagramReadTimeout = 100 * time.Millisecond

// DatagramEndpoint is the unreliable half of a session: a UDP socket whose
// traffic is restricted to one pinned peer. A background goroutine moves
// inbound datagrams into a bounded queue and another drains the outbound
// queue, so Send and Receive never block the caller.
type DatagramEndpoint struct {
	conn net.PacketConn

	peer   netip.AddrPort
	peerMu sync.RWMutex

	readBuffer  chan []byte
	writeBuffer chan []byte

	droppedInbound atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

// ListenUDP binds a datagram endpoint on listenAddr. A bind failure is
// returned as a *NetError and is meant to be fatal at startup.
func ListenUDP(listenAddr string, bufferSize int) (*DatagramEndpoint, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, newNetError("listen", listenAddr, err)
	}

	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DatagramEndpoint{
		conn:        conn,
		readBuffer:  make(chan []byte, bufferSize),
		writeBuffer: make(chan []byte, bufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	go d.processPackets()
	go d.processWrites()

	logrus.WithFields(logrus.Fields{
		"function":   "ListenUDP",
		"local_addr": conn.LocalAddr().String(),
	}).Debug("Datagram endpoint bound")

	return d, nil
}

// Connect pins the peer address. Datagrams from any other source are
// dropped and Send only targets this peer. The address must be a concrete
// unicast address with a non-zero port.
func (d *DatagramEndpoint) Connect(peer netip.AddrPort) error {
	if !peer.IsValid() || peer.Port() == 0 || peer.Addr().IsUnspecified() || peer.Addr().IsMulticast() {
		return newNetError("connect", peer.String(), errors.New("address is not a reachable unicast endpoint"))
	}
	if d.closed.Load() {
		return newNetError("connect", peer.String(), ErrSessionClosed)
	}

	d.peerMu.Lock()
	d.peer = normalizeAddrPort(peer)
	d.peerMu.Unlock()
	return nil
}

// Peer returns the pinned peer, if any.
func (d *DatagramEndpoint) Peer() (netip.AddrPort, bool) {
	d.peerMu.RLock()
	defer d.peerMu.RUnlock()
	return d.peer, d.peer.IsValid()
}

// LocalAddr returns the local address the endpoint is bound to.
func (d *DatagramEndpoint) LocalAddr() net.Addr {
	return d.conn.LocalAddr()
}

// Port returns the bound local port.
func (d *DatagramEndpoint) Port() uint16 {
	if udpAddr, ok := d.conn.LocalAddr().(*net.UDPAddr); ok {
		return uint16(udpAddr.Port)
	}
	return 0
}

// Send queues a datagram for the pinned peer without blocking.
func (d *DatagramEndpoint) Send(data []byte) error {
	if d.closed.Load() {
		return ErrSessionClosed
	}
	if _, ok := d.Peer(); !ok {
		return ErrNotConnected
	}
	if err := limits.ValidateDatagram(data); err != nil {
		return err
	}

	datagram := make([]byte, len(data))
	copy(datagram, data)

	select {
	case d.writeBuffer <- datagram:
		return nil
	default:
		return ErrBufferFull
	}
}

// Receive returns the next queued datagram without blocking.
func (d *DatagramEndpoint) Receive() ([]byte, bool) {
	select {
	case data := <-d.readBuffer:
		return data, true
	default:
		return nil, false
	}
}

// DroppedInbound returns how many datagrams were discarded because they came
// from an unknown source or the inbound queue was full.
func (d *DatagramEndpoint) DroppedInbound() uint64 {
	return d.droppedInbound.Load()
}

// Close shuts down the endpoint.
func (d *DatagramEndpoint) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.cancel()
		err = d.conn.Close()
	})
	return err
}

// processPackets handles incoming datagrams until the endpoint is closed.
func (d *DatagramEndpoint) processPackets() {
	buffer := make([]byte, limits.MaxDatagramSize+1)

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !d.processIncomingPacket(buffer) {
				return
			}
		}
	}
}

// processIncomingPacket reads one datagram and queues it if it came from the
// pinned peer. Returns false when the loop should stop.
func (d *DatagramEndpoint) processIncomingPacket(buffer []byte) bool {
	if err := d.conn.SetReadDeadline(time.Now().Add(datagramReadTimeout)); err != nil {
		return d.handleReadError(err)
	}

	n, addr, err := d.conn.ReadFrom(buffer)
	if err != nil {
		return d.handleReadError(err)
	}

	if n > limits.MaxDatagramSize || !d.fromPeer(addr) {
		d.droppedInbound.Add(1)
		return true
	}

	data := make([]byte, n)
	copy(data, buffer[:n])

	select {
	case d.readBuffer <- data:
	default:
		d.droppedInbound.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":   "DatagramEndpoint.processIncomingPacket",
			"local_addr": d.conn.LocalAddr().String(),
		}).Debug("Inbound datagram queue full, dropping datagram")
	}
	return true
}

// handleReadError decides whether a read error ends the loop.
func (d *DatagramEndpoint) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if d.closed.Load() {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function": "DatagramEndpoint.handleReadError",
		"error":    err.Error(),
	}).Debug("Error reading datagram")
	return true
}

func (d *DatagramEndpoint) fromPeer(addr net.Addr) bool {
	peer, ok := d.Peer()
	if !ok {
		return false
	}
	udpAddr, isUDP := addr.(*net.UDPAddr)
	if !isUDP {
		return false
	}
	return normalizeAddrPort(udpAddr.AddrPort()) == peer
}

// processWrites drains the outbound queue until the endpoint is closed.
func (d *DatagramEndpoint) processWrites() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case datagram := <-d.writeBuffer:
			peer, ok := d.Peer()
			if !ok {
				continue
			}
			if _, err := d.conn.WriteTo(datagram, net.UDPAddrFromAddrPort(peer)); err != nil && !d.closed.Load() {
				logrus.WithFields(logrus.Fields{
					"function": "DatagramEndpoint.processWrites",
					"peer":     peer.String(),
					"error":    err.Error(),
				}).Debug("Datagram write failed")
			}
		}
	}
}

func normalizeAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap().WithZone(""), ap.Port())
}
