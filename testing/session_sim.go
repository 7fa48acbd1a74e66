package testing

import (
	"errors"
	"math/rand/v2"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/limits"
	"github.com/opd-ai/actorsync/transport"
)

// SimulationConfig controls a simulated session pair.
type SimulationConfig struct {
	// BufferSize is the per-channel inbound queue depth. Sends beyond it
	// fail with transport.ErrBufferFull.
	BufferSize int
	// UnreliableLoss is the probability in [0, 1] that a datagram on the
	// unreliable channel is silently dropped.
	UnreliableLoss float64
	// Seed makes loss decisions reproducible.
	Seed uint64
}

// DefaultSimulationConfig returns a lossless configuration.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{BufferSize: transport.DefaultBufferSize}
}

// DeliveryRecord represents one send for test verification.
type DeliveryRecord struct {
	From      string
	Channel   transport.Channel
	Size      int
	Delivered bool
	Error     error
}

// link is the state shared by both ends of a pair.
type link struct {
	mu       sync.Mutex
	config   SimulationConfig
	rng      *rand.Rand
	log      []DeliveryRecord
	severed  bool
	sessions [2]*SimulatedSession
}

// SimulatedSession is an in-memory transport.Session. The reliable channel
// delivers in order exactly once; the unreliable channel delivers in order
// unless the configured loss drops a datagram.
type SimulatedSession struct {
	link   *link
	index  int
	name   string
	closed bool
	inbox  map[transport.Channel][][]byte
}

// NewSessionPair creates two connected sessions named a and b.
func NewSessionPair(a, b string, config SimulationConfig) (*SimulatedSession, *SimulatedSession) {
	if config.BufferSize <= 0 {
		config.BufferSize = transport.DefaultBufferSize
	}

	l := &link{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
	for i, name := range []string{a, b} {
		l.sessions[i] = &SimulatedSession{
			link:  l,
			index: i,
			name:  name,
			inbox: make(map[transport.Channel][][]byte),
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSessionPair",
		"a":        a,
		"b":        b,
		"buffer":   config.BufferSize,
		"loss":     config.UnreliableLoss,
	}).Debug("Creating simulated session pair")

	return l.sessions[0], l.sessions[1]
}

func (s *SimulatedSession) peer() *SimulatedSession {
	return s.link.sessions[1-s.index]
}

// Send implements transport.Session.
func (s *SimulatedSession) Send(channel transport.Channel, data []byte) error {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()

	err := s.deliverLocked(channel, data)
	if err != nil && err != errLost {
		s.record(channel, len(data), false, err)
		return err
	}
	s.record(channel, len(data), err == nil, nil)
	return nil
}

var errLost = errors.New("datagram lost")

func (s *SimulatedSession) deliverLocked(channel transport.Channel, data []byte) error {
	if s.closed || s.link.severed || s.peer().closed {
		return transport.ErrSessionClosed
	}

	switch channel {
	case transport.ChannelReliableOrdered:
		if err := limits.ValidateFrame(data); err != nil {
			return err
		}
	case transport.ChannelUnreliable:
		if err := limits.ValidateDatagram(data); err != nil {
			return err
		}
		if s.link.config.UnreliableLoss > 0 && s.link.rng.Float64() < s.link.config.UnreliableLoss {
			return errLost
		}
	default:
		return transport.ErrUnknownChannel
	}

	peer := s.peer()
	if len(peer.inbox[channel]) >= s.link.config.BufferSize {
		return transport.ErrBufferFull
	}
	peer.inbox[channel] = append(peer.inbox[channel], append([]byte(nil), data...))
	return nil
}

func (s *SimulatedSession) record(channel transport.Channel, size int, delivered bool, err error) {
	s.link.log = append(s.link.log, DeliveryRecord{
		From:      s.name,
		Channel:   channel,
		Size:      size,
		Delivered: delivered,
		Error:     err,
	})
}

// Receive implements transport.Session. Data already delivered stays
// readable after the pair is severed.
func (s *SimulatedSession) Receive(channel transport.Channel) ([]byte, bool) {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()

	queue := s.inbox[channel]
	if len(queue) == 0 {
		return nil, false
	}
	data := queue[0]
	s.inbox[channel] = queue[1:]
	return data, true
}

// Alive implements transport.Session.
func (s *SimulatedSession) Alive() bool {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()
	return !s.closed && !s.link.severed && !s.peer().closed
}

// RemoteAddr implements transport.Session.
func (s *SimulatedSession) RemoteAddr() net.Addr {
	return simAddr(s.peer().name)
}

// Close implements transport.Session. The peer observes the close through
// Alive.
func (s *SimulatedSession) Close() error {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()
	s.closed = true
	return nil
}

// Sever cuts the link without closing either end, the way a lost network
// path looks to both peers.
func (s *SimulatedSession) Sever() {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()
	s.link.severed = true

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedSession.Sever",
		"a":        s.name,
		"b":        s.peer().name,
	}).Debug("Simulated link severed")
}

// Pending returns the number of undelivered messages queued for this end.
func (s *SimulatedSession) Pending(channel transport.Channel) int {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()
	return len(s.inbox[channel])
}

// DeliveryLog returns a copy of every send made on either end.
func (s *SimulatedSession) DeliveryLog() []DeliveryRecord {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()

	log := make([]DeliveryRecord, len(s.link.log))
	copy(log, s.link.log)
	return log
}

// ClearDeliveryLog empties the shared delivery log.
func (s *SimulatedSession) ClearDeliveryLog() {
	s.link.mu.Lock()
	defer s.link.mu.Unlock()
	s.link.log = nil
}

type simAddr string

func (a simAddr) Network() string { return "sim" }
func (a simAddr) String() string  { return string(a) }

var _ transport.Session = (*SimulatedSession)(nil)
