package actorsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/actorsync/bootstrap"
	"github.com/opd-ai/actorsync/dispatch"
	"github.com/opd-ai/actorsync/interfaces"
	"github.com/opd-ai/actorsync/limits"
	"github.com/opd-ai/actorsync/lobby"
	"github.com/opd-ai/actorsync/protocol"
	"github.com/opd-ai/actorsync/transformsync"
	"github.com/opd-ai/actorsync/transport"
)

var (
	// ErrAlreadyAdmitted indicates a participant id already has a session
	ErrAlreadyAdmitted = errors.New("participant already admitted")
	// ErrNotRunning indicates the host was killed
	ErrNotRunning = errors.New("host is not running")
)

// ParticipantCallback is called when a participant joins or leaves.
type ParticipantCallback func(id protocol.ParticipantID)

// Server is the authoritative host. It owns the lobby registry and one
// session per connected client, and runs the server tick.
type Server struct {
	options *Options
	world   interfaces.IServerWorld

	// Tick state, guarded by mu.
	mu       sync.Mutex
	registry *lobby.Registry
	sessions map[protocol.ParticipantID]transport.Session
	queue    *dispatch.Queue
	ticks    uint64

	// Network bootstrap; nil for servers fed through Admit only.
	slots      *bootstrap.SlotAllocator
	listener   *bootstrap.Listener
	admissions chan *bootstrap.Admission

	joinedCallback ParticipantCallback
	leftCallback   ParticipantCallback
	// Joins and departures recorded under mu, reported once it is released.
	joined []protocol.ParticipantID
	left   []protocol.ParticipantID
	// Participants whose last membership snapshot was dropped on a full
	// queue. They are resent the snapshot until one goes through.
	stale map[protocol.ParticipantID]bool

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewServer creates a server with no network listener. Sessions are handed
// to it with Admit. world may be nil, in which case entities are
// placeholders and no transforms are tracked.
func NewServer(world interfaces.IServerWorld, options *Options) *Server {
	if options == nil {
		options = NewOptions()
	}

	var spawner interfaces.IEntitySpawner
	if world != nil {
		spawner = world
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		options:  options,
		world:    world,
		registry: lobby.NewRegistry(spawner),
		sessions: make(map[protocol.ParticipantID]transport.Session),
		stale:    make(map[protocol.ParticipantID]bool),
		queue:    dispatch.NewQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.running.Store(true)
	return s
}

// ListenServer creates a server and binds its bootstrap listener on
// options.ListenAddress. A bind failure is fatal and returned as is.
// Clients are accepted once Run is called.
func ListenServer(world interfaces.IServerWorld, options *Options) (*Server, error) {
	s := NewServer(world, options)

	s.slots = bootstrap.NewSlotAllocator(limits.MaxConnections)
	ln, err := bootstrap.Listen(s.options.ListenAddress, s.slots, bootstrap.ListenOptions{
		Timeout:    s.options.BootstrapTimeout,
		BufferSize: s.options.bufferSize(),
		MaxPending: limits.MaxConnections,
	})
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.listener = ln
	s.admissions = make(chan *bootstrap.Admission, limits.MaxConnections)
	return s, nil
}

// Addr returns the bound bootstrap address, or nil without a listener.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OnParticipantJoined sets the callback for new participants. It runs on the
// goroutine that called Admit or Iterate, after the server's lock is
// released, so it may call back into the server.
func (s *Server) OnParticipantJoined(callback ParticipantCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinedCallback = callback
}

// OnParticipantLeft sets the callback for departed participants. It runs on
// the goroutine that called Iterate, after the server's lock is released.
func (s *Server) OnParticipantLeft(callback ParticipantCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leftCallback = callback
}

// Admit registers a participant with an established session. The
// participant joins the lobby immediately and is included in the next
// membership broadcast.
func (s *Server) Admit(id protocol.ParticipantID, session transport.Session) error {
	s.mu.Lock()
	err := s.admitLocked(id, session)
	notify := s.takeEventsLocked()
	s.mu.Unlock()

	notify()
	return err
}

func (s *Server) admitLocked(id protocol.ParticipantID, session transport.Session) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	if _, exists := s.sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyAdmitted, id)
	}
	if len(s.sessions) >= limits.MaxConnections {
		return bootstrap.ErrLobbyFull
	}

	s.sessions[id] = session
	s.registry.Register(id)

	logrus.WithFields(logrus.Fields{
		"function":    "Server.Admit",
		"participant": id,
		"remote":      session.RemoteAddr().String(),
		"members":     len(s.sessions),
	}).Info("Participant joined")

	s.joined = append(s.joined, id)
	return nil
}

// takeEventsLocked empties the recorded joins and departures and returns a
// function that reports them to the callbacks. Call it without holding mu.
func (s *Server) takeEventsLocked() func() {
	joined, left := s.joined, s.left
	s.joined, s.left = nil, nil
	joinedCallback, leftCallback := s.joinedCallback, s.leftCallback

	return func() {
		if joinedCallback != nil {
			for _, id := range joined {
				joinedCallback(id)
			}
		}
		if leftCallback != nil {
			for _, id := range left {
				leftCallback(id)
			}
		}
	}
}

// Iterate performs a single server tick: accept pending admissions, drain
// every session into the dispatch queue, drop disconnected participants,
// apply client transforms, then broadcast membership if it changed and the
// transform snapshot. Callbacks for this tick run after it completes.
func (s *Server) Iterate() {
	s.mu.Lock()
	s.iterateLocked()
	notify := s.takeEventsLocked()
	s.mu.Unlock()

	notify()
}

func (s *Server) iterateLocked() {
	if !s.running.Load() {
		return
	}
	s.ticks++

	s.acceptAdmissions()
	s.queue.Clear()
	s.drainSessions()
	s.dropDisconnected()

	if s.world != nil {
		transformsync.ApplyClientSamples(s.queue, s.registry, s.world)
	}

	if s.registry.Changed() {
		s.sendMembership(protocol.Broadcast())
		s.registry.ClearChanged()
	} else {
		for _, id := range sortedIDs(s.stale) {
			s.sendMembership(protocol.To(id))
		}
	}
	s.broadcastTransforms()
}

// acceptAdmissions moves clients granted by the listener into the lobby
// without blocking.
func (s *Server) acceptAdmissions() {
	for {
		select {
		case admission := <-s.admissions:
			if err := s.admitLocked(admission.ID, admission.Session); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "Server.acceptAdmissions",
					"participant": admission.ID,
					"conn_id":     admission.ConnID.String(),
					"error":       err.Error(),
				}).Warn("Dropping granted connection")
				admission.Session.Close()
				s.slots.Release(admission.ID)
			}
		default:
			return
		}
	}
}

func (s *Server) drainSessions() {
	for id, session := range s.sessions {
		check := dispatch.FromClient(id)
		source := id.String()
		for _, channel := range []transport.Channel{transport.ChannelReliableOrdered, transport.ChannelUnreliable} {
			for data, ok := session.Receive(channel); ok; data, ok = session.Receive(channel) {
				s.queue.Ingest(data, source, check)
			}
		}
	}
}

func (s *Server) dropDisconnected() {
	for id, session := range s.sessions {
		if session.Alive() {
			continue
		}
		s.removeLocked(id, session)
	}
}

func (s *Server) removeLocked(id protocol.ParticipantID, session transport.Session) {
	delete(s.sessions, id)
	delete(s.stale, id)
	session.Close()
	s.registry.Unregister(id)
	if s.slots != nil {
		s.slots.Release(id)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Server.removeLocked",
		"participant": id,
		"members":     len(s.sessions),
	}).Info("Participant left")

	s.left = append(s.left, id)
}

// sendMembership sends the current membership to target and tracks who
// missed it.
func (s *Server) sendMembership(target protocol.Target) {
	snap, err := s.registry.Snapshot()
	if err != nil {
		// Snapshot already logged the overflow; send what fits.
		logrus.WithField("function", "Server.sendMembership").Debug("Sending truncated membership")
	}
	data, err := protocol.EncodeBytes(&snap, protocol.ServerSender())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.sendMembership",
			"error":    err.Error(),
		}).Error("Failed to encode membership snapshot")
		return
	}

	missed := s.send(target, transport.ChannelReliableOrdered, data)
	for id := range s.sessions {
		if target.Includes(id) {
			delete(s.stale, id)
		}
	}
	for _, id := range missed {
		s.stale[id] = true
	}
}

func sortedIDs(set map[protocol.ParticipantID]bool) []protocol.ParticipantID {
	ids := make([]protocol.ParticipantID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) broadcastTransforms() {
	if len(s.sessions) == 0 {
		return
	}
	var snap protocol.MultiTransformSnapshot
	if s.world != nil {
		snap, _ = transformsync.Collect(s.registry, s.world)
	}
	data, err := protocol.EncodeBytes(&snap, protocol.ServerSender())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.broadcastTransforms",
			"error":    err.Error(),
		}).Error("Failed to encode transform snapshot")
		return
	}
	s.send(protocol.Broadcast(), transport.ChannelUnreliable, data)
}

// send delivers data to every session the target covers. Failures are
// per-session and never abort the tick. It returns the participants whose
// queue was full.
func (s *Server) send(target protocol.Target, channel transport.Channel, data []byte) []protocol.ParticipantID {
	var full []protocol.ParticipantID
	for id, session := range s.sessions {
		if !target.Includes(id) {
			continue
		}
		if err := session.Send(channel, data); err != nil {
			entry := logrus.WithFields(logrus.Fields{
				"function":    "Server.send",
				"participant": id,
				"channel":     channel.String(),
				"error":       err.Error(),
			})
			switch {
			case errors.Is(err, transport.ErrSessionClosed):
				entry.Debug("Send to closed session")
			case errors.Is(err, transport.ErrBufferFull):
				full = append(full, id)
				entry.Warn("Send queue full, dropping packet")
			default:
				entry.Warn("Send failed, dropping packet")
			}
		}
	}
	return full
}

// IterationInterval returns the interval between ticks.
func (s *Server) IterationInterval() time.Duration {
	return s.options.iterationInterval()
}

// Run drives the server until ctx is done or Kill is called: the bootstrap
// listener, if any, accepts clients while a ticker calls Iterate. It kills
// the server before returning.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	defer s.Kill()

	g, gctx := errgroup.WithContext(ctx)

	if s.listener != nil {
		g.Go(func() error {
			return s.listener.Serve(gctx, s.admissions)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(s.IterationInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-s.ctx.Done():
				return nil
			case <-ticker.C:
				s.Iterate()
			}
		}
	})

	logrus.WithFields(logrus.Fields{
		"function":  "Server.Run",
		"address":   s.Addr(),
		"tick_rate": s.options.TickRate,
	}).Info("Server running")

	err := g.Wait()
	// Serve has returned, so nothing sends on admissions any more.
	s.discardAdmissions()
	return err
}

// IsRunning reports whether the server has not been killed.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Kill stops the server, closes the listener and every session, and
// despawns every participant entity.
func (s *Server) Kill() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		delete(s.sessions, id)
		session.Close()
	}
	s.registry.Clear()
	s.joined, s.left = nil, nil
	clear(s.stale)
	s.discardAdmissions()

	logrus.WithField("function", "Server.Kill").Info("Server stopped")
}

// discardAdmissions closes granted sessions the tick never picked up.
func (s *Server) discardAdmissions() {
	for {
		select {
		case admission := <-s.admissions:
			admission.Session.Close()
			s.slots.Release(admission.ID)
		default:
			return
		}
	}
}

// Members returns the connected participants in ascending order.
func (s *Server) Members() []protocol.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.IDs()
}

// Entity returns the entity that represents a participant.
func (s *Server) Entity(id protocol.ParticipantID) (interfaces.EntityHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Lookup(id)
}

// Ticks returns the number of ticks run so far.
func (s *Server) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
