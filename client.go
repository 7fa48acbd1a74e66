package actorsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/bootstrap"
	"github.com/opd-ai/actorsync/dispatch"
	"github.com/opd-ai/actorsync/interfaces"
	"github.com/opd-ai/actorsync/lobby"
	"github.com/opd-ai/actorsync/protocol"
	"github.com/opd-ai/actorsync/transformsync"
	"github.com/opd-ai/actorsync/transport"
)

// ErrDisconnected indicates the server went away.
var ErrDisconnected = errors.New("disconnected from server")

// MembershipCallback is called after a membership snapshot changed the
// client's view of the lobby.
type MembershipCallback func(diff lobby.Diff)

// Client is one participant. It mirrors the server's lobby in its own
// registry, publishes the local transform and applies remote transforms.
type Client struct {
	options *Options
	world   interfaces.IClientWorld
	session transport.Session
	self    protocol.ParticipantID

	mu       sync.Mutex
	registry *lobby.Registry
	queue    *dispatch.Queue
	ticks    uint64

	membershipCallback MembershipCallback
	disconnectCallback func()
	// Events recorded under mu, reported once it is released.
	diffs    []lobby.Diff
	lostLink bool

	running      atomic.Bool
	disconnected atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewClient creates a client over an established session. self is the id
// the server assigned during bootstrap.
func NewClient(world interfaces.IClientWorld, session transport.Session, self protocol.ParticipantID, options *Options) *Client {
	if options == nil {
		options = NewOptions()
	}

	var spawner interfaces.IEntitySpawner
	if world != nil {
		spawner = world
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		options:  options,
		world:    world,
		session:  session,
		self:     self,
		registry: lobby.NewRegistry(spawner),
		queue:    dispatch.NewQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.running.Store(true)
	return c
}

// Connect runs the bootstrap handshake against serverAddr and returns a
// client bound to the granted session. Any handshake failure, including a
// refusal, is returned and is not retried.
func Connect(ctx context.Context, serverAddr string, world interfaces.IClientWorld, options *Options) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}

	session, id, err := bootstrap.Dial(ctx, serverAddr, bootstrap.DialOptions{
		Timeout:    options.BootstrapTimeout,
		BufferSize: options.bufferSize(),
	})
	if err != nil {
		return nil, err
	}
	return NewClient(world, session, id, options), nil
}

// ID returns the participant id assigned by the server.
func (c *Client) ID() protocol.ParticipantID {
	return c.self
}

// OnMembershipChanged sets the callback for lobby changes. It runs on the
// goroutine calling Iterate, after the client's lock is released, so it may
// call back into the client.
func (c *Client) OnMembershipChanged(callback MembershipCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.membershipCallback = callback
}

// OnDisconnected sets the callback run once when the server goes away. Like
// OnMembershipChanged it runs after the client's lock is released.
func (c *Client) OnDisconnected(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCallback = callback
}

// Iterate performs a single client tick: drain the session into the
// dispatch queue, reconcile membership with every received snapshot in
// order, apply remote transforms and publish the local one. A dead session
// ends the client. Callbacks for this tick run after it completes.
func (c *Client) Iterate() {
	c.mu.Lock()
	c.iterateLocked()
	notify := c.takeEventsLocked()
	c.mu.Unlock()

	notify()
}

// takeEventsLocked empties the recorded events and returns a function that
// reports them to the callbacks. Call it without holding mu.
func (c *Client) takeEventsLocked() func() {
	diffs, lost := c.diffs, c.lostLink
	c.diffs, c.lostLink = nil, false
	membershipCallback, disconnectCallback := c.membershipCallback, c.disconnectCallback

	return func() {
		if membershipCallback != nil {
			for _, diff := range diffs {
				membershipCallback(diff)
			}
		}
		if lost && disconnectCallback != nil {
			disconnectCallback()
		}
	}
}

func (c *Client) iterateLocked() {
	if !c.running.Load() {
		return
	}
	c.ticks++

	c.queue.Clear()
	c.drainSession()
	c.applyMembership()

	if c.world != nil {
		transformsync.ApplySnapshots(c.queue, c.registry, c.world, c.self)
		if err := transformsync.Publish(c.session, c.world, c.self); err != nil && !errors.Is(err, transport.ErrSessionClosed) {
			logrus.WithFields(logrus.Fields{
				"function":    "Client.Iterate",
				"participant": c.self,
				"error":       err.Error(),
			}).Warn("Failed to publish local transform")
		}
	}

	if !c.session.Alive() {
		c.disconnectLocked()
	}
}

func (c *Client) drainSession() {
	check := dispatch.FromServer()
	for _, channel := range []transport.Channel{transport.ChannelReliableOrdered, transport.ChannelUnreliable} {
		for data, ok := c.session.Receive(channel); ok; data, ok = c.session.Receive(channel) {
			c.queue.Ingest(data, "server", check)
		}
	}
}

func (c *Client) applyMembership() {
	for _, env := range c.queue.Envelopes(protocol.PayloadLobbySync) {
		var snap protocol.MembershipSnapshot
		if err := env.Unmarshal(&snap); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.applyMembership",
				"error":    err.Error(),
			}).Warn("Dropping undecodable membership snapshot")
			continue
		}

		if diff := c.registry.Reconcile(snap, c.self); !diff.Empty() {
			c.diffs = append(c.diffs, diff)
		}
	}
}

func (c *Client) disconnectLocked() {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}
	c.running.Store(false)
	c.cancel()
	c.session.Close()
	c.registry.Clear()

	logrus.WithFields(logrus.Fields{
		"function":    "Client.disconnect",
		"participant": c.self,
	}).Info("Disconnected from server")

	c.lostLink = true
}

// IterationInterval returns the interval between ticks.
func (c *Client) IterationInterval() time.Duration {
	return c.options.iterationInterval()
}

// Run ticks the client until ctx is done, Kill is called or the server goes
// away, in which case it returns ErrDisconnected.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.Load() {
		return ErrNotRunning
	}

	ticker := time.NewTicker(c.IterationInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Kill()
			return nil
		case <-c.ctx.Done():
			if c.disconnected.Load() {
				return ErrDisconnected
			}
			return nil
		case <-ticker.C:
			c.Iterate()
		}
	}
}

// IsRunning reports whether the client is still connected and not killed.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Kill closes the session and despawns every remote entity.
func (c *Client) Kill() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Close()
	c.registry.Clear()

	logrus.WithFields(logrus.Fields{
		"function":    "Client.Kill",
		"participant": c.self,
	}).Info("Client stopped")
}

// Members returns the remote participants this client knows about, in
// ascending order. The client itself is never included.
func (c *Client) Members() []protocol.ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.IDs()
}

// Entity returns the local entity that mirrors a remote participant.
func (c *Client) Entity(id protocol.ParticipantID) (interfaces.EntityHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Lookup(id)
}

// Ticks returns the number of ticks run so far.
func (c *Client) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}
