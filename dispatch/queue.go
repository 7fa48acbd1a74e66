// Package dispatch implements the inbound dispatch queue: raw packets drained
// from the transport are decoded, version gated and bucketed by payload type
// for the tick stages that consume them.
package dispatch

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/protocol"
)

// Queue buckets decoded envelopes by payload type. Insertion order is kept
// per type. A Queue is owned by one tick pipeline and is not safe for
// concurrent use.
type Queue struct {
	buckets map[protocol.PayloadType][]*protocol.Envelope
	dropped int
}

// SenderCheck decides whether an envelope's sender stamp is plausible for
// the session its bytes arrived on.
type SenderCheck func(sender protocol.Sender) bool

// FromServer accepts only server-stamped envelopes.
func FromServer() SenderCheck {
	return func(sender protocol.Sender) bool {
		return sender.IsServer()
	}
}

// FromClient accepts only envelopes stamped with the given participant.
func FromClient(id protocol.ParticipantID) SenderCheck {
	return func(sender protocol.Sender) bool {
		return sender == protocol.ClientSender(id)
	}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		buckets: make(map[protocol.PayloadType][]*protocol.Envelope),
	}
}

// Ingest decodes raw bytes and appends the envelope to its bucket.
// Malformed packets and packets from another protocol version are logged and
// dropped, as are envelopes rejected by check (nil accepts any sender).
// Ingest reports whether the packet was queued. source names the peer for
// log context only.
func (q *Queue) Ingest(data []byte, source string, check SenderCheck) (*protocol.Envelope, bool) {
	env, err := protocol.Decode(data)
	if err != nil {
		q.dropped++
		logrus.WithFields(logrus.Fields{
			"function": "Queue.Ingest",
			"source":   source,
			"size":     len(data),
			"error":    err.Error(),
		}).Warn("Dropping malformed packet")
		return nil, false
	}

	if err := env.CheckVersion(); err != nil {
		q.dropped++
		logrus.WithFields(logrus.Fields{
			"function":        "Queue.Ingest",
			"source":          source,
			"packet_version":  env.ProtocolVersion,
			"current_version": protocol.Version,
		}).Warn("Received packet with wrong version, dropping packet")
		return nil, false
	}

	if check != nil && !check(env.Sender) {
		q.dropped++
		logrus.WithFields(logrus.Fields{
			"function": "Queue.Ingest",
			"source":   source,
			"sender":   env.Sender.String(),
			"payload":  env.PayloadType.String(),
		}).Warn("Dropping packet with unexpected sender")
		return nil, false
	}

	q.buckets[env.PayloadType] = append(q.buckets[env.PayloadType], env)
	return env, true
}

// Push appends an already decoded envelope. Envelopes from another protocol
// version are refused.
func (q *Queue) Push(env *protocol.Envelope) error {
	if env == nil {
		return errors.New("envelope cannot be nil")
	}
	if err := env.CheckVersion(); err != nil {
		return err
	}
	q.buckets[env.PayloadType] = append(q.buckets[env.PayloadType], env)
	return nil
}

// Envelopes returns the queued envelopes of one payload type in arrival
// order. The slice is valid until the next Clear.
func (q *Queue) Envelopes(payloadType protocol.PayloadType) []*protocol.Envelope {
	return q.buckets[payloadType]
}

// Len returns the total number of queued envelopes.
func (q *Queue) Len() int {
	n := 0
	for _, bucket := range q.buckets {
		n += len(bucket)
	}
	return n
}

// Dropped returns how many packets Ingest has rejected since the last Clear.
func (q *Queue) Dropped() int {
	return q.dropped
}

// Clear empties every bucket. It runs once at the start of every tick so no
// payload survives into the next one.
func (q *Queue) Clear() {
	for payloadType := range q.buckets {
		delete(q.buckets, payloadType)
	}
	q.dropped = 0
}
