// Package transformsync moves participant transforms between the gameplay
// layer and the wire once per tick.
//
// Server side: [ApplyClientSamples] writes each client's reported transform
// to its entity, then [Collect] gathers every live transform into one
// snapshot for broadcast. Client side: [Publish] sends the local transform and
// [ApplySnapshots] writes remote transforms from received snapshots.
//
// Samples carry no sequence number. An older sample that arrives after a
// newer one overwrites it; the next tick's snapshot corrects the state.
package transformsync

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/dispatch"
	"github.com/opd-ai/actorsync/interfaces"
	"github.com/opd-ai/actorsync/limits"
	"github.com/opd-ai/actorsync/lobby"
	"github.com/opd-ai/actorsync/protocol"
	"github.com/opd-ai/actorsync/transport"
)

// Collect builds the snapshot of every registered participant whose entity
// has a live transform. Overflow means the registry outgrew the snapshot
// capacity; the filled snapshot is returned with lobby.ErrCapacityExceeded.
func Collect(registry *lobby.Registry, store interfaces.ITransformStore) (protocol.MultiTransformSnapshot, error) {
	var snap protocol.MultiTransformSnapshot
	slot := 0

	for _, id := range registry.IDs() {
		entity, _ := registry.Lookup(id)
		sample, live := store.Transform(entity)
		if !live {
			continue
		}
		if slot >= limits.MaxConnections {
			logrus.WithFields(logrus.Fields{
				"function": "transformsync.Collect",
				"members":  registry.Len(),
				"capacity": limits.MaxConnections,
			}).Error("More live transforms than a snapshot can carry")
			return snap, fmt.Errorf("%w: transform snapshot holds %d entries", lobby.ErrCapacityExceeded, limits.MaxConnections)
		}
		snap.Slots[slot] = protocol.TransformSlot{Occupied: true, ID: id, Sample: sample}
		slot++
	}
	return snap, nil
}

// ApplyClientSamples writes every queued client transform to the sender's
// entity, in arrival order. Samples from participants the registry does not
// know and samples that fail to decode are logged and skipped. It returns
// the number of samples applied.
func ApplyClientSamples(queue *dispatch.Queue, registry *lobby.Registry, store interfaces.ITransformStore) int {
	applied := 0
	for _, env := range queue.Envelopes(protocol.PayloadClientTransform) {
		var sample protocol.TransformSample
		if err := env.Unmarshal(&sample); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "transformsync.ApplyClientSamples",
				"sender":   env.Sender.String(),
				"error":    err.Error(),
			}).Warn("Dropping undecodable client transform")
			continue
		}

		entity, known := registry.Lookup(env.Sender.ID)
		if env.Sender.IsServer() || !known {
			logrus.WithFields(logrus.Fields{
				"function": "transformsync.ApplyClientSamples",
				"sender":   env.Sender.String(),
			}).Warn("Dropping transform from unknown participant")
			continue
		}

		store.WriteTransform(entity, sample)
		applied++
	}
	return applied
}

// Publish sends the local transform to the server over the unreliable
// channel. It does nothing when the local player does not exist yet.
func Publish(session transport.Session, source interfaces.ITransformSource, self protocol.ParticipantID) error {
	sample, ok := source.ReadLocalTransform()
	if !ok {
		return nil
	}

	data, err := protocol.EncodeBytes(&sample, protocol.ClientSender(self))
	if err != nil {
		return fmt.Errorf("encode local transform: %w", err)
	}
	if err := session.Send(transport.ChannelUnreliable, data); err != nil {
		return fmt.Errorf("publish local transform: %w", err)
	}
	return nil
}

// ApplySnapshots writes every non-self entry of every queued transform
// snapshot to the matching entity, in arrival order, so the last received
// sample wins. Entries for participants the registry does not know are
// skipped: membership arrives on the reliable channel and may lag. It
// returns the number of entries applied.
func ApplySnapshots(queue *dispatch.Queue, registry *lobby.Registry, store interfaces.ITransformStore, self protocol.ParticipantID) int {
	applied := 0
	for _, env := range queue.Envelopes(protocol.PayloadServerTransforms) {
		var snap protocol.MultiTransformSnapshot
		if err := env.Unmarshal(&snap); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "transformsync.ApplySnapshots",
				"error":    err.Error(),
			}).Warn("Dropping undecodable transform snapshot")
			continue
		}

		for _, entry := range snap.Entries() {
			if entry.ID == self {
				continue
			}
			entity, known := registry.Lookup(entry.ID)
			if !known {
				logrus.WithFields(logrus.Fields{
					"function":    "transformsync.ApplySnapshots",
					"participant": entry.ID,
				}).Debug("Skipping transform for unknown participant")
				continue
			}
			store.WriteTransform(entity, entry.Sample)
			applied++
		}
	}
	return applied
}
