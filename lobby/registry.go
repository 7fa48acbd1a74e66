package lobby

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/interfaces"
	"github.com/opd-ai/actorsync/limits"
	"github.com/opd-ai/actorsync/protocol"
)

// ErrCapacityExceeded indicates the registry holds more participants than a
// snapshot can carry. The bootstrap listener refuses joins beyond capacity,
// so seeing it means the two were configured inconsistently.
var ErrCapacityExceeded = errors.New("lobby capacity exceeded")

// Registry maps participants to the entities that represent them. Each side
// of a connection owns its own Registry; it is mutated only by the tick that
// owns it and is not safe for concurrent use.
type Registry struct {
	members map[protocol.ParticipantID]interfaces.EntityHandle
	spawner interfaces.IEntitySpawner
	changed bool
}

// Diff lists the participants a reconciliation removed and added.
type Diff struct {
	Removed []protocol.ParticipantID
	Added   []protocol.ParticipantID
}

// Empty reports whether the reconciliation changed nothing.
func (d Diff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0
}

// NewRegistry creates an empty registry. spawner may be nil, in which case
// registrations get interfaces.PlaceholderEntity.
func NewRegistry(spawner interfaces.IEntitySpawner) *Registry {
	return &Registry{
		members: make(map[protocol.ParticipantID]interfaces.EntityHandle),
		spawner: spawner,
	}
}

// Register associates a participant with a freshly spawned entity and
// returns it. Registering a known participant returns the existing entity
// and spawns nothing.
func (r *Registry) Register(id protocol.ParticipantID) interfaces.EntityHandle {
	if entity, exists := r.members[id]; exists {
		return entity
	}

	entity := r.spawn(id)
	r.members[id] = entity
	r.changed = true

	logrus.WithFields(logrus.Fields{
		"function":    "Registry.Register",
		"participant": id,
		"entity":      entity,
		"members":     len(r.members),
	}).Info("Participant registered")

	return entity
}

func (r *Registry) spawn(id protocol.ParticipantID) interfaces.EntityHandle {
	if r.spawner == nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Registry.spawn",
			"participant": id,
		}).Warn("No entity spawner configured, using placeholder entity")
		return interfaces.PlaceholderEntity
	}
	return r.spawner.Spawn(id)
}

// Unregister removes a participant and despawns its entity. Unknown ids are
// ignored. It reports whether anything was removed.
func (r *Registry) Unregister(id protocol.ParticipantID) bool {
	entity, exists := r.members[id]
	if !exists {
		return false
	}

	delete(r.members, id)
	r.changed = true
	if r.spawner != nil && entity != interfaces.PlaceholderEntity {
		r.spawner.Despawn(entity)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Registry.Unregister",
		"participant": id,
		"entity":      entity,
		"members":     len(r.members),
	}).Info("Participant unregistered")

	return true
}

// Lookup returns the entity registered for a participant.
func (r *Registry) Lookup(id protocol.ParticipantID) (interfaces.EntityHandle, bool) {
	entity, exists := r.members[id]
	return entity, exists
}

// Contains reports whether a participant is registered.
func (r *Registry) Contains(id protocol.ParticipantID) bool {
	_, exists := r.members[id]
	return exists
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	return len(r.members)
}

// IDs returns the registered participants in ascending order.
func (r *Registry) IDs() []protocol.ParticipantID {
	ids := make([]protocol.ParticipantID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Snapshot packs the registered ids into a membership snapshot. Unused
// slots stay empty. If more participants are registered than a snapshot can
// hold, the snapshot is filled to capacity and ErrCapacityExceeded is
// returned alongside it.
func (r *Registry) Snapshot() (protocol.MembershipSnapshot, error) {
	var snap protocol.MembershipSnapshot
	ids := r.IDs()

	for i, id := range ids {
		if i >= limits.MaxConnections {
			err := fmt.Errorf("%w: %d registered, snapshot holds %d", ErrCapacityExceeded, len(ids), limits.MaxConnections)
			logrus.WithFields(logrus.Fields{
				"function": "Registry.Snapshot",
				"members":  len(ids),
				"capacity": limits.MaxConnections,
			}).Error("Lobby holds more participants than a snapshot can carry")
			return snap, err
		}
		snap.Slots[i] = protocol.MemberSlot{Occupied: true, ID: id}
	}
	return snap, nil
}

// Reconcile brings the registry in line with a snapshot received from the
// server. It first unregisters every known participant missing from remote,
// then registers every participant in remote it does not know yet, except
// self: a client never spawns a remote copy of itself.
func (r *Registry) Reconcile(remote protocol.MembershipSnapshot, self protocol.ParticipantID) Diff {
	var diff Diff

	for _, id := range r.IDs() {
		if !remote.Contains(id) {
			r.Unregister(id)
			diff.Removed = append(diff.Removed, id)
		}
	}

	for _, id := range remote.IDs() {
		if id == self || r.Contains(id) {
			continue
		}
		r.Register(id)
		diff.Added = append(diff.Added, id)
	}

	if !diff.Empty() {
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Reconcile",
			"self":     self,
			"removed":  diff.Removed,
			"added":    diff.Added,
			"members":  len(r.members),
		}).Debug("Membership reconciled")
	}

	return diff
}

// Changed reports whether membership changed since the last ClearChanged.
func (r *Registry) Changed() bool {
	return r.changed
}

// ClearChanged resets the change flag. The server calls it after it has
// broadcast the membership snapshot for the tick.
func (r *Registry) ClearChanged() {
	r.changed = false
}

// Clear unregisters every participant, despawning their entities.
func (r *Registry) Clear() {
	for _, id := range r.IDs() {
		r.Unregister(id)
	}
}
