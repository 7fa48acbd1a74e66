// Package arena is a small explicit entity store that plays the gameplay
// layer for the headless binaries and for tests.
//
// A World hands out entity handles, keeps one transform per entity and holds
// the local player's transform. It implements interfaces.IServerWorld and
// interfaces.IClientWorld. It is safe for concurrent use, so a driver
// goroutine may move the local player while the host ticks.
package arena

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/interfaces"
	"github.com/opd-ai/actorsync/protocol"
)

// Entity is one spawned participant representation.
type Entity struct {
	Owner     protocol.ParticipantID
	Transform protocol.TransformSample
}

// World is an in-memory entity arena.
type World struct {
	mu       sync.RWMutex
	next     interfaces.EntityHandle
	entities map[interfaces.EntityHandle]*Entity

	local    protocol.TransformSample
	hasLocal bool
}

// New creates an empty world with no local player.
func New() *World {
	return &World{
		entities: make(map[interfaces.EntityHandle]*Entity),
	}
}

// Spawn implements interfaces.IEntitySpawner. New entities start at the
// identity transform.
func (w *World) Spawn(id protocol.ParticipantID) interfaces.EntityHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next++
	handle := w.next
	w.entities[handle] = &Entity{Owner: id, Transform: protocol.IdentityTransform()}

	logrus.WithFields(logrus.Fields{
		"function":    "World.Spawn",
		"participant": id,
		"entity":      handle,
	}).Debug("Spawned entity")

	return handle
}

// Despawn implements interfaces.IEntitySpawner.
func (w *World) Despawn(entity interfaces.EntityHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entities[entity]; !exists {
		logrus.WithFields(logrus.Fields{
			"function": "World.Despawn",
			"entity":   entity,
		}).Warn("Despawn of unknown entity")
		return
	}
	delete(w.entities, entity)

	logrus.WithFields(logrus.Fields{
		"function": "World.Despawn",
		"entity":   entity,
	}).Debug("Despawned entity")
}

// WriteTransform implements interfaces.ITransformStore. Writes to entities
// that no longer exist are ignored.
func (w *World) WriteTransform(entity interfaces.EntityHandle, sample protocol.TransformSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, exists := w.entities[entity]; exists {
		e.Transform = sample
	}
}

// Transform implements interfaces.ITransformStore.
func (w *World) Transform(entity interfaces.EntityHandle) (protocol.TransformSample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, exists := w.entities[entity]
	if !exists {
		return protocol.TransformSample{}, false
	}
	return e.Transform, true
}

// ReadLocalTransform implements interfaces.ITransformSource.
func (w *World) ReadLocalTransform() (protocol.TransformSample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.local, w.hasLocal
}

// SetLocalTransform places the local player.
func (w *World) SetLocalTransform(sample protocol.TransformSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.local = sample
	w.hasLocal = true
}

// ClearLocalTransform removes the local player.
func (w *World) ClearLocalTransform() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hasLocal = false
}

// Lookup returns a copy of an entity.
func (w *World) Lookup(entity interfaces.EntityHandle) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, exists := w.entities[entity]
	if !exists {
		return Entity{}, false
	}
	return *e, true
}

// Len returns the number of live entities.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Handles returns the live entity handles in spawn order.
func (w *World) Handles() []interfaces.EntityHandle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	handles := make([]interfaces.EntityHandle, 0, len(w.entities))
	for h := range w.entities {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

var (
	_ interfaces.IServerWorld = (*World)(nil)
	_ interfaces.IClientWorld = (*World)(nil)
)
