package interfaces

import (
	"github.com/opd-ai/actorsync/protocol"
)

// EntityHandle is an opaque reference into the gameplay layer's entity
// store. The synchronization core never looks inside it.
type EntityHandle uint64

// PlaceholderEntity is returned when no spawner is wired in. It never refers
// to a real entity.
const PlaceholderEntity EntityHandle = ^EntityHandle(0)

// IEntitySpawner creates and destroys the entity that represents a
// participant. Spawn must return a fresh handle on every call.
type IEntitySpawner interface {
	// Spawn creates the entity for a newly registered participant
	Spawn(id protocol.ParticipantID) EntityHandle

	// Despawn destroys an entity previously returned by Spawn
	Despawn(entity EntityHandle)
}

// ITransformSource yields the local player's authoritative transform.
type ITransformSource interface {
	// ReadLocalTransform returns the local transform, or false when the local
	// player does not exist yet
	ReadLocalTransform() (protocol.TransformSample, bool)
}

// ITransformStore reads and writes entity transforms.
type ITransformStore interface {
	// WriteTransform overwrites the entity's transform
	WriteTransform(entity EntityHandle, sample protocol.TransformSample)

	// Transform returns the entity's current transform, or false when the
	// entity has no live transform
	Transform(entity EntityHandle) (protocol.TransformSample, bool)
}

// IServerWorld is what the server host needs from the gameplay layer.
type IServerWorld interface {
	IEntitySpawner
	ITransformStore
}

// IClientWorld is what the client host needs from the gameplay layer.
type IClientWorld interface {
	IEntitySpawner
	ITransformStore
	ITransformSource
}
