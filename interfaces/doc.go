// Package interfaces defines the contracts between the synchronization core
// and the gameplay layer that owns entities and their transforms.
//
// The core never creates, inspects or destroys entity contents itself. It
// calls [IEntitySpawner] when membership changes, [ITransformSource] to
// publish the local player's transform, and [ITransformStore] to apply
// remote transforms. Implementations are passed by reference at
// construction; there is no global registry of collaborators.
//
// The arena package provides a small in-memory implementation used by the
// binaries and tests:
//
//	world := arena.New()
//	registry := lobby.NewRegistry(world)
//
// # Thread Safety
//
// The core calls these methods only from its tick goroutine. Implementations
// that are also touched by other goroutines must synchronize themselves.
package interfaces
