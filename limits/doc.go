// Package limits provides centralized capacity and size constants for the
// actorsync protocol.
//
// # Capacity
//
// MaxConnections is a compile-time constant. It bounds the lobby size and fixes
// the number of slots in every membership and transform snapshot, which keeps
// the wire format free of variable-length arrays. The bootstrap listener
// refuses connection attempts beyond it.
//
// # Size Hierarchy
//
//   - MaxEnvelopeContent (1024 bytes): largest serialized payload inside an envelope.
//   - MaxDatagramSize: largest unreliable datagram (header + content).
//   - MaxFrameSize (64KiB): largest length-prefixed frame on the reliable stream.
//
// All network-received data is validated against these limits before it is
// decoded, so a hostile or corrupted length field cannot force a large
// allocation.
package limits
