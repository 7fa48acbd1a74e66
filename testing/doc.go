// Package testing provides an in-memory transport for deterministic tests of
// the synchronization core.
//
// # Overview
//
// [NewSessionPair] returns two [SimulatedSession] values that implement
// transport.Session without touching the network. The reliable channel is
// in-order and exactly-once. The unreliable channel is in-order too, but can
// be configured to lose a fraction of datagrams with a seeded generator so
// failures are reproducible.
//
// # Simulation vs Real Transport
//
//   - Simulation (this package): messages move between two in-process
//     queues. Every send is recorded in a delivery log for verification.
//
//   - Real (transport package): the reliable channel is the TCP control
//     stream left open by bootstrap and the unreliable channel is a pinned
//     UDP endpoint.
//
// Both satisfy transport.Session, so hosts accept either.
//
// # Usage
//
//	server, client := testsim.NewSessionPair("server", "client", testsim.DefaultSimulationConfig())
//	_ = client.Send(transport.ChannelUnreliable, packet)
//	data, ok := server.Receive(transport.ChannelUnreliable)
//
// Import the package with an alias, since its name shadows the standard
// library's testing package.
package testing
