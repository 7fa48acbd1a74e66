// Package actorsync implements the network synchronization core of a small
// client-server multiplayer simulation.
//
// A single authoritative [Server] admits up to five participants, keeps the
// lobby membership, and broadcasts every participant's transform each tick.
// A [Client] mirrors the lobby in its own world, publishes the local
// player's transform and applies the transforms of everyone else.
//
// # Getting Started
//
// Start a server with a listener and drive it with Run:
//
//	world := arena.New()
//	server, err := actorsync.ListenServer(world, actorsync.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go server.Run(ctx)
//
// Connect a client and tick it, either with Run or by hand:
//
//	client, err := actorsync.Connect(ctx, "203.0.113.7:7777", arena.New(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Kill()
//
//	for client.IsRunning() {
//	    client.Iterate()
//	    time.Sleep(client.IterationInterval())
//	}
//
// # Core Types
//
//   - [Server]: authoritative host owning the lobby and one session per client
//   - [Client]: participant mirroring the lobby and exchanging transforms
//   - [Options]: tick rate, addresses and queue sizes for both
//
// # Tick Order
//
// A server tick accepts pending admissions, drains every session, drops
// participants whose session died, applies client transforms, then sends
// the membership snapshot (only when it changed) on the reliable channel and
// the transform snapshot on the unreliable one.
//
// A client tick drains its session, reconciles membership with each
// snapshot in arrival order, applies remote transforms, then publishes its
// own. A dead session ends the client and fires OnDisconnected.
//
// # Testing
//
// Sessions are plain interfaces, so hosts can be wired together in memory
// with the testing package:
//
//	serverEnd, clientEnd := testsim.NewSessionPair("server", "1", testsim.DefaultSimulationConfig())
//	server.Admit(1, serverEnd)
//	client := actorsync.NewClient(world, clientEnd, 1, nil)
//
// # Thread Safety
//
// Server and Client serialize their tick state behind a mutex. Iterate,
// Kill and the accessors may be called from any goroutine. Callbacks run on
// the goroutine calling Iterate (or Admit, for joins) once the host's lock
// is released, so they may call back into the host.
package actorsync
