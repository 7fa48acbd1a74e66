// Package bootstrap turns a fresh control connection into an assigned
// participant with a working session.
//
// The client calls [Dial]: it opens a TCP control stream, binds a datagram
// endpoint on the same interface and sends an Initiate message naming it.
// The server's [Listener] reads the Initiate, checks version and capacity
// through its [SlotAllocator], binds a dedicated datagram endpoint pinned to
// the client's address and answers with a grant carrying its own endpoint
// and the new participant id, or with a refusal and a reason code.
//
// After a grant both sides keep the control stream open as the
// reliable-ordered channel; its loss is how a disconnect is noticed. The
// handshake is the only blocking network operation in the system and runs
// once per client, bounded by a timeout.
//
// Refusals are never retried by the client:
//
//	session, id, err := bootstrap.Dial(ctx, "127.0.0.1:7777", bootstrap.DefaultDialOptions())
//	if errors.Is(err, bootstrap.ErrLobbyFull) {
//	    // every slot is taken
//	}
package bootstrap
