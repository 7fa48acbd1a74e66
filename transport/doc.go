// Package transport implements the two-channel peer session used by the
// simulation loop.
//
// A [Session] exposes non-blocking Send and Receive on two channels:
//
//   - [ChannelReliableOrdered] runs over the TCP control stream that the
//     bootstrap handshake opened. Frames are length-prefixed
//     ([length u32 LE][frame]), delivered in order and never dropped on
//     receipt. The stream's failure is the liveness signal that turns into a
//     disconnect event.
//   - [ChannelUnreliable] runs over a UDP socket pinned to one peer.
//     Datagrams from other sources are ignored.
//
// Background goroutines own the blocking socket calls and exchange data
// with the tick through bounded queues, so the tick never waits on the
// network. A saturated outbound queue drops the message and reports
// [ErrBufferFull].
//
// Example:
//
//	endpoint, err := transport.ListenUDP("127.0.0.1:0", transport.DefaultBufferSize)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stream, err := transport.DialStream("127.0.0.1:42069", 5*time.Second, transport.DefaultBufferSize)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// ... handshake over stream.WriteFrame / stream.ReadFrame ...
//	session := transport.NewPeerSession(stream, endpoint)
//	for {
//	    data, ok := session.Receive(transport.ChannelUnreliable)
//	    if !ok {
//	        break
//	    }
//	    handle(data)
//	}
package transport
