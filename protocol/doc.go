// Package protocol defines the actorsync wire format: the versioned packet
// envelope, the payloads it carries and the bootstrap handshake messages.
//
// # Envelope
//
// Every payload crosses the network inside an [Envelope]:
//
//	[version u16][payload type u8][sender tag u8][client id u64?][content len u32][content]
//
// All integers are little-endian. The client id is present only when the
// sender tag is 1 (client). Encoding is deterministic, so identical payloads
// always produce identical bytes.
//
//	data, err := protocol.EncodeBytes(&snapshot, protocol.ServerSender())
//	...
//	env, err := protocol.Decode(data)
//	if err != nil {
//	    // ErrMalformed: drop this packet only
//	}
//	if err := env.CheckVersion(); err != nil {
//	    // another build: drop silently
//	}
//
// [Decode] never panics on hostile input. It validates the content length
// against both the remaining bytes and limits.MaxEnvelopeContent before
// allocating.
//
// # Payloads
//
//   - [MembershipSnapshot]: who is connected, fixed capacity, order-free.
//   - [TransformSample]: one participant's position, rotation and scale.
//   - [MultiTransformSnapshot]: every live participant's sample.
//
// Optional slots are a presence byte (0 or 1) followed by the value.
//
// # Handshake
//
// [Handshake] messages travel once over the control stream before the
// simulation loop starts: Initiate, then Granted or Refused.
package protocol
