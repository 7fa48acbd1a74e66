package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/actorsync/limits"
)

// TransformSample is the position, rotation and scale of one participant at
// one instant. It carries no timestamp or sequence number: receivers treat
// the most recently received sample as current.
type TransformSample struct {
	Position [3]float32
	Rotation [4]float32 // unit quaternion, x y z w
	Scale    [3]float32
}

// IdentityTransform returns a sample at the origin with no rotation and unit scale.
func IdentityTransform() TransformSample {
	return TransformSample{
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
}

// PayloadType implements Payload.
func (s *TransformSample) PayloadType() PayloadType {
	return PayloadClientTransform
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *TransformSample) MarshalBinary() ([]byte, error) {
	return s.appendTo(make([]byte, 0, limits.TransformSampleSize)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *TransformSample) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	var sample TransformSample
	sample.readFrom(r)
	if err := r.finish(); err != nil {
		return err
	}
	*s = sample
	return nil
}

func (s *TransformSample) appendTo(b []byte) []byte {
	for _, v := range s.Position {
		b = appendF32(b, v)
	}
	for _, v := range s.Rotation {
		b = appendF32(b, v)
	}
	for _, v := range s.Scale {
		b = appendF32(b, v)
	}
	return b
}

func (s *TransformSample) readFrom(r *reader) {
	for i := range s.Position {
		s.Position[i] = r.f32()
	}
	for i := range s.Rotation {
		s.Rotation[i] = r.f32()
	}
	for i := range s.Scale {
		s.Scale[i] = r.f32()
	}
}

// MemberSlot is one optional entry of a membership snapshot.
type MemberSlot struct {
	Occupied bool
	ID       ParticipantID
}

// MembershipSnapshot is the fixed-capacity list of participants known to be
// connected at the moment it was built. Slot order carries no meaning.
type MembershipSnapshot struct {
	Slots [limits.MaxConnections]MemberSlot
}

// NewMembershipSnapshot packs ids into a snapshot. It fails rather than drop
// ids when there are more than limits.MaxConnections.
func NewMembershipSnapshot(ids ...ParticipantID) (MembershipSnapshot, error) {
	var snap MembershipSnapshot
	if len(ids) > limits.MaxConnections {
		return snap, fmt.Errorf("membership snapshot holds %d ids, got %d", limits.MaxConnections, len(ids))
	}
	for i, id := range ids {
		snap.Slots[i] = MemberSlot{Occupied: true, ID: id}
	}
	return snap, nil
}

// IDs returns the ids of all occupied slots in slot order.
func (m *MembershipSnapshot) IDs() []ParticipantID {
	ids := make([]ParticipantID, 0, limits.MaxConnections)
	for _, slot := range m.Slots {
		if slot.Occupied {
			ids = append(ids, slot.ID)
		}
	}
	return ids
}

// Contains reports whether id occupies any slot.
func (m *MembershipSnapshot) Contains(id ParticipantID) bool {
	for _, slot := range m.Slots {
		if slot.Occupied && slot.ID == id {
			return true
		}
	}
	return false
}

// Empty returns the number of unoccupied slots.
func (m *MembershipSnapshot) Empty() int {
	n := 0
	for _, slot := range m.Slots {
		if !slot.Occupied {
			n++
		}
	}
	return n
}

// PayloadType implements Payload.
func (m *MembershipSnapshot) PayloadType() PayloadType {
	return PayloadLobbySync
}

// MarshalBinary implements encoding.BinaryMarshaler. Each slot is a presence
// byte followed by the id when present.
func (m *MembershipSnapshot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, limits.MaxConnections*9)
	for _, slot := range m.Slots {
		buf = appendPresent(buf, slot.Occupied)
		if slot.Occupied {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(slot.ID))
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *MembershipSnapshot) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	var snap MembershipSnapshot
	for i := range snap.Slots {
		if r.present() {
			snap.Slots[i] = MemberSlot{Occupied: true, ID: ParticipantID(r.u64())}
		}
	}
	if err := r.finish(); err != nil {
		return err
	}
	*m = snap
	return nil
}

// TransformSlot is one optional entry of a transform snapshot.
type TransformSlot struct {
	Occupied bool
	ID       ParticipantID
	Sample   TransformSample
}

// MultiTransformSnapshot is the server-authoritative aggregate of every live
// participant transform, broadcast once per tick.
type MultiTransformSnapshot struct {
	Slots [limits.MaxConnections]TransformSlot
}

// Entries returns the occupied slots in slot order.
func (m *MultiTransformSnapshot) Entries() []TransformSlot {
	entries := make([]TransformSlot, 0, limits.MaxConnections)
	for _, slot := range m.Slots {
		if slot.Occupied {
			entries = append(entries, slot)
		}
	}
	return entries
}

// PayloadType implements Payload.
func (m *MultiTransformSnapshot) PayloadType() PayloadType {
	return PayloadServerTransforms
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *MultiTransformSnapshot) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, limits.MaxConnections*(1+8+limits.TransformSampleSize))
	for i := range m.Slots {
		slot := &m.Slots[i]
		buf = appendPresent(buf, slot.Occupied)
		if slot.Occupied {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(slot.ID))
			buf = slot.Sample.appendTo(buf)
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *MultiTransformSnapshot) UnmarshalBinary(data []byte) error {
	r := newReader(data)
	var snap MultiTransformSnapshot
	for i := range snap.Slots {
		if !r.present() {
			continue
		}
		slot := &snap.Slots[i]
		slot.Occupied = true
		slot.ID = ParticipantID(r.u64())
		slot.Sample.readFrom(r)
	}
	if err := r.finish(); err != nil {
		return err
	}
	*m = snap
	return nil
}
