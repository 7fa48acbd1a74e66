package bootstrap

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/actorsync/protocol"
)

// SlotAllocator hands out participant ids and enforces the lobby capacity.
// Ids are sequential from 1 and never reused for the allocator's lifetime.
// It is shared by the handshake goroutines and the tick, so it is safe for
// concurrent use.
type SlotAllocator struct {
	mu       sync.Mutex
	capacity int
	next     protocol.ParticipantID
	active   map[protocol.ParticipantID]struct{}
}

// NewSlotAllocator creates an allocator for at most capacity concurrent
// participants.
func NewSlotAllocator(capacity int) *SlotAllocator {
	return &SlotAllocator{
		capacity: capacity,
		next:     1,
		active:   make(map[protocol.ParticipantID]struct{}),
	}
}

// Acquire reserves a slot and returns a fresh id, or ErrLobbyFull.
func (s *SlotAllocator) Acquire() (protocol.ParticipantID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.active) >= s.capacity {
		return 0, ErrLobbyFull
	}
	id := s.next
	s.next++
	s.active[id] = struct{}{}
	return id, nil
}

// Release frees the slot held by id. Releasing an unknown id is a no-op and
// reports false.
func (s *SlotAllocator) Release(id protocol.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.active[id]; !held {
		logrus.WithFields(logrus.Fields{
			"function":    "SlotAllocator.Release",
			"participant": id,
		}).Debug("Release of unheld slot")
		return false
	}
	delete(s.active, id)
	return true
}

// Active returns the number of held slots.
func (s *SlotAllocator) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Capacity returns the maximum number of concurrent participants.
func (s *SlotAllocator) Capacity() int {
	return s.capacity
}
