package testing

import (
	"errors"
	"testing"

	"github.com/opd-ai/actorsync/limits"
	"github.com/opd-ai/actorsync/transport"
)

func TestSessionPairDeliversInOrder(t *testing.T) {
	a, b := NewSessionPair("a", "b", DefaultSimulationConfig())

	for i := byte(0); i < 10; i++ {
		if err := a.Send(transport.ChannelReliableOrdered, []byte{i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	for i := byte(0); i < 10; i++ {
		data, ok := b.Receive(transport.ChannelReliableOrdered)
		if !ok {
			t.Fatalf("expected message %d", i)
		}
		if data[0] != i {
			t.Errorf("expected %d, got %d", i, data[0])
		}
	}

	if _, ok := b.Receive(transport.ChannelReliableOrdered); ok {
		t.Error("messages must be delivered exactly once")
	}
}

func TestSessionPairChannelsAreIndependent(t *testing.T) {
	a, b := NewSessionPair("a", "b", DefaultSimulationConfig())

	if err := a.Send(transport.ChannelUnreliable, []byte("u")); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Receive(transport.ChannelReliableOrdered); ok {
		t.Error("unreliable traffic leaked into the reliable channel")
	}
	if data, ok := b.Receive(transport.ChannelUnreliable); !ok || string(data) != "u" {
		t.Errorf("expected unreliable message, got %q %v", data, ok)
	}
}

func TestSessionPairCopiesPayload(t *testing.T) {
	a, b := NewSessionPair("a", "b", DefaultSimulationConfig())

	buf := []byte("abc")
	if err := a.Send(transport.ChannelUnreliable, buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'z'

	data, _ := b.Receive(transport.ChannelUnreliable)
	if string(data) != "abc" {
		t.Errorf("sender mutation leaked into delivered data: %q", data)
	}
}

func TestSessionPairBufferFull(t *testing.T) {
	a, _ := NewSessionPair("a", "b", SimulationConfig{BufferSize: 2})

	for i := 0; i < 2; i++ {
		if err := a.Send(transport.ChannelUnreliable, []byte{1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Send(transport.ChannelUnreliable, []byte{1}); !errors.Is(err, transport.ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}
}

func TestSessionPairRejectsBadInput(t *testing.T) {
	a, _ := NewSessionPair("a", "b", DefaultSimulationConfig())

	if err := a.Send(transport.Channel(9), []byte{1}); !errors.Is(err, transport.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
	if err := a.Send(transport.ChannelUnreliable, make([]byte, limits.MaxDatagramSize+1)); !errors.Is(err, limits.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestSessionPairClose(t *testing.T) {
	a, b := NewSessionPair("a", "b", DefaultSimulationConfig())

	if err := a.Send(transport.ChannelReliableOrdered, []byte("bye")); err != nil {
		t.Fatal(err)
	}
	a.Close()

	if b.Alive() {
		t.Error("peer close must be visible through Alive")
	}
	if err := b.Send(transport.ChannelReliableOrdered, []byte("x")); !errors.Is(err, transport.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if data, ok := b.Receive(transport.ChannelReliableOrdered); !ok || string(data) != "bye" {
		t.Error("data delivered before the close must remain readable")
	}
}

func TestSessionPairSever(t *testing.T) {
	a, b := NewSessionPair("a", "b", DefaultSimulationConfig())
	b.Sever()

	if a.Alive() || b.Alive() {
		t.Error("severed link must be dead on both ends")
	}
}

func TestSessionPairLossIsReproducible(t *testing.T) {
	config := SimulationConfig{BufferSize: 1000, UnreliableLoss: 0.5, Seed: 7}

	deliveredWith := func() int {
		a, b := NewSessionPair("a", "b", config)
		for i := 0; i < 200; i++ {
			if err := a.Send(transport.ChannelUnreliable, []byte{1}); err != nil {
				t.Fatal(err)
			}
		}
		return b.Pending(transport.ChannelUnreliable)
	}

	first := deliveredWith()
	if first == 0 || first == 200 {
		t.Errorf("expected partial loss, delivered %d of 200", first)
	}
	if second := deliveredWith(); second != first {
		t.Errorf("same seed delivered %d then %d", first, second)
	}
}

func TestSessionPairLossSparesReliable(t *testing.T) {
	a, b := NewSessionPair("a", "b", SimulationConfig{BufferSize: 100, UnreliableLoss: 1})

	for i := 0; i < 50; i++ {
		a.Send(transport.ChannelReliableOrdered, []byte{1})
		a.Send(transport.ChannelUnreliable, []byte{1})
	}
	if got := b.Pending(transport.ChannelReliableOrdered); got != 50 {
		t.Errorf("reliable channel lost messages: %d of 50", got)
	}
	if got := b.Pending(transport.ChannelUnreliable); got != 0 {
		t.Errorf("expected total unreliable loss, got %d", got)
	}
}

func TestDeliveryLog(t *testing.T) {
	a, b := NewSessionPair("a", "b", SimulationConfig{BufferSize: 1})

	a.Send(transport.ChannelUnreliable, []byte("one"))
	a.Send(transport.ChannelUnreliable, []byte("two"))
	b.Send(transport.ChannelReliableOrdered, []byte("three"))

	log := a.DeliveryLog()
	if len(log) != 3 {
		t.Fatalf("expected 3 records, got %d", len(log))
	}
	if !log[0].Delivered || log[1].Delivered || !errors.Is(log[1].Error, transport.ErrBufferFull) {
		t.Errorf("unexpected records: %+v", log[:2])
	}
	if log[2].From != "b" || log[2].Channel != transport.ChannelReliableOrdered {
		t.Errorf("unexpected record: %+v", log[2])
	}

	a.ClearDeliveryLog()
	if len(b.DeliveryLog()) != 0 {
		t.Error("log is shared by both ends and must be cleared for both")
	}
}
