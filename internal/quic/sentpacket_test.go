package quic

import (
	"testing"
	"time"
)

// TestSentPacketRegistryAscendingOrder checks that ascending() visits
// packets in packet-number order regardless of insertion order, which
// detectLoss's scan depends on.
func TestSentPacketRegistryAscendingOrder(t *testing.T) {
	r := newSentPacketRegistry()
	now := time.Now()
	for _, n := range []PacketNumber{5, 1, 3, 2, 4} {
		r.insert(&sentPacket{num: n, sentAt: now, size: 10})
	}

	var got []PacketNumber
	r.ascending(func(sp *sentPacket) { got = append(got, sp.num) })

	want := []PacketNumber{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("ascending order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending order = %v, want %v", got, want)
		}
	}
}

func TestSentPacketRegistryDuplicateInsertPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic inserting a duplicate packet number")
		}
	}()
	r := newSentPacketRegistry()
	now := time.Now()
	r.insert(&sentPacket{num: 1, sentAt: now})
	r.insert(&sentPacket{num: 1, sentAt: now})
}

func TestSentPacketRegistryDeleteRemovesFromOrderAndMap(t *testing.T) {
	r := newSentPacketRegistry()
	now := time.Now()
	for _, n := range []PacketNumber{1, 2, 3} {
		r.insert(&sentPacket{num: n, sentAt: now})
	}
	r.delete(2)

	if _, ok := r.lookup(2); ok {
		t.Fatal("packet 2 should be gone from the map after delete")
	}
	var got []PacketNumber
	r.ascending(func(sp *sentPacket) { got = append(got, sp.num) })
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("order after delete = %v, want [1 3]", got)
	}
	if r.len() != 2 {
		t.Fatalf("len() = %d, want 2", r.len())
	}
}

func TestSentPacketRegistryDeleteMissingIsNoop(t *testing.T) {
	r := newSentPacketRegistry()
	r.delete(99) // must not panic
	if r.len() != 0 {
		t.Fatalf("len() = %d, want 0", r.len())
	}
}

// TestBytesInFlightOnlyCountsInFlight checks §8 invariant 2: bytesInFlight
// sums only packets whose inFlight bit is set, e.g. excluding ACK-only
// packets that were never congestion-controlled.
func TestBytesInFlightOnlyCountsInFlight(t *testing.T) {
	r := newSentPacketRegistry()
	now := time.Now()
	r.insert(&sentPacket{num: 1, sentAt: now, size: 100, inFlight: true})
	r.insert(&sentPacket{num: 2, sentAt: now, size: 200, inFlight: false})
	r.insert(&sentPacket{num: 3, sentAt: now, size: 50, inFlight: true, ackEliciting: true})

	if got, want := r.bytesInFlight(), 150; got != want {
		t.Fatalf("bytesInFlight() = %d, want %d", got, want)
	}
	if got, want := r.ackElicitingInFlight(), 1; got != want {
		t.Fatalf("ackElicitingInFlight() = %d, want %d", got, want)
	}
}

// TestSendUnitMultiTransmissionResolvesOnce checks §8 invariant 1 against
// a retransmission chain of three transmissions: whichever one acks
// first resolves the unit, and a later ack of a sibling transmission is
// a no-op (no duplicate onAcked firing).
func TestSendUnitMultiTransmissionResolvesOnce(t *testing.T) {
	calls := 0
	u := newSendUnit(0, false)
	u.onAcked = func() { calls++ }

	sp1 := &sentPacket{num: 1}
	sp2 := &sentPacket{num: 2}
	sp3 := &sentPacket{num: 3}
	u.attach(sp1)
	u.attach(sp2)
	u.attach(sp3)

	if first := u.resolveAcked(); !first {
		t.Fatal("first resolveAcked call should report firstResolution=true")
	}
	if second := u.resolveAcked(); second {
		t.Fatal("second resolveAcked call should report firstResolution=false")
	}
	if calls != 1 {
		t.Fatalf("onAcked fired %d times, want exactly 1", calls)
	}
}

// TestSendUnitAllLostBeforeAck checks markTransmissionLost's allLost
// signal: only true once every attached transmission has been marked
// lost.
func TestSendUnitAllLostBeforeAck(t *testing.T) {
	u := newSendUnit(0, false)
	u.attach(&sentPacket{num: 1})
	u.attach(&sentPacket{num: 2})

	if u.markTransmissionLost() {
		t.Fatal("allLost should be false after only one of two transmissions is lost")
	}
	if !u.markTransmissionLost() {
		t.Fatal("allLost should be true once every transmission is lost")
	}
}

func TestSendUnitAllLostFalseOnceAcked(t *testing.T) {
	u := newSendUnit(0, false)
	u.attach(&sentPacket{num: 1})
	u.resolveAcked()
	if u.markTransmissionLost() {
		t.Fatal("allLost must be false once the unit already resolved as acked")
	}
}
