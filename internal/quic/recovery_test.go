package quic

import (
	"testing"
	"time"
)

func mkSentPacket(num PacketNumber, sentAt time.Time, size int, ackEliciting bool) *sentPacket {
	return &sentPacket{num: num, sentAt: sentAt, size: size, ackEliciting: ackEliciting, inFlight: ackEliciting}
}

// TestLossPacketThresholdS2 mirrors §8 Scenario S2: packets 10..14 sent
// (1200 bytes, ack-eliciting); server ACKs 14 only. With
// kPacketThreshold=3, packets 10 and 11 are declared lost (14-3 >= 11).
// cwnd halves exactly once. The ACK of 14 is processed before loss
// detection runs, so 14's 1200 bytes are first added to cwnd in slow
// start and the single congestion event then halves that grown window.
func TestLossPacketThresholdS2(t *testing.T) {
	e := newRecoveryEngine(1200, 25*time.Millisecond, nil)
	base := time.Unix(0, 0)

	for i, n := range []PacketNumber{10, 11, 12, 13, 14} {
		sp := mkSentPacket(n, base.Add(time.Duration(i)*time.Millisecond), 1200, true)
		e.packetSent(sp.sentAt, spaceApplicationData, sp)
	}

	before := e.cc.congestionWindow
	now := base.Add(500 * time.Millisecond)
	e.onAckReceived(now, spaceApplicationData, [][2]PacketNumber{{14, 14}}, 14, 0)

	s := e.space(spaceApplicationData)
	if _, ok := s.sent.lookup(10); ok {
		t.Fatal("packet 10 should have been declared lost and removed")
	}
	if _, ok := s.sent.lookup(11); ok {
		t.Fatal("packet 11 should have been declared lost and removed")
	}
	if _, ok := s.sent.lookup(12); !ok {
		t.Fatal("packet 12 should still be outstanding (not yet lost by either threshold)")
	}

	if e.cc.congestionWindow != (before+1200)/kLossReductionDivisor && e.cc.congestionWindow != kMinimumWindow(1200) {
		t.Fatalf("cwnd after single loss event = %d, want halved (or clamped to minimum)", e.cc.congestionWindow)
	}
}

// TestLossTimeThresholdS3 mirrors §8 Scenario S3.
func TestLossTimeThresholdS3(t *testing.T) {
	e := newRecoveryEngine(1200, 25*time.Millisecond, nil)
	e.rtt.smoothedRTT = 100 * time.Millisecond
	e.rtt.latestRTT = 100 * time.Millisecond
	e.rtt.firstSampleTime = time.Unix(0, 1)

	base := time.Unix(0, 0)
	sp20 := mkSentPacket(20, base, 1200, true)
	sp21 := mkSentPacket(21, base.Add(50*time.Millisecond), 1200, true)
	e.packetSent(sp20.sentAt, spaceApplicationData, sp20)
	e.packetSent(sp21.sentAt, spaceApplicationData, sp21)

	now := base.Add(200 * time.Millisecond)
	e.onAckReceived(now, spaceApplicationData, [][2]PacketNumber{{21, 21}}, 21, 0)

	s := e.space(spaceApplicationData)
	if _, ok := s.sent.lookup(20); ok {
		t.Fatal("packet 20 should be declared lost by the time threshold")
	}
}

func TestRTTFirstSampleExact(t *testing.T) {
	var r rttState
	now := time.Unix(0, 0)
	r.updateSample(now, 80*time.Millisecond, 0)
	if r.smoothedRTT != 80*time.Millisecond {
		t.Fatalf("srtt = %v, want 80ms", r.smoothedRTT)
	}
	if r.rttVar != 40*time.Millisecond {
		t.Fatalf("rttvar = %v, want 40ms", r.rttVar)
	}
	if r.minRTT != 80*time.Millisecond {
		t.Fatalf("min_rtt = %v, want 80ms", r.minRTT)
	}
}

// TestPTODoublingS5 mirrors §8 Scenario S5: pto_cnt increments 0→1→2;
// arm-time multiplier is 1, 2, 4.
func TestPTODoublingS5(t *testing.T) {
	e := newRecoveryEngine(1200, 25*time.Millisecond, nil)
	e.haveAppKeys = true
	base := time.Unix(0, 0)

	sp := mkSentPacket(1, base, 1200, true)
	e.packetSent(base, spaceApplicationData, sp)

	period := e.rtt.ptoPeriod(e.maxAckDelay)

	for i, wantMultiplier := range []int{1, 2, 4} {
		at, armed := e.setLDTimer()
		if !armed {
			t.Fatalf("iteration %d: expected PTO timer armed", i)
		}
		wantDelta := period * time.Duration(wantMultiplier)
		gotDelta := at.Sub(base)
		if gotDelta != wantDelta {
			t.Fatalf("iteration %d: arm delta = %v, want %v (pto_cnt=%d)", i, gotDelta, wantDelta, e.ptoCount)
		}
		e.onLDTimeout(base)
	}
}

func TestPTODisarmedWhenNoInFlightAndValidated(t *testing.T) {
	e := newRecoveryEngine(1200, 25*time.Millisecond, nil)
	e.addressValidated = true
	if _, armed := e.setLDTimer(); armed {
		t.Fatal("expected LD timer disarmed with no ack-eliciting in-flight and address validated")
	}
}

func TestPTOAntiDeadlockProbeLimitOne(t *testing.T) {
	e := newRecoveryEngine(1200, 25*time.Millisecond, nil)
	e.haveAppKeys = false
	base := time.Unix(0, 0)
	sp := mkSentPacket(1, base, 1200, true)
	e.packetSent(base, spaceInitial, sp)

	out := e.onLDTimeout(base.Add(time.Second))
	if out.TXLimit != 1 {
		t.Fatalf("TXLimit = %d, want 1 (no application keys yet)", out.TXLimit)
	}
}

// TestInFlightInvariant checks §8 invariant 2 directly against registry
// contents after a mix of sends, acks, and losses.
func TestInFlightInvariant(t *testing.T) {
	e := newRecoveryEngine(1200, 25*time.Millisecond, nil)
	base := time.Unix(0, 0)
	for i, n := range []PacketNumber{1, 2, 3, 4, 5} {
		sp := mkSentPacket(n, base.Add(time.Duration(i)*time.Millisecond), 1200, true)
		e.packetSent(sp.sentAt, spaceApplicationData, sp)
	}
	e.onAckReceived(base.Add(time.Second), spaceApplicationData, [][2]PacketNumber{{5, 5}}, 5, 0)

	s := e.space(spaceApplicationData)
	want := s.sent.bytesInFlight()
	got := 0
	s.sent.ascending(func(sp *sentPacket) {
		if sp.inFlight {
			got += sp.size
		}
	})
	if got != want {
		t.Fatalf("in_flight mismatch: %d vs %d", got, want)
	}
	s.sent.ascending(func(sp *sentPacket) {
		if sp.num == 5 {
			t.Fatal("acked packet 5 must not remain in the registry")
		}
	})
}
