package quic

import "time"

// newRenoCC is the NewReno congestion controller §4.7 "Congestion control
// (NewReno)" names. Grounded on lib/src/recovery.c's on_pkt_acked_cc and
// congestion_event, with the struct/method shape following
// golang.org/x/net/internal/quic's ccReno (congestion_reno.go) — a
// constructor plus packetSent/packetAcked/packetDiscarded/congestionEvent
// hooks rather than
// the original's free functions taking a *rec_state.
type newRenoCC struct {
	maxDatagramSize int

	congestionWindow int
	ssthresh         int
	bytesInFlight    int

	// recoveryStartTime is the epoch of the current recovery period, or
	// the zero Time when not in recovery (rec_start_t in the original).
	recoveryStartTime time.Time
}

func newNewRenoCC(maxDatagramSize int) *newRenoCC {
	return &newRenoCC{
		maxDatagramSize:  maxDatagramSize,
		congestionWindow: kInitialWindow(maxDatagramSize),
		ssthresh:         1 << 30,
	}
}

func (cc *newRenoCC) canSend() bool {
	return cc.bytesInFlight+cc.maxDatagramSize <= cc.congestionWindow
}

func (cc *newRenoCC) packetSent(size int) {
	cc.bytesInFlight += size
}

func (cc *newRenoCC) packetDiscarded(size int) {
	cc.bytesInFlight -= size
}

// packetAcked implements on_pkt_acked_cc: remove from in-flight; if we're
// still within the recovery period the acked packet was sent before
// (rec_start_t >= send_time), no window growth; else grow by the full
// segment size in slow start, or the proportional RFC 9002 amount in
// congestion avoidance.
func (cc *newRenoCC) packetAcked(sentAt time.Time, size int) {
	cc.bytesInFlight -= size
	if !cc.recoveryStartTime.IsZero() && !cc.recoveryStartTime.Before(sentAt) {
		return
	}
	if cc.congestionWindow < cc.ssthresh {
		cc.congestionWindow += size
		return
	}
	cc.congestionWindow += cc.maxDatagramSize * size / cc.congestionWindow
}

// congestionEvent implements congestion_event: halve cwnd, set
// ssthresh=cwnd, clamp to the minimum window, and open a new recovery
// period starting now — unless we are already in one covering
// sentTimeOfLargestLost, per the original's dedup check.
func (cc *newRenoCC) congestionEvent(now, sentTimeOfLargestLost time.Time) {
	if !cc.recoveryStartTime.IsZero() && !sentTimeOfLargestLost.After(cc.recoveryStartTime) {
		return
	}
	cc.recoveryStartTime = now
	cc.congestionWindow /= kLossReductionDivisor
	min := kMinimumWindow(cc.maxDatagramSize)
	if cc.congestionWindow < min {
		cc.congestionWindow = min
	}
	cc.ssthresh = cc.congestionWindow
}
