package quic

import "time"

// rttState tracks the smoothed RTT estimator per §4.7 "RTT update (on
// ACK)". Grounded directly on lib/src/recovery.c's update_rtt, with
// field names following golang.org/x/net/internal/quic's rtt.go.
type rttState struct {
	firstSampleTime time.Time
	smoothedRTT     time.Duration
	rttVar          time.Duration
	minRTT          time.Duration
	latestRTT       time.Duration
}

func (r *rttState) init() {
	r.smoothedRTT = kInitialRtt
	r.rttVar = kInitialRtt / 2
}

// hasSample reports whether at least one real sample has been applied.
func (r *rttState) hasSample() bool {
	return !r.firstSampleTime.IsZero()
}

// updateSample applies one RTT sample observed at sendTime (now -
// latestRTT), with ackDelay the peer-reported, already max-ack-delay
// capped delay. Matches lib/src/recovery.c update_rtt exactly.
func (r *rttState) updateSample(now time.Time, latestRTT, ackDelay time.Duration) {
	r.latestRTT = latestRTT
	if !r.hasSample() {
		r.firstSampleTime = now
		r.minRTT = latestRTT
		r.smoothedRTT = latestRTT
		r.rttVar = latestRTT / 2
		return
	}
	if latestRTT < r.minRTT {
		r.minRTT = latestRTT
	}
	adj := latestRTT
	if latestRTT > r.minRTT+ackDelay {
		adj = latestRTT - ackDelay
	}
	diff := r.smoothedRTT - adj
	if diff < 0 {
		diff = -diff
	}
	r.rttVar = 3*r.rttVar/4 + diff/4
	r.smoothedRTT = 7*r.smoothedRTT/8 + adj/8
}

// lossDelay returns the time-threshold window used by loss detection:
// max(kGranularity, 9*max(latestRTT, smoothedRTT)/8).
func (r *rttState) lossDelay() time.Duration {
	base := r.latestRTT
	if r.smoothedRTT > base {
		base = r.smoothedRTT
	}
	d := base * timeThresholdNum / timeThresholdDen
	if d < kGranularity {
		return kGranularity
	}
	return d
}

// ptoPeriod returns the (pre pto_cnt-shift) PTO timeout: srtt +
// max(4*rttvar, kGranularity) + maxAckDelay, or 2*kInitialRtt with no
// sample yet.
func (r *rttState) ptoPeriod(maxAckDelay time.Duration) time.Duration {
	if !r.hasSample() {
		return 2 * kInitialRtt
	}
	rttvar4 := 4 * r.rttVar
	if rttvar4 < kGranularity {
		rttvar4 = kGranularity
	}
	return r.smoothedRTT + rttvar4 + maxAckDelay
}
