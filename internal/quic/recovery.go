package quic

import "time"

// numberSpaceKind identifies one of the three independent packet-number
// sequences a connection maintains.
type numberSpaceKind int

const (
	spaceInitial numberSpaceKind = iota
	spaceHandshake
	spaceApplicationData
	numberSpaceCount
)

func (k numberSpaceKind) String() string {
	switch k {
	case spaceInitial:
		return "initial"
	case spaceHandshake:
		return "handshake"
	case spaceApplicationData:
		return "application"
	default:
		return "unknown"
	}
}

// numberSpace holds the per-space state named in §3: its sent-packet
// registry, its received-packet DIET (for ACK generation), the largest
// acknowledged number, pending loss time, and the last ack-eliciting send
// time used by the PTO alarm.
type numberSpace struct {
	kind numberSpaceKind

	sent     *sentPacketRegistry
	received diet

	hasLargestAcked bool
	largestAcked    PacketNumber

	lossTime                 time.Time // zero if none pending
	lastAckElicitingSendTime time.Time
	nextPacketNumber         PacketNumber

	abandoned bool
}

func newNumberSpace(kind numberSpaceKind) *numberSpace {
	return &numberSpace{kind: kind, sent: newSentPacketRegistry()}
}

// recoveryEngine is the connection's recovery block (§3 "Recovery
// state"), owning RTT estimation, the NewReno controller, one numberSpace
// per packet-number space, and the PTO alarm bookkeeping. Grounded
// throughout on lib/src/recovery.c, with the per-space/controller split
// following golang.org/x/net/internal/quic's lossState plus ccReno split
// and quic-go's ackhandler sentPacketHandler for the PTO arm-time
// derivation.
type recoveryEngine struct {
	spaces [numberSpaceCount]*numberSpace
	rtt    rttState
	cc     *newRenoCC

	ptoCount    int
	maxAckDelay time.Duration
	maxPktSize  int

	// haveAppKeys gates the anti-deadlock single-probe PTO branch
	// (on_ld_timeout's "application keys are not available yet" case).
	haveAppKeys bool

	// addressValidated models "peer is not awaiting address validation":
	// true once we've received an ACK in Initial or Handshake (client),
	// or, for a server, once the handshake completes.
	addressValidated bool

	metrics *endpointMetrics
}

func newRecoveryEngine(maxPktSize int, maxAckDelay time.Duration, metrics *endpointMetrics) *recoveryEngine {
	e := &recoveryEngine{
		cc:          newNewRenoCC(maxPktSize),
		maxAckDelay: maxAckDelay,
		maxPktSize:  maxPktSize,
		metrics:     metrics,
	}
	e.rtt.init()
	for i := range e.spaces {
		e.spaces[i] = newNumberSpace(numberSpaceKind(i))
	}
	return e
}

func (e *recoveryEngine) space(k numberSpaceKind) *numberSpace {
	return e.spaces[k]
}

// packetSent records a newly transmitted packet: on_pkt_sent.
func (e *recoveryEngine) packetSent(now time.Time, k numberSpaceKind, sp *sentPacket) {
	sp.sentAt = now
	s := e.space(k)
	s.sent.insert(sp)
	if sp.ackEliciting {
		s.lastAckElicitingSendTime = now
	}
	if sp.inFlight {
		e.cc.packetSent(sp.size)
	}
	if e.metrics != nil {
		e.metrics.packetsSent.Inc()
		e.metrics.bytesInFlight.Set(float64(e.totalBytesInFlight()))
	}
}

func (e *recoveryEngine) totalBytesInFlight() int {
	var n int
	for _, s := range e.spaces {
		n += s.sent.bytesInFlight()
	}
	return n
}

// ackResult summarizes the side effects of processing one ACK frame, for
// the caller (conn.go's frame dispatch) to act on: the sentPackets this
// frame newly acknowledged.
type ackResult struct {
	newlyAcked []*sentPacket
}

// onAckReceived implements §4.7 "ACK processing". ranges lists the
// closed packet-number ranges [lo,hi] the peer reports received, in any
// order; largest is the largest acknowledged number in the frame;
// ackDelay is the peer-reported delay; this function uses 0 instead
// outside the ApplicationData space and caps it at maxAckDelay.
func (e *recoveryEngine) onAckReceived(now time.Time, k numberSpaceKind, ranges [][2]PacketNumber, largest PacketNumber, ackDelay time.Duration) ackResult {
	s := e.space(k)
	if !s.hasLargestAcked || largest > s.largestAcked {
		s.largestAcked = largest
		s.hasLargestAcked = true
	}

	var res ackResult
	var largestNewlyAckedEliciting bool
	var latestRTT time.Duration
	haveRTTSample := false

	for _, r := range ranges {
		for n := r[0]; n <= r[1]; n++ {
			sp, ok := s.sent.lookup(n)
			if !ok {
				continue
			}
			if n == largest && sp.ackEliciting {
				largestNewlyAckedEliciting = true
				latestRTT = now.Sub(sp.sentAt)
				haveRTTSample = true
			}
			e.onPacketAcked(now, k, sp)
			res.newlyAcked = append(res.newlyAcked, sp)
		}
	}

	if largestNewlyAckedEliciting && haveRTTSample {
		delay := ackDelay
		if k != spaceApplicationData {
			delay = 0
		}
		if delay > e.maxAckDelay {
			delay = e.maxAckDelay
		}
		e.rtt.updateSample(now, latestRTT, delay)
	}

	if k == spaceInitial || k == spaceHandshake {
		if len(res.newlyAcked) > 0 {
			e.addressValidated = true
		}
	}

	e.detectLoss(now, k)
	e.ptoCount = 0
	return res
}

// onPacketAcked implements on_pkt_acked: mark acked, remove from the
// registry, resolve its sendUnit (exactly once per logical transmission,
// per the RTX-chain redesign in sendunit.go), and feed the congestion
// controller.
func (e *recoveryEngine) onPacketAcked(now time.Time, k numberSpaceKind, sp *sentPacket) {
	s := e.space(k)
	s.sent.delete(sp.num)

	if sp.unit != nil {
		sp.unit.resolveAcked()
	}

	if sp.inFlight {
		e.cc.packetAcked(sp.sentAt, sp.size)
	}

	if sp.frameKinds&frameAck != 0 && sp.hasAckedRange {
		s.received.removeRange(sp.ackedRangeLo, sp.ackedRangeHi)
	}
}

// detectLoss implements §4.7 "Loss detection" for one space: detect_lost_pkts.
func (e *recoveryEngine) detectLoss(now time.Time, k numberSpaceKind) {
	s := e.space(k)
	if !s.hasLargestAcked {
		return
	}
	lossDelay := e.rtt.lossDelay()
	lostSendTimeThreshold := now.Add(-lossDelay)

	s.lossTime = time.Time{}
	var lostNums []PacketNumber
	var largestLostSendTime time.Time
	var lostAnyInFlight bool

	s.sent.ascending(func(sp *sentPacket) {
		if sp.num > s.largestAcked {
			return
		}
		lost := !sp.sentAt.After(lostSendTimeThreshold) ||
			int64(s.largestAcked)-int64(sp.num) >= kPacketThreshold
		if !lost {
			candidate := sp.sentAt.Add(lossDelay)
			if s.lossTime.IsZero() || candidate.Before(s.lossTime) {
				s.lossTime = candidate
			}
			return
		}
		lostNums = append(lostNums, sp.num)
		if sp.sentAt.After(largestLostSendTime) {
			largestLostSendTime = sp.sentAt
		}
		if sp.inFlight {
			lostAnyInFlight = true
		}
	})

	for _, n := range lostNums {
		sp, ok := s.sent.lookup(n)
		if !ok {
			continue
		}
		s.sent.delete(n)
		if sp.inFlight {
			e.cc.packetDiscarded(sp.size)
		}
		if sp.unit != nil {
			sp.unit.markTransmissionLost()
		}
		if e.metrics != nil {
			e.metrics.packetsLost.Inc()
		}
	}

	if lostAnyInFlight {
		e.cc.congestionEvent(now, largestLostSendTime)
	}
}

// setLDTimer implements set_ld_timer, returning the time the loss
// detection/PTO alarm should next fire, and false if it should be
// disarmed.
func (e *recoveryEngine) setLDTimer() (time.Time, bool) {
	var earliestLoss time.Time
	for _, s := range e.spaces {
		if s.lossTime.IsZero() {
			continue
		}
		if earliestLoss.IsZero() || s.lossTime.Before(earliestLoss) {
			earliestLoss = s.lossTime
		}
	}
	if !earliestLoss.IsZero() {
		return earliestLoss, true
	}

	if e.ackElicitingInFlightAnySpace() == 0 && e.addressValidated {
		return time.Time{}, false
	}

	to := e.rtt.ptoPeriod(e.maxAckDelay)
	for i := 0; i < e.ptoCount; i++ {
		to *= 2
	}

	var lastAE time.Time
	for _, s := range e.spaces {
		if s.abandoned {
			continue
		}
		if s.lastAckElicitingSendTime.IsZero() {
			continue
		}
		if lastAE.IsZero() || s.lastAckElicitingSendTime.Before(lastAE) {
			lastAE = s.lastAckElicitingSendTime
		}
	}
	if lastAE.IsZero() {
		return time.Time{}, false
	}
	return lastAE.Add(to), true
}

func (e *recoveryEngine) ackElicitingInFlightAnySpace() int {
	var n int
	for _, s := range e.spaces {
		n += s.sent.ackElicitingInFlight()
	}
	return n
}

// ptoOutcome tells the caller how many probe packets to send and whether
// congestion-controlled loss detection ran, per on_ld_timeout.
type ptoOutcome struct {
	TXLimit         int
	CongestionAware bool
}

// onLDTimeout implements on_ld_timeout.
func (e *recoveryEngine) onLDTimeout(now time.Time) ptoOutcome {
	var anyLossPending bool
	for _, s := range e.spaces {
		if !s.lossTime.IsZero() {
			anyLossPending = true
		}
	}

	var out ptoOutcome
	switch {
	case anyLossPending:
		for k := range e.spaces {
			e.detectLoss(now, numberSpaceKind(k))
		}
		out = ptoOutcome{TXLimit: 0, CongestionAware: true}
	case !e.haveAppKeys:
		out = ptoOutcome{TXLimit: 1, CongestionAware: false}
	default:
		out = ptoOutcome{TXLimit: 2, CongestionAware: false}
	}
	e.ptoCount++
	if e.metrics != nil {
		e.metrics.ptoFirings.Inc()
	}
	return out
}

// discardSpace abandons a packet-number space (handshake confirmed,
// keys discarded): removes its in-flight accounting and marks it
// abandoned so it no longer contributes to the PTO alarm.
func (e *recoveryEngine) discardSpace(k numberSpaceKind) {
	s := e.space(k)
	s.sent.ascending(func(sp *sentPacket) {
		if sp.inFlight {
			e.cc.packetDiscarded(sp.size)
		}
	})
	s.sent = newSentPacketRegistry()
	s.abandoned = true
	s.lossTime = time.Time{}
}
