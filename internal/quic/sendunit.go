package quic

// sendUnit replaces an in-place packet-number/length swap trick that
// retransmission logic might otherwise reach for, which leaves a caller
// unaware that a previously-published sentPacket got mutated under it.
//
// Each logical payload a stream wants delivered — a run of stream bytes,
// a control frame that must survive loss — is sent once, and may be
// retransmitted any number of times under new packet numbers. Every
// physical transmission gets its own sentPacket, keyed by its own packet
// number exactly as the registry requires, but all transmissions of the
// same payload share a *sendUnit. The first ACK of any transmission
// resolves the unit as acked; loss of transmissions never resolves it
// (markTransmissionLost only reports when every transmission so far is
// lost, so the payload can be sent again under the same unit). Resolving
// an already-resolved unit is a no-op, which is what
// gives "on_pkt_acked runs exactly once per logical transmission" (§8
// invariant 1) without rewriting already-published sentPacket values out
// from under a caller holding a reference to them.
type sendUnit struct {
	streamID int64
	isFin    bool

	resolved bool
	acked    bool

	transmissions []*sentPacket
	lostCount     int

	// onAcked, if set, runs the first time this unit resolves as acked.
	// Used to let the owning stream advance out_una and react to an
	// acked FIN without the recovery engine needing to know about
	// streams at all.
	onAcked func()
}

func newSendUnit(streamID int64, isFin bool) *sendUnit {
	return &sendUnit{streamID: streamID, isFin: isFin}
}

// attach records sp as a transmission of this logical unit.
func (u *sendUnit) attach(sp *sentPacket) {
	sp.unit = u
	u.transmissions = append(u.transmissions, sp)
}

// resolveAcked marks the unit acked if not already resolved, and reports
// whether this call was the one that resolved it (callers use this to
// decide whether to run acked-side effects, e.g. advancing out_una or
// transitioning a stream on an acked FIN).
func (u *sendUnit) resolveAcked() (firstResolution bool) {
	if u.resolved {
		return false
	}
	u.resolved = true
	u.acked = true
	if u.onAcked != nil {
		u.onAcked()
	}
	return true
}

// markTransmissionLost records that one transmission of this unit was
// declared lost, and reports whether every transmission sent so far is
// now lost (meaning the payload must be retransmitted again before it
// can be considered delivered, and the unit is not yet resolved).
func (u *sendUnit) markTransmissionLost() (allLost bool) {
	u.lostCount++
	return !u.resolved && u.lostCount >= len(u.transmissions)
}
