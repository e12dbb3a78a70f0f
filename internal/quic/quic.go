// Package quic implements the core packet-processing, state-machine, and
// loss-recovery pipeline of a QUIC endpoint.
//
// The cryptographic record layer, wire-format frame codec, and UDP I/O
// subsystem are treated as external collaborators and consumed through the
// interfaces in iface.go; this package owns connection lifecycle, packet
// number spaces, the DIET interval set backing ACK generation, and the
// recovery/congestion-control engine.
package quic

import "time"

// Protocol constants. Bit-exact per the transport's wire requirements.
const (
	// MinInitialLen is the minimum permitted size of a client Initial packet.
	MinInitialLen = 1200

	// MaxPacketLen is the largest datagram this endpoint will accept.
	MaxPacketLen = 65527

	flagLongHeader  = 0x80
	flagLHTypeMask  = 0x30
	flagLHTypeVNeg  = 0x00 // version field 0 identifies a VNeg packet regardless of type bits
	flagLHClntCtxt  = 0x10 // long-header type parseHeader maps to the Handshake space; this type and above complete the handshake in VersOK
	flagShortHeader = 0x00
	flagSHConnID    = 0x40

	forceNegotiationMask   = 0x0f0f0f0f
	forceNegotiationSignal = 0x0a0a0a0a

	initialMaxData       = 0xFFFF
	initialMaxStreamData = 0x1000
	initialMaxStreamID   = 0xFF
)

// Recovery constants, RFC 9002-derived, matching the values the original
// C recovery engine and its Go-ecosystem analogs (golang.org/x/net/internal/quic,
// quic-go's ackhandler) all converge on.
const (
	kGranularity          = time.Millisecond
	kPacketThreshold      = 3
	kLossReductionDivisor = 2
	kInitialRtt           = 333 * time.Millisecond
	timeThresholdNum      = 9
	timeThresholdDen      = 8
)

func isForceNegotiationVersion(v uint32) bool {
	return v&forceNegotiationMask == forceNegotiationSignal
}

// kMinimumWindow returns the floor the congestion window is never allowed
// to shrink below, per RFC 9002 §7.2.
func kMinimumWindow(mss int) int {
	return 2 * mss
}

// kInitialWindow returns RFC 9002 §7.2's initial congestion window.
func kInitialWindow(mss int) int {
	w := 10 * mss
	floor := 2 * mss
	if floor < 14720 {
		floor = 14720
	}
	if w < floor {
		return w
	}
	return floor
}
