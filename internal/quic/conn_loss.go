// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import "time"

// handleAckFrame implements §4.7 "ACK processing" for one decoded ACK
// frame: feed the reported ranges to the recovery engine for the
// packet's own number space, which resolves each newly-acked
// sentPacket's sendUnit exactly once (sendunit.go), runs loss detection,
// and resets pto_cnt.
//
// A retransmission chain's multiple physical transmissions all point at
// one sendUnit; whichever transmission is acked or declared lost first
// resolves that unit, and resolution is idempotent so a later ACK or
// loss covering a sibling transmission is a no-op.
func (c *Conn) handleAckFrame(now time.Time, space numberSpaceKind, ranges [][2]PacketNumber, largest PacketNumber, ackDelay time.Duration) {
	c.loss.onAckReceived(now, space, ranges, largest, ackDelay)
	c.rearmLDTimer()
}

// handlePTOTimeout implements on_ld_timeout (§4.7 "PTO alarm"): run loss
// detection (and possibly congestion-controlled retransmission) or emit
// one or two anti-deadlock probes, then re-arm the alarm.
func (c *Conn) handlePTOTimeout(now time.Time) {
	outcome := c.loss.onLDTimeout(now)
	if outcome.TXLimit == 0 {
		// A pending loss was detected and already processed inside
		// onLDTimeout; trigger a normal, congestion-controlled
		// transmission to act on it.
		c.ep.tx(now, c, false, 0)
	} else {
		c.ep.tx(now, c, true, outcome.TXLimit)
	}
	c.rearmLDTimer()
}

func (c *Conn) rearmLDTimer() {
	if at, armed := c.loss.setLDTimer(); armed {
		c.ldAlarm = at
	} else {
		c.ldAlarm = time.Time{}
	}
}
