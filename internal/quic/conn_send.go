// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"time"
)

// tx implements §4.6 the egress pipeline. rtx selects retransmission-only
// mode (used by a PTO probe); limit caps the number of packets encoded,
// 0 meaning unlimited. Builds a packet for each stream that might have
// something to say and discards it if it turned out empty, rather than
// maintaining two code paths ("does this stream have data?" and "send
// the stream's data") that would drift out of sync.
func (ep *Endpoint) tx(now time.Time, c *Conn, rtx bool, limit int) {
	sent := 0
	didSend := false

	ids := c.orderedStreamIDs()
	for _, id := range ids {
		if limit > 0 && sent >= limit {
			break
		}
		s := c.stream(id)
		if s.unackedCount() > 0 {
			n := c.txStream(now, s, rtx, limit-sent)
			sent += n
			didSend = didSend || n > 0
			continue
		}
		if s.needsProbe() {
			if c.txOther(now, s, rtx) {
				sent++
				didSend = true
			}
		}
	}

	if !didSend {
		if c.txAckOnly(now) {
			sent++
			didSend = true
		}
	}

	if didSend {
		c.rearmLDTimer()
	}
	c.needsTx = false
}

// orderedStreamIDs returns stream IDs in ascending order, per §4.6 "for
// each stream in order of stream ID". Only streams already present in
// c.streams are listed; stream 0 is included only once it has been
// created, and tx's ACK-only fallback does not depend on it being listed.
func (c *Conn) orderedStreamIDs() []int64 {
	ids := make([]int64, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	// Simple insertion sort: stream counts per connection are small
	// (bounded by initial_max_stream_id), so this avoids pulling in
	// sort for a handful of elements on the hot egress path.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// txStream implements tx_stream: iterate outbound buffers from out_una,
// skip already-acked or TX-state-mismatched entries, encode the eligible
// ones, and record them with the recovery engine.
func (c *Conn) txStream(now time.Time, s *Stream, rtx bool, limit int) int {
	sent := 0
	space := spaceApplicationData
	if s.id < 0 {
		space = spaceInitial
	}

	for i := s.outUna; i < len(s.out) && (limit <= 0 || sent < limit); i++ {
		b := &s.out[i]
		if b.acked {
			continue
		}
		alreadyTxed := b.unit != nil
		if rtx && !alreadyTxed {
			continue
		}
		if !rtx && alreadyTxed {
			continue
		}

		sp := c.encodeAndSend(now, space, s.id, rtx, b.isFin)
		if sp == nil {
			break
		}
		if b.unit == nil {
			b.unit = newSendUnit(s.id, b.isFin)
			idx := i
			b.unit.onAcked = func() { s.markBufferAcked(idx) }
		}
		b.unit.attach(sp)
		sp.streamID = s.id
		sp.isFin = b.isFin
		sent++
	}
	return sent
}

// txOther implements tx_other: encode one packet for a stream with no
// unacked buffers that needs a flow-control update or, when half-closed
// with no FIN sent yet, a bare FIN. Only in the FIN case is a zero-payload
// buffer appended to the stream (after encoding, tracked by a sendUnit);
// a flow-control update appends no buffer.
func (c *Conn) txOther(now time.Time, s *Stream, rtx bool) bool {
	space := spaceApplicationData
	if s.id < 0 {
		space = spaceInitial
	}
	isFin := (s.state == streamHalfClosedLocal || s.state == streamHalfClosedRemote) && !s.finSent
	sp := c.encodeAndSend(now, space, s.id, rtx, isFin)
	if sp == nil {
		return false
	}
	if isFin {
		idx := len(s.out)
		unit := newSendUnit(s.id, true)
		unit.onAcked = func() { s.markBufferAcked(idx) }
		s.out = append(s.out, outBuf{isFin: true, unit: unit})
		unit.attach(sp)
	}
	s.needsFlowControlUpdate = false
	return true
}

// txAckOnly emits an ACK-only packet on stream 0 when nothing else was
// sent, per §4.6 "If nothing was sent, emit an ACK-only packet on stream 0."
func (c *Conn) txAckOnly(now time.Time) bool {
	return c.encodeAndSend(now, spaceApplicationData, 0, false, false) != nil
}

// encodeAndSend is the shared tail of txStream/txOther/txAckOnly: ask the
// frame codec for bytes, and if anything was produced, hand it to the
// socket and record it with the recovery engine.
func (c *Conn) encodeAndSend(now time.Time, space numberSpaceKind, streamID int64, rtx bool, isFin bool) *sentPacket {
	if c.ep.codec == nil || c.ep.socket == nil {
		return nil
	}

	buf := make([]byte, 0, c.ep.config.MaxUDPPayload)
	ns := c.loss.space(space)
	pnum := ns.nextPacketNumber
	ns.nextPacketNumber++

	out, kinds, ackEliciting, encodedFin := c.ep.codec.EncodeFrames(buf, c, streamID, rtx, c.ep.config.MaxUDPPayload)
	if appendAck, delay := c.wantsAckFrame(now, space); appendAck {
		out = c.ep.codec.EncodeAck(out, ns.received.ranges(), delay)
		kinds |= frameAck
	}
	if len(out) == 0 {
		ns.nextPacketNumber--
		return nil
	}

	sp := &sentPacket{
		num:          pnum,
		size:         len(out),
		ackEliciting: ackEliciting,
		inFlight:     ackEliciting,
		frameKinds:   kinds,
		isFin:        isFin || encodedFin,
	}
	if kinds&frameAck != 0 {
		if lo, ok := ns.received.min(); ok {
			hi, _ := ns.received.max()
			sp.hasAckedRange, sp.ackedRangeLo, sp.ackedRangeHi = true, lo, hi
		}
	}

	c.loss.packetSent(now, space, sp)
	c.ep.socket.Send([]Datagram{{Addr: c.peer.addr, Port: c.peer.port, Bytes: out}})
	return sp
}

// wantsAckFrame decides whether this packet should carry an ACK frame:
// there is anything to acknowledge in this space at all. A fuller
// implementation would rate-limit ACK-only packets; §4.6 only requires
// "emit an ACK-only packet", so this keeps the simplest policy that
// satisfies it.
func (c *Conn) wantsAckFrame(now time.Time, space numberSpaceKind) (bool, time.Duration) {
	ns := c.loss.space(space)
	if ns.received.empty() {
		return false, 0
	}
	return true, 0
}
