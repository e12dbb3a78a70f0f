package quic

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// connState is the per-connection lifecycle state §4.4 names.
type connState int

const (
	StateIdle connState = iota
	StateVersSent
	StateVersRej
	StateVersOK
	StateEstablished
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVersSent:
		return "vers-sent"
	case StateVersRej:
		return "vers-rej"
	case StateVersOK:
		return "vers-ok"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener receives side effects a Conn cannot perform itself: datagrams
// to submit to the socket layer and a signal that the handshake completed
// (the "connected signal to the accept-waiter" §4.4 names).
type Listener interface {
	SendDatagram(buf []byte, addr netip.AddrPort)
	ConnEstablished(c *Conn)
	ConnClosed(c *Conn, err error)
}

// Conn is a single QUIC connection: identity, negotiated version,
// lifecycle state, its streams, received-packet DIET, and recovery
// block, exclusively owned by the Endpoint that created it per §3's
// ownership summary.
type Conn struct {
	ep       *Endpoint
	isClient bool

	id      connID
	peer    peerKey
	traceID string

	state connState

	offeredVersions map[uint32]bool // every version this client has ever offered (design-note fix)
	triedVersion    uint32
	version         uint32
	clientPriority  []uint32 // client's own version preference order

	streams map[int64]*Stream

	loss *recoveryEngine
	tls  TLS
	rnd  randSource

	needsTx bool
	hadRx   bool
	lastRx  time.Time
	ldAlarm time.Time

	log logrus.FieldLogger
}

// randSource abstracts connection-ID generation so tests can supply a
// deterministic source; the Endpoint's caller supplies it to NewEndpoint
// (cmd/quantd passes an rs/xid-based source).
type randSource interface {
	Uint64() uint64
}

func newConn(ep *Endpoint, isClient bool, peer peerKey, tls TLS, rnd randSource) *Conn {
	tid := xid.New().String()
	c := &Conn{
		ep:              ep,
		isClient:        isClient,
		peer:            peer,
		traceID:         tid,
		state:           StateIdle,
		offeredVersions: make(map[uint32]bool),
		clientPriority:  append([]uint32(nil), ep.config.SupportedVersions...),
		streams:         make(map[int64]*Stream),
		tls:             tls,
		rnd:             rnd,
		lastRx:          time.Now(),
		log:             ep.config.Logger.WithField("conn", tid),
	}
	c.loss = newRecoveryEngine(ep.config.MaxUDPPayload, ep.config.MaxAckDelay, ep.metrics)
	c.tls.Init(isClient)
	return c
}

func (c *Conn) stream(id int64) *Stream {
	s, ok := c.streams[id]
	if !ok {
		s = newStream(id)
		c.streams[id] = s
	}
	return s
}

func (c *Conn) transitionTo(now time.Time, s connState) {
	if c.state == s {
		return
	}
	c.log.WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   s.String(),
	}).Debug("state transition")
	c.state = s
	if s == StateEstablished {
		c.loss.addressValidated = true
		if c.ep.listener != nil {
			c.ep.listener.ConnEstablished(c)
		}
	}
}

// processPacket implements §4.4 process_packet: the connection-level
// dispatch for one decoded (and, unless VNeg, decrypted) packet.
func (c *Conn) processPacket(now time.Time, hdr packetHeader, payload []byte) error {
	switch c.state {
	case StateIdle, StateVersRej:
		return c.processServerHello(now, hdr, payload)
	case StateVersSent:
		return c.processVersSentResponse(now, hdr, payload)
	case StateVersOK:
		return c.processVersOK(now, hdr, payload)
	case StateEstablished, StateClosed:
		return c.processEstablished(now, hdr, payload)
	default:
		return fmt.Errorf("quic: unreachable state %v: %w", c.state, ErrInvariantViolation)
	}
}

// processServerHello implements the Idle/VersRej (server) path.
func (c *Conn) processServerHello(now time.Time, hdr packetHeader, payload []byte) error {
	if hdr.datagramLen < MinInitialLen || !hdr.isLongHeader {
		return fmt.Errorf("initial packet too short or not long-header: %w", ErrMalformedDatagram)
	}
	c.recordReceived(now, hdr)

	if isForceNegotiationVersion(hdr.version) || !c.versionSupported(hdr.version) {
		c.transitionTo(now, StateVersRej)
		if c.ep.metrics != nil {
			c.ep.metrics.versionRejections.Inc()
		}
		c.needsTx = true
		c.log.WithField("version", fmt.Sprintf("0x%08x", hdr.version)).
			Debug("rejecting version, scheduling version negotiation")
		return nil
	}

	c.version = hdr.version
	c.id = connID(c.rnd.Uint64())
	c.ep.table.insertByCID(c.id, c.isClient, c)
	c.tls.Init(c.isClient)
	if err := c.driveHandshake(now, nil); err != nil {
		return err
	}
	return c.decodeFrames(now, hdr.space, payload)
}

func (c *Conn) versionSupported(v uint32) bool {
	for _, ok := range c.ep.config.SupportedVersions {
		if ok == v {
			return true
		}
	}
	return false
}

// processVersSentResponse implements the VersSent (client) path,
// including the design-note fix: a VNeg is accepted if its tried-version
// field matches ANY version this client has ever offered, not only the
// current one.
func (c *Conn) processVersSentResponse(now time.Time, hdr packetHeader, payload []byte) error {
	if hdr.isLongHeader && hdr.isVNeg {
		if !c.offeredVersions[hdr.triedVersion] {
			return fmt.Errorf("VNeg correlates to unknown tried version: %w", ErrVersionMismatch)
		}
		chosen, ok := c.pickFromServerVersions(hdr.serverVersions)
		if !ok {
			c.transitionTo(now, StateClosed)
			return fmt.Errorf("no common version with peer: %w", ErrVersionMismatch)
		}
		c.resetForVersionRetry(now, chosen)
		return nil
	}
	// Server accepted our offered version.
	c.transitionTo(now, StateVersOK)
	c.recordReceived(now, hdr)
	return c.decodeFrames(now, hdr.space, payload)
}

// pickFromServerVersions scans the server's list using the CLIENT's
// priority order: first client-listed match wins.
func (c *Conn) pickFromServerVersions(serverVersions []uint32) (uint32, bool) {
	for _, want := range c.clientPriority {
		for _, have := range serverVersions {
			if want == have {
				return want, true
			}
		}
	}
	return 0, false
}

// resetForVersionRetry implements the VNeg-retry side effects: reset
// TLS, drop all previously sent packets and their in-flight accounting,
// truncate stream 0 output, regenerate ClientHello, arm needsTx.
func (c *Conn) resetForVersionRetry(now time.Time, newVersion uint32) {
	c.version = newVersion
	c.offeredVersions[newVersion] = true
	c.triedVersion = newVersion

	c.loss = newRecoveryEngine(c.ep.config.MaxUDPPayload, c.ep.config.MaxAckDelay, c.ep.metrics)
	c.tls.Init(c.isClient)

	if s, ok := c.streams[0]; ok {
		s.out = s.out[:0]
		s.outUna = 0
		s.in = s.in[:0]
		s.inUna = 0
	}
	if err := c.driveHandshake(now, nil); err != nil {
		c.log.WithError(err).Warn("tls handshake restart failed")
	}

	c.transitionTo(now, StateVersSent)
	c.needsTx = true
	c.log.WithField("version", fmt.Sprintf("0x%08x", newVersion)).Info("retrying handshake under new version")
}

// processVersOK implements the VersOK path: any non-long-header packet,
// or a long-header packet of type >= ClntCtxt, completes the handshake.
func (c *Conn) processVersOK(now time.Time, hdr packetHeader, payload []byte) error {
	c.recordReceived(now, hdr)
	if err := c.decodeFrames(now, hdr.space, payload); err != nil {
		return err
	}
	if !hdr.isLongHeader || hdr.lhType >= flagLHClntCtxt {
		c.transitionTo(now, StateEstablished)
	}
	return nil
}

func (c *Conn) processEstablished(now time.Time, hdr packetHeader, payload []byte) error {
	c.recordReceived(now, hdr)
	return c.decodeFrames(now, hdr.space, payload)
}

// recordReceived inserts the packet number into the connection's
// received-interval set, used to build ACK frames (§4.4: "All
// transitions record the packet number in the received interval set").
func (c *Conn) recordReceived(now time.Time, hdr packetHeader) {
	sp := c.loss.space(hdr.space)
	sp.received.insert(uint64(hdr.num), now)
}

func (c *Conn) decodeFrames(now time.Time, space numberSpaceKind, payload []byte) error {
	if c.ep.codec == nil {
		return nil
	}
	ranges, err := c.ep.codec.DecodeFrames(c, payload)
	if err != nil {
		return err
	}
	if err := c.feedHandshakeStream(now); err != nil {
		return err
	}
	if len(ranges) == 0 {
		return nil
	}
	var largest PacketNumber
	for _, r := range ranges {
		if r[1] > largest {
			largest = r[1]
		}
	}
	c.handleAckFrame(now, space, ranges, largest, 0)
	return nil
}

// offerVersion records a client-offered version prior to sending the
// Initial packet that carries it, so a later VNeg can be correlated
// against it by processVersSentResponse.
func (c *Conn) offerVersion(v uint32) {
	c.offeredVersions[v] = true
	c.triedVersion = v
	c.version = v
}

// DeliverStreamData is the callback boundary a FrameCodec uses while
// parsing STREAM frames out of a packet's payload (DecodeFrames' "stream
// data delivery" dispatch, iface.go): it appends data to the addressed
// stream's inbound buffer. Stream 0's bytes are not handed to the TLS
// handshake here, since a codec may deliver several STREAM frames out of
// one packet; feedHandshakeStream picks up everything queued once
// DecodeFrames returns.
func (c *Conn) DeliverStreamData(streamID int64, data []byte, fin bool) {
	s := c.stream(streamID)
	s.in = append(s.in, data...)
	if fin {
		s.onFinReceived()
	}
}

// feedHandshakeStream drives the TLS handshake forward with whatever
// stream-0 bytes DeliverStreamData queued during the DecodeFrames call
// decodeFrames just made (tls_handshake(stream0), §6).
func (c *Conn) feedHandshakeStream(now time.Time) error {
	s, ok := c.streams[0]
	if !ok || s.inUna >= len(s.in) {
		return nil
	}
	rx := s.in[s.inUna:]
	s.inUna = len(s.in)
	return c.driveHandshake(now, rx)
}

// driveHandshake advances the TLS handshake and queues any bytes it
// produces onto stream 0's outbound buffer. rx is nil when driving the
// handshake's first flight: at connection creation (processServerHello)
// or after a version-negotiation retry reset (resetForVersionRetry).
func (c *Conn) driveHandshake(now time.Time, rx []byte) error {
	tx, _, err := c.tls.Handshake(rx)
	if err != nil {
		return fmt.Errorf("quic: tls handshake: %w", err)
	}
	if len(tx) > 0 {
		c.stream(0).queueOutput(tx)
		c.needsTx = true
	}
	return nil
}
