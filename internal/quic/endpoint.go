package quic

import (
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
)

// Endpoint owns the connection table, socket, TLS and frame-codec
// collaborators, and metrics for one QUIC endpoint (client or server
// role is per-Conn, since a client endpoint may dial many connections
// and a server endpoint accepts many). Grounded on
// golang.org/x/net/internal/quic's Endpoint (endpoint.go): a single
// owned connsMap plus a listen/handleDatagram loop, generalized here to
// hold both indexes connTable (§4.3) specifies — by peer address and by
// connection ID — instead of x/net's byConnID/byResetToken pair.
type Endpoint struct {
	config Config
	table  *connTable
	socket Socket
	codec  FrameCodec
	tls    TLSFactory

	listener Listener
	metrics  *endpointMetrics

	rnd randSource

	log logrus.FieldLogger
}

// TLSFactory constructs a fresh TLS collaborator for a new connection;
// production wiring supplies one backed by crypto/tls, tests supply a
// stub.
type TLSFactory interface {
	New() TLS
}

// NewEndpoint constructs an Endpoint. socket, codec, and tlsFactory are
// the external collaborators named in §6; listener receives
// connection-established/closed/datagram-send callbacks.
func NewEndpoint(config Config, socket Socket, codec FrameCodec, tlsFactory TLSFactory, listener Listener, rnd randSource) *Endpoint {
	config.setDefaults()
	ep := &Endpoint{
		config:   config,
		table:    newConnTable(),
		socket:   socket,
		codec:    codec,
		tls:      tlsFactory,
		listener: listener,
		metrics:  newEndpointMetrics(config.Registerer),
		rnd:      rnd,
		log:      config.Logger,
	}
	return ep
}

// Dial creates a client connection and marks it ready to send its first
// Initial packet under the client's highest-priority version.
func (ep *Endpoint) Dial(addr netip.Addr, port uint16) *Conn {
	peer := peerKey{addr: addr, port: port, isClient: true}
	c := newConn(ep, true, peer, ep.tls.New(), ep.rnd)
	ep.table.insertByPeer(peer, c)
	ep.metrics.connectionsTotal.Inc()
	ep.metrics.connectionsActive.Set(float64(ep.table.count() + len(ep.table.byPeer)))
	v := ep.config.SupportedVersions[0]
	c.offerVersion(v)
	c.transitionTo(time.Now(), StateVersSent)
	c.needsTx = true
	return c
}

// AcceptWaiter installs the "unbound" server slot (peerKey{}) §4.5 step 3
// describes: the first Initial received from any new peer binds to it.
func (ep *Endpoint) AcceptWaiter() *Conn {
	peer := peerKey{}
	c := newConn(ep, false, peer, ep.tls.New(), ep.rnd)
	ep.table.insertByPeer(peer, c)
	return c
}

// Rx implements §4.5 the ingress pipeline: drains all pending datagrams
// in one pass, routes, decrypts, and dispatches each to the state
// machine, then runs the post-batch idle-timer/egress pass.
func (ep *Endpoint) Rx(now time.Time) error {
	dgrams, err := ep.socket.Receive()
	if err != nil {
		return err
	}

	hadRxBatch := make(map[*Conn]bool)

	for _, dg := range dgrams {
		if len(dg.Bytes) > MaxPacketLen {
			ep.log.WithError(ErrMalformedDatagram).Debug("dropping datagram")
			continue
		}
		hdr, _, ok := parseHeader(dg.Bytes)
		if !ok {
			ep.log.WithError(ErrMalformedDatagram).Debug("dropping datagram")
			continue
		}

		c := ep.route(dg, hdr)
		if c == nil {
			ep.log.WithError(ErrUnknownConnection).Debug("dropping datagram")
			continue
		}

		payload := dg.Bytes[hdr.hdrLen:]
		if !hdr.isVNeg {
			n, ok := c.tls.DecryptAEAD(dg.Bytes, hdr.hdrLen)
			if !ok {
				c.log.WithError(ErrDecryptFailed).Debug("dropping datagram")
				continue
			}
			payload = dg.Bytes[hdr.hdrLen : hdr.hdrLen+n]
		}

		c.hadRx = true
		c.lastRx = now
		hadRxBatch[c] = true

		if err := c.processPacket(now, hdr, payload); err != nil {
			c.log.WithError(err).Debug("dropping packet")
		}
	}

	for c := range hadRxBatch {
		if c.needsTx {
			ep.tx(now, c, false, 0)
		}
	}
	ep.checkIdleTimeouts(now)
	return nil
}

// checkIdleTimeouts implements the idle timeout of §5's cancellation rules:
// a connection that has gone InitialIdleTimeout without receiving
// anything is closed and reported to the listener as ErrIdleTimeout. Runs
// once per Rx batch rather than on its own timer, consistent with this
// package's rule that nothing but the caller of Rx drives time forward.
func (ep *Endpoint) checkIdleTimeouts(now time.Time) {
	ep.table.forEach(func(c *Conn) {
		if c.state == StateClosed || !c.peer.addr.IsValid() {
			return
		}
		if now.Sub(c.lastRx) < ep.config.InitialIdleTimeout {
			return
		}
		c.transitionTo(now, StateClosed)
		c.log.WithError(ErrIdleTimeout).Info("connection idle timeout")
		if ep.listener != nil {
			ep.listener.ConnClosed(c, ErrIdleTimeout)
		}
	})
}

// route implements §4.5 step 2-3: derive the routing key and bind an
// accept-waiter on first contact.
func (ep *Endpoint) route(dg Datagram, hdr packetHeader) *Conn {
	if hdr.isLongHeader || (hdr.hasCID) {
		if c, ok := ep.table.lookupByCID(hdr.cid, false); ok {
			return c
		}
		if c, ok := ep.table.lookupByCID(hdr.cid, true); ok {
			return c
		}
	} else {
		key := peerKey{addr: dg.Addr, port: dg.Port, isClient: false}
		if c, ok := ep.table.lookupByPeer(key); ok {
			return c
		}
		key.isClient = true
		if c, ok := ep.table.lookupByPeer(key); ok {
			return c
		}
	}

	if !hdr.isLongHeader {
		return nil
	}
	waiter, ok := ep.table.lookupByPeer(peerKey{})
	if !ok {
		return nil
	}
	newKey := peerKey{addr: dg.Addr, port: dg.Port, isClient: false}
	ep.table.rebindPeer(peerKey{}, newKey, waiter)
	waiter.peer = newKey
	ep.metrics.connectionsTotal.Inc()
	ep.AcceptWaiter() // replace the consumed accept slot
	return waiter
}
