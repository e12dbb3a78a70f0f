package quic

import (
	"net/netip"
	"time"
)

// Datagram is one received or about-to-be-sent UDP payload together with
// its peer address, as handed across the Socket boundary (§6).
type Datagram struct {
	Addr  netip.Addr
	Port  uint16
	Bytes []byte
}

// Socket is the external UDP I/O collaborator §6 names: "rx(socket) →
// list<datagram>" and "tx(socket, chain)". The core never opens a socket
// or owns timers directly; it is driven by whatever loop calls these.
type Socket interface {
	// Receive drains all pending datagrams in one pass, matching rx's
	// "drains all pending datagrams from the I/O layer in one pass"
	// contract.
	Receive() ([]Datagram, error)

	// Send submits a chain of datagrams for transmission.
	Send(dgrams []Datagram) error

	// MaxUDPPayload returns the per-address-family default payload
	// ceiling (max_udp_payload(socket)).
	MaxUDPPayload() int
}

// TLS is the external cryptographic-record-layer collaborator §6 names.
// AEAD encrypt/decrypt, key derivation, and the handshake transcript
// itself are out of scope for this package; Conn drives the handshake
// purely through this interface.
type TLS interface {
	// Init resets handshake state for a (re)start, e.g. on a
	// version-negotiation retry.
	Init(isClient bool)

	// Handshake advances the handshake, consuming bytes received on the
	// crypto stream and producing bytes to send on it. It reports
	// whether the handshake has completed.
	Handshake(rx []byte) (tx []byte, done bool, err error)

	// DecryptAEAD decrypts hdr||payload in place given the header length,
	// returning the unprotected payload length, or false on failure
	// (dec_aead returning 0).
	DecryptAEAD(buf []byte, hdrLen int) (n int, ok bool)

	// EncryptAEAD protects a packet in place analogous to DecryptAEAD.
	EncryptAEAD(buf []byte, hdrLen int) []byte

	// RandomBytes fills dst with CSPRNG output (random_bytes).
	RandomBytes(dst []byte)
}

// FrameCodec is the external wire-format collaborator §6 names:
// enc_pkt/dec_frames plus the header-field accessors. The core only
// needs to know which frame KINDS a decoded payload contained and what
// stream data/ACK ranges/control signals resulted; byte-level framing
// detail is the codec's problem.
type FrameCodec interface {
	// EncodeFrames serializes whatever frames are available for
	// streamID into buf (enc_pkt), returning the encoded bytes, the
	// frame-kind bitset written, and whether the encoded packet is
	// ack-eliciting. rtx selects retransmission-eligible data only.
	EncodeFrames(buf []byte, conn *Conn, streamID int64, rtx bool, limit int) (out []byte, kinds FrameKind, ackEliciting bool, isFin bool)

	// EncodeAck serializes an ACK frame over the given ranges plus a
	// scaled ack delay.
	EncodeAck(buf []byte, ranges []Interval, delay time.Duration) []byte

	// DecodeFrames parses frames out of payload and dispatches them to
	// conn (dec_frames): stream data delivery via conn.DeliverStreamData,
	// ACK processing, control frames. It returns the packet-number ranges
	// carried by any ACK frame found, which the caller feeds to the
	// recovery engine as the peer's acknowledgement of this connection's
	// sent packets (Conn.handleAckFrame).
	DecodeFrames(conn *Conn, payload []byte) (ackedRanges [][2]PacketNumber, err error)
}
