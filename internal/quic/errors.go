package quic

import "errors"

// Error taxonomy. Datagram- and frame-level errors are confined to the
// offending datagram (ingress logs and drops); connection-fatal errors
// close the connection; ErrInvariantViolation indicates a bug in this
// package rather than peer misbehavior.
var (
	ErrMalformedDatagram  = errors.New("quic: malformed datagram")
	ErrDecryptFailed      = errors.New("quic: aead decryption failed")
	ErrVersionMismatch    = errors.New("quic: no common version with peer")
	ErrUnknownConnection  = errors.New("quic: no connection or accept waiter for datagram")
	ErrInvariantViolation = errors.New("quic: internal invariant violation")
	ErrIdleTimeout        = errors.New("quic: idle timeout")
	ErrConnectionClosed   = errors.New("quic: connection closed")
)
