package quic

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds endpoint-wide tunables. Zero values are replaced by
// setDefaults with the transport's recommended defaults.
type Config struct {
	// IsClient selects client-side or server-side connection behavior.
	IsClient bool

	// SupportedVersions lists versions this endpoint will offer or accept,
	// in priority order (ok_vers[] in the original). The first entry is
	// the version offered first by a client.
	SupportedVersions []uint32

	// MaxUDPPayload bounds the size of a single outgoing datagram.
	MaxUDPPayload int

	// InitialIdleTimeout closes a connection that receives nothing for
	// this long.
	InitialIdleTimeout time.Duration

	// MaxAckDelay is the peer-advertised bound on how long a received
	// ACK's reported delay may be trusted for.
	MaxAckDelay time.Duration

	// Logger receives structured per-connection and per-endpoint events.
	// A nil Logger gets logrus.StandardLogger().
	Logger logrus.FieldLogger

	// Registerer, if non-nil, registers this endpoint's metrics collectors.
	Registerer MetricsRegisterer
}

const (
	defaultMaxUDPPayload      = 1452
	defaultInitialIdleTimeout = 30 * time.Second
	defaultMaxAckDelay        = 25 * time.Millisecond
)

func defaultVersions() []uint32 {
	return []uint32{0x00000001}
}

func (c *Config) setDefaults() {
	if len(c.SupportedVersions) == 0 {
		c.SupportedVersions = defaultVersions()
	}
	if c.MaxUDPPayload <= 0 {
		c.MaxUDPPayload = defaultMaxUDPPayload
	}
	if c.InitialIdleTimeout <= 0 {
		c.InitialIdleTimeout = defaultInitialIdleTimeout
	}
	if c.MaxAckDelay <= 0 {
		c.MaxAckDelay = defaultMaxAckDelay
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}
