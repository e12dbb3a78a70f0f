// Command quantd runs a bare QUIC endpoint: it accepts connections,
// drives version negotiation and the recovery engine, and exports
// Prometheus metrics. The wire-format frame codec and TLS record layer
// are out of scope for the core package, so this binary wires in
// no-op stand-ins — enough to exercise the endpoint's packet-routing
// and state-machine plumbing end to end, not a usable QUIC server.
package main

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/moonfalir/quant/internal/quic"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quantd",
		Short: "quantd runs a QUIC endpoint",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		listenAddr  string
		metricsAddr string
		logLevel    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "listen for QUIC connections on a UDP socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listenAddr, metricsAddr, logLevel)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "0.0.0.0:4433", "UDP address to listen on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9433", "address to serve Prometheus metrics on")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")
	return cmd
}

func runServe(listenAddr, metricsAddr, logLevel string) error {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("quantd: %w", err)
	}
	log.SetLevel(lvl)

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("quantd: resolving %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("quantd: listening on %q: %w", listenAddr, err)
	}
	defer conn.Close()

	registry := prometheus.NewRegistry()
	cfg := quic.Config{
		IsClient:   false,
		Logger:     log,
		Registerer: registry,
	}

	sock := &udpSocket{conn: conn, log: log}
	listener := &loggingListener{sock: sock, log: log}
	ep := quic.NewEndpoint(cfg, sock, nopCodec{}, nopTLSFactory{}, listener, xidRand{})
	ep.AcceptWaiter()

	log.WithField("addr", conn.LocalAddr()).Info("quantd listening")

	go serveMetrics(metricsAddr, registry, log)

	for {
		if err := ep.Rx(time.Now()); err != nil {
			log.WithError(err).Warn("rx error")
		}
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	log.WithField("addr", addr).Info("quantd metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server exited")
	}
}

// udpSocket adapts a *net.UDPConn to quic.Socket.
type udpSocket struct {
	conn *net.UDPConn
	log  logrus.FieldLogger
}

func (s *udpSocket) Receive() ([]quic.Datagram, error) {
	buf := make([]byte, quic.MaxPacketLen)
	n, peer, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return nil, err
	}
	return []quic.Datagram{{
		Addr:  peer.Addr(),
		Port:  peer.Port(),
		Bytes: buf[:n],
	}}, nil
}

func (s *udpSocket) Send(dgrams []quic.Datagram) error {
	for _, dg := range dgrams {
		addr := netip.AddrPortFrom(dg.Addr, dg.Port)
		if _, err := s.conn.WriteToUDPAddrPort(dg.Bytes, addr); err != nil {
			return err
		}
	}
	return nil
}

func (s *udpSocket) MaxUDPPayload() int { return 1452 }

// loggingListener implements quic.Listener by logging connection
// lifecycle events and forwarding datagrams to the socket; a real
// server would hand the connection off to an application here instead.
type loggingListener struct {
	sock *udpSocket
	log  logrus.FieldLogger
}

func (l *loggingListener) SendDatagram(buf []byte, addr netip.AddrPort) {
	if err := l.sock.Send([]quic.Datagram{{Addr: addr.Addr(), Port: addr.Port(), Bytes: buf}}); err != nil {
		l.log.WithError(err).Warn("send error")
	}
}

func (l *loggingListener) ConnEstablished(c *quic.Conn) {
	l.log.Info("connection established")
}

func (l *loggingListener) ConnClosed(c *quic.Conn, err error) {
	l.log.WithError(err).Info("connection closed")
}

// xidRand seeds connection IDs from rs/xid's globally unique, sortable
// ID generator rather than a bare PRNG, so connection IDs double as a
// coarse creation-order trace across a restart.
type xidRand struct{}

func (xidRand) Uint64() uint64 {
	id := xid.New()
	b := id.Bytes()
	var v uint64
	for _, c := range b[:8] {
		v = v<<8 | uint64(c)
	}
	return v
}

// nopCodec and nopTLS are placeholders for the external frame codec and
// cryptographic record layer, both explicitly out of scope for the core
// package; a production deployment supplies real implementations.
type nopCodec struct{}

func (nopCodec) EncodeFrames(buf []byte, conn *quic.Conn, streamID int64, rtx bool, limit int) ([]byte, quic.FrameKind, bool, bool) {
	return nil, 0, false, false
}
func (nopCodec) EncodeAck(buf []byte, ranges []quic.Interval, delay time.Duration) []byte {
	return buf
}
func (nopCodec) DecodeFrames(conn *quic.Conn, payload []byte) ([][2]quic.PacketNumber, error) {
	return nil, nil
}

type nopTLS struct{}

func (nopTLS) Init(isClient bool)                                   {}
func (nopTLS) Handshake(rx []byte) (tx []byte, done bool, err error) { return nil, true, nil }
func (nopTLS) DecryptAEAD(buf []byte, hdrLen int) (int, bool)        { return len(buf) - hdrLen, true }
func (nopTLS) EncryptAEAD(buf []byte, hdrLen int) []byte             { return buf }
func (nopTLS) RandomBytes(dst []byte)                                {}

type nopTLSFactory struct{}

func (nopTLSFactory) New() quic.TLS { return nopTLS{} }
