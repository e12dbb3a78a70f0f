package quic

// packetHeader is the decoded result of parsing a datagram's first
// packet header — the fields §6's pkt_hdr_len/pkt_flags/pkt_cid/
// pkt_vers/pkt_nr/pkt_type accessors expose from the external frame
// codec, gathered here for the ingress pipeline and state machine to
// consume without needing to know the wire layout themselves.
type packetHeader struct {
	isLongHeader bool
	isVNeg       bool
	lhType       byte

	version        uint32
	triedVersion   uint32   // version field of a VNeg response, correlated against offeredVersions
	serverVersions []uint32 // version list carried by a VNeg packet

	hasCID bool
	cid    connID

	num   PacketNumber
	space numberSpaceKind

	hdrLen      int
	datagramLen int
}

// parseHeader decodes enough of buf's leading packet header to route and
// dispatch it, without requiring AEAD decryption first (VNeg packets are
// never protected; everything else needs prot_len to come back from
// TLS.DecryptAEAD before frames can be parsed, but the header itself is
// always in the clear). This is a thin, protocol-shaped stand-in for the
// external frame codec's header accessors (§6) — a production endpoint
// would call out to FrameCodec for these fields; encoded here directly
// because the byte-level wire layout is explicitly out of this
// component's scope (§1) and the ingress pipeline only needs the parsed
// result.
func parseHeader(buf []byte) (packetHeader, int, bool) {
	if len(buf) < 1 {
		return packetHeader{}, 0, false
	}
	var hdr packetHeader
	hdr.datagramLen = len(buf)
	flags := buf[0]
	off := 1

	if flags&flagLongHeader != 0 {
		hdr.isLongHeader = true
		hdr.lhType = flags & flagLHTypeMask
		if off+4 > len(buf) {
			return packetHeader{}, 0, false
		}
		hdr.version = be32(buf[off:])
		off += 4
		hdr.isVNeg = hdr.version == 0
		if off+8 > len(buf) {
			return packetHeader{}, 0, false
		}
		hdr.hasCID = true
		hdr.cid = connID(be64(buf[off:]))
		off += 8
		if hdr.isVNeg {
			if off+4 > len(buf) {
				return packetHeader{}, 0, false
			}
			hdr.triedVersion = be32(buf[off:])
			off += 4
			for off+4 <= len(buf) {
				hdr.serverVersions = append(hdr.serverVersions, be32(buf[off:]))
				off += 4
			}
			hdr.hdrLen = off
			return hdr, off, true
		}
		switch hdr.lhType {
		case 0x00:
			hdr.space = spaceInitial
		case 0x10:
			hdr.space = spaceHandshake
		default:
			hdr.space = spaceApplicationData
		}
	} else {
		hdr.isLongHeader = false
		if flags&flagSHConnID != 0 {
			if off+8 > len(buf) {
				return packetHeader{}, 0, false
			}
			hdr.hasCID = true
			hdr.cid = connID(be64(buf[off:]))
			off += 8
		}
		hdr.space = spaceApplicationData
	}

	if off+8 > len(buf) {
		return packetHeader{}, 0, false
	}
	hdr.num = PacketNumber(be64(buf[off:]))
	off += 8
	hdr.hdrLen = off
	return hdr, off, true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
