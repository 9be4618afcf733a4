package lowpan

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/ipv6"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
)

// Decoder rebuilds IPv6 packets from IPHC frames. It holds no per-packet
// state and is safe for concurrent use.
type Decoder struct {
	contexts *ContextTable
}

// NewDecoder returns a decoder resolving context identifiers in contexts.
func NewDecoder(contexts *ContextTable) *Decoder {
	return &Decoder{contexts: contexts}
}

// header is the result of decoding the compressed headers of a frame.
type header struct {
	pkt *ipv6.Packet
	// uncompressedLen is the size the headers occupy once decompressed:
	// the 40-byte base header plus 8 for a compressed UDP header.
	uncompressedLen int
	checksumElided  bool
	unsupportedNHC  bool
}

var linkLocalPrefix = [8]byte{0xfe, 0x80}

// DecodeHeader decodes the IPHC header at the cursor of b, including any
// UDP next header compression. On success the cursor is left on the first
// payload byte and the uncompressed header size is returned alongside the
// packet, whose payload carries no data yet.
func (d *Decoder) DecodeHeader(b *core.Buffer) (*ipv6.Packet, int, error) {
	h, err := d.decodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	return h.pkt, h.uncompressedLen, nil
}

// HeaderSizes reports how many bytes the headers at the cursor occupy
// compressed and how many they will occupy decompressed. The cursor is
// not moved. Fragment reassembly uses the difference to place fragments.
func (d *Decoder) HeaderSizes(b *core.Buffer) (compressed, uncompressed int, err error) {
	start := b.Pos()
	defer b.Seek(start)

	dispatch, err := b.Byte(0)
	if err != nil {
		return 0, 0, err
	}
	switch Classify(dispatch) {
	case core.PacketTypeIPv6:
		if b.Remaining() < 1+ipv6.HeaderLen {
			return 0, 0, fmt.Errorf("ipv6 header: %w", core.ErrTruncatedPacket)
		}
		return 1 + ipv6.HeaderLen, ipv6.HeaderLen, nil
	case core.PacketTypeIPHC:
		h, err := d.decodeHeader(b)
		if err != nil {
			return 0, 0, err
		}
		return b.Pos() - start, h.uncompressedLen, nil
	default:
		return 0, 0, fmt.Errorf("dispatch %#02x: %w", dispatch, core.ErrUnsupportedDispatch)
	}
}

// Decode decodes the frame at the cursor of b, which must start with an
// IPHC or uncompressed IPv6 dispatch, and attaches the remaining bytes as
// payload. The payload aliases the buffer.
//
// Checksums are advisory: a mismatch is logged and counted but the packet
// is still returned.
func (d *Decoder) Decode(b *core.Buffer) (*ipv6.Packet, error) {
	dispatch, err := b.Byte(0)
	if err != nil {
		return nil, err
	}
	switch Classify(dispatch) {
	case core.PacketTypeIPv6:
		return d.decodeUncompressed(b)
	case core.PacketTypeIPHC:
	default:
		return nil, fmt.Errorf("dispatch %#02x: %w", dispatch, core.ErrUnsupportedDispatch)
	}

	h, err := d.decodeHeader(b)
	if err != nil {
		return nil, err
	}
	p := h.pkt
	if h.unsupportedNHC {
		// The packet is returned without payload; the remaining bytes stay
		// unread at the cursor.
		return p, nil
	}

	rest := b.Payload()
	_ = b.Advance(len(rest))
	switch pl := p.Payload.(type) {
	case *ipv6.UDP:
		pl.Data = rest
		pl.Length = uint16(pl.Len())
		if h.checksumElided {
			pl.Checksum = pl.ComputeChecksum(p.Src, p.Dst)
		} else {
			verifyChecksum(p)
		}
	default:
		payload, err := ipv6.ParsePayload(p.NextHeader, rest)
		if err != nil {
			return nil, err
		}
		p.Payload = payload
		verifyChecksum(p)
	}
	return p, nil
}

func (d *Decoder) decodeUncompressed(b *core.Buffer) (*ipv6.Packet, error) {
	if err := b.Advance(1); err != nil {
		return nil, err
	}
	p, err := ipv6.ParsePacket(b.Payload())
	if err != nil {
		return nil, err
	}
	_ = b.Advance(b.Remaining())
	p.Link = linkInfo(b)
	verifyChecksum(p)
	return p, nil
}

func (d *Decoder) decodeHeader(b *core.Buffer) (*header, error) {
	iphc0, err := b.Byte(0)
	if err != nil {
		return nil, err
	}
	if iphc0&DispatchIPHCMask != DispatchIPHC {
		return nil, fmt.Errorf("dispatch %#02x: %w", iphc0, core.ErrUnsupportedDispatch)
	}
	iphc1, err := b.Byte(1)
	if err != nil {
		return nil, err
	}
	_ = b.Advance(2)

	var srcCtx, dstCtx int
	if iphc1&iphcCID != 0 {
		cid, err := b.Next(1)
		if err != nil {
			return nil, err
		}
		srcCtx, dstCtx = int(cid[0]>>4), int(cid[0]&0x0f)
	}

	p := &ipv6.Packet{Version: ipv6.Version, Link: linkInfo(b)}
	h := &header{pkt: p, uncompressedLen: ipv6.HeaderLen}

	// Traffic class and flow label
	switch iphc0 & (iphcTC | iphcFL) {
	case 0:
		tf, err := b.Next(4)
		if err != nil {
			return nil, err
		}
		p.TrafficClass = trafficClass(tf[0])
		p.FlowLabel = uint32(tf[1]&0x0f)<<16 | uint32(binary.BigEndian.Uint16(tf[2:4]))
	case iphcTC:
		tf, err := b.Next(3)
		if err != nil {
			return nil, err
		}
		p.TrafficClass = tf[0] >> 6
		p.FlowLabel = uint32(tf[0]&0x0f)<<16 | uint32(binary.BigEndian.Uint16(tf[1:3]))
	case iphcFL:
		tf, err := b.Next(1)
		if err != nil {
			return nil, err
		}
		p.TrafficClass = trafficClass(tf[0])
	}

	// Next header
	if iphc0&iphcNH == 0 {
		nh, err := b.Next(1)
		if err != nil {
			return nil, err
		}
		p.NextHeader = nh[0]
	}

	// Hop limit
	switch iphc0 & iphcHLIM {
	case hlim1:
		p.HopLimit = 1
	case hlim64:
		p.HopLimit = 64
	case hlim255:
		p.HopLimit = 255
	default:
		hl, err := b.Next(1)
		if err != nil {
			return nil, err
		}
		p.HopLimit = hl[0]
	}

	var srcLink, dstLink core.LinkAddr
	if p.Link != nil {
		srcLink, dstLink = p.Link.Source, p.Link.Destination
	}

	// Source address
	var src [16]byte
	sam := (iphc1 & iphcSAM) >> samShift
	switch {
	case iphc1&iphcSAC != 0 && sam == am128:
		// unspecified
	case iphc1&iphcSAC != 0:
		prefix, ok := d.contexts.Get(srcCtx)
		if !ok {
			return nil, fmt.Errorf("source context %d: %w", srcCtx, core.ErrMissingContext)
		}
		if err := decompressIID(b, &src, prefix, sam, srcLink); err != nil {
			return nil, fmt.Errorf("source address: %w", err)
		}
	case sam == am128:
		if err := readFull(b, src[:]); err != nil {
			return nil, err
		}
	default:
		if err := decompressIID(b, &src, linkLocalPrefix, sam, srcLink); err != nil {
			return nil, fmt.Errorf("source address: %w", err)
		}
	}

	// Destination address
	var dst [16]byte
	dam := (iphc1 & iphcDAM) >> damShift
	switch {
	case iphc1&iphcM != 0:
		if iphc1&iphcDAC != 0 {
			return nil, fmt.Errorf("context-based multicast destination: %w", core.ErrUnsupportedDispatch)
		}
		if err := decompressMulticast(b, &dst, dam); err != nil {
			return nil, err
		}
	case iphc1&iphcDAC != 0:
		if dam == am128 {
			return nil, fmt.Errorf("reserved destination mode DAC=1 DAM=00: %w", core.ErrUnsupportedDispatch)
		}
		prefix, ok := d.contexts.Get(dstCtx)
		if !ok {
			return nil, fmt.Errorf("destination context %d: %w", dstCtx, core.ErrMissingContext)
		}
		if err := decompressIID(b, &dst, prefix, dam, dstLink); err != nil {
			return nil, fmt.Errorf("destination address: %w", err)
		}
	case dam == am128:
		if err := readFull(b, dst[:]); err != nil {
			return nil, err
		}
	default:
		if err := decompressIID(b, &dst, linkLocalPrefix, dam, dstLink); err != nil {
			return nil, fmt.Errorf("destination address: %w", err)
		}
	}
	p.Src = netip.AddrFrom16(src)
	p.Dst = netip.AddrFrom16(dst)

	if iphc0&iphcNH != 0 {
		if err := d.decodeNHC(b, h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// decodeNHC decodes the next header compression byte at the cursor. Only
// UDP is understood; other encodings leave the packet without payload.
func (d *Decoder) decodeNHC(b *core.Buffer, h *header) error {
	nhc, err := b.Byte(0)
	if err != nil {
		return err
	}
	if nhc&nhcUDPMask != nhcUDPID {
		h.unsupportedNHC = true
		h.pkt.NextHeader = nhcProtocol(nhc)
		metrics.UnsupportedNHCTotal.Inc()
		log.GetLogger().WithField("nhc", fmt.Sprintf("%#02x", nhc)).
			Warn("unsupported next header compression, dropping payload")
		return nil
	}
	_ = b.Advance(1)

	udp := &ipv6.UDP{}
	switch nhc & nhcUDPPorts {
	case udpPortsInline:
		ports, err := b.Next(4)
		if err != nil {
			return err
		}
		udp.SrcPort = binary.BigEndian.Uint16(ports[0:2])
		udp.DstPort = binary.BigEndian.Uint16(ports[2:4])
	case udpPortsDst8:
		ports, err := b.Next(3)
		if err != nil {
			return err
		}
		udp.SrcPort = binary.BigEndian.Uint16(ports[0:2])
		udp.DstPort = udp8BitPortBase | uint16(ports[2])
	case udpPortsSrc8:
		ports, err := b.Next(3)
		if err != nil {
			return err
		}
		udp.SrcPort = udp8BitPortBase | uint16(ports[0])
		udp.DstPort = binary.BigEndian.Uint16(ports[1:3])
	case udpPorts4:
		ports, err := b.Next(1)
		if err != nil {
			return err
		}
		udp.SrcPort = udp4BitPortBase + uint16(ports[0]>>4)
		udp.DstPort = udp4BitPortBase + uint16(ports[0]&0x0f)
	}

	if nhc&nhcUDPChecksum != 0 {
		h.checksumElided = true
	} else {
		sum, err := b.Next(2)
		if err != nil {
			return err
		}
		udp.Checksum = binary.BigEndian.Uint16(sum)
	}

	h.pkt.SetPayload(udp)
	h.uncompressedLen += ipv6.UDPHeaderLen
	return nil
}

// nhcProtocol returns the next header value an undecoded NHC byte stands
// for. Extension header encodings name it through their EID; anything else
// is reported as ProtocolNone.
func nhcProtocol(nhc byte) uint8 {
	if nhc&nhcExtMask != nhcExtID {
		return ipv6.ProtocolNone
	}
	switch (nhc & nhcExtEID) >> 1 {
	case 0:
		return ipv6.ProtocolHopByHop
	case 1:
		return ipv6.ProtocolRouting
	case 2:
		return ipv6.ProtocolFragment
	case 3:
		return ipv6.ProtocolDestOpts
	case 4:
		return ipv6.ProtocolMobility
	case 7:
		return ipv6.ProtocolIPv6
	default:
		return ipv6.ProtocolNone
	}
}

// decompressIID fills addr from an 8-byte prefix and the interface
// identifier carried in mode.
func decompressIID(b *core.Buffer, addr *[16]byte, prefix [8]byte, mode byte, link core.LinkAddr) error {
	copy(addr[:8], prefix[:])
	switch mode {
	case am64:
		return readFull(b, addr[8:16])
	case am16:
		return readFull(b, addr[14:16])
	case am0:
		iid, ok := ipv6.IIDFromLinkAddr(link)
		if !ok {
			return fmt.Errorf("no link address to derive interface identifier from (%q): %w", link, core.ErrInvalidAddress)
		}
		copy(addr[8:], iid[:])
		return nil
	default:
		return fmt.Errorf("address mode %d: %w", mode, core.ErrInvalidAddress)
	}
}

func decompressMulticast(b *core.Buffer, addr *[16]byte, mode byte) error {
	switch mode {
	case am128:
		return readFull(b, addr[:])
	case am64:
		m, err := b.Next(6)
		if err != nil {
			return err
		}
		addr[0], addr[1] = 0xff, m[0]
		copy(addr[11:16], m[1:])
	case am16:
		m, err := b.Next(4)
		if err != nil {
			return err
		}
		addr[0], addr[1] = 0xff, m[0]
		copy(addr[13:16], m[1:])
	case am0:
		m, err := b.Next(1)
		if err != nil {
			return err
		}
		addr[0], addr[1] = 0xff, 0x02
		addr[15] = m[0]
	}
	return nil
}

func readFull(b *core.Buffer, dst []byte) error {
	p, err := b.Next(len(dst))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// trafficClass converts the IPHC ECN|DSCP byte back to DSCP|ECN.
func trafficClass(v byte) uint8 {
	return (v&0x3f)<<2 | v>>6
}

func linkInfo(b *core.Buffer) *ipv6.LinkInfo {
	src, dst := b.LinkSource(), b.LinkDestination()
	if src == nil && dst == nil {
		return nil
	}
	return &ipv6.LinkInfo{Source: src, Destination: dst}
}

// verifyChecksum checks UDP and ICMPv6 checksums and reports mismatches.
func verifyChecksum(p *ipv6.Packet) {
	var (
		proto     string
		got, want uint16
	)
	if udp, ok := p.UDP(); ok {
		proto, got, want = "udp", udp.Checksum, udp.ComputeChecksum(p.Src, p.Dst)
	} else if icmp, ok := p.Payload.(*ipv6.ICMPv6); ok {
		proto, got, want = "icmpv6", icmp.Checksum, icmp.ComputeChecksum(p.Src, p.Dst)
	} else {
		return
	}
	if got == want {
		return
	}
	metrics.ChecksumMismatchTotal.WithLabelValues(proto).Inc()
	log.GetLogger().WithFields(map[string]interface{}{
		"protocol": proto,
		"src":      p.Src,
		"dst":      p.Dst,
		"got":      fmt.Sprintf("%#04x", got),
		"want":     fmt.Sprintf("%#04x", want),
	}).Warn("checksum mismatch")
}
