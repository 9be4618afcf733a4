package lowpan

import (
	"fmt"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/ipv6"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
)

// Encoder compresses IPv6 packets into IPHC frames. Every header field has
// an encoding, down to carrying it inline, so compression itself never
// fails; only packets violating the model invariants are rejected.
//
// The encoder does not fragment: frames larger than the link MTU are the
// caller's problem.
type Encoder struct {
	contexts *ContextTable
}

// NewEncoder returns an encoder using contexts for prefix elision. A nil
// table disables context-based compression.
func NewEncoder(contexts *ContextTable) *Encoder {
	return &Encoder{contexts: contexts}
}

// Encode compresses p and appends its payload. Link addresses used for IID
// elision are taken from p.Link.
func (e *Encoder) Encode(p *ipv6.Packet) ([]byte, error) {
	frame, hdrLen, err := e.encode(p)
	if err != nil {
		return nil, err
	}
	metrics.EncodedPacketsTotal.Inc()
	metrics.CompressedHeaderBytes.Observe(float64(hdrLen))
	return frame, nil
}

// headerWriter appends header fields after the two IPHC bytes.
type headerWriter struct {
	buf *core.Buffer
	pos int
}

func (w *headerWriter) put(p ...byte) {
	w.buf.PutBytes(w.pos, p)
	w.pos += len(p)
}

func (e *Encoder) encode(p *ipv6.Packet) ([]byte, int, error) {
	if p == nil {
		return nil, 0, fmt.Errorf("encode: nil packet")
	}
	if err := p.Validate(); err != nil {
		return nil, 0, fmt.Errorf("encode: %w", err)
	}

	var srcLink, dstLink core.LinkAddr
	if p.Link != nil {
		srcLink, dstLink = p.Link.Source, p.Link.Destination
	}
	src := p.Src.As16()
	dst := p.Dst.As16()

	iphc0 := byte(DispatchIPHC)
	var iphc1 byte
	w := &headerWriter{buf: core.NewBuffer(make([]byte, 0, 48+p.PayloadLen())), pos: 2}

	// Context identifiers. Multicast and unspecified addresses never use a
	// context, so they are not looked up.
	srcCtx, srcHasCtx := 0, false
	if !ipv6.IsUnspecified(src) {
		srcCtx, srcHasCtx = e.contexts.Lookup(src)
	}
	dstCtx, dstHasCtx := 0, false
	if !ipv6.IsMulticast(dst) {
		dstCtx, dstHasCtx = e.contexts.Lookup(dst)
	}
	if srcHasCtx || dstHasCtx {
		iphc1 |= iphcCID
		w.put(byte(srcCtx<<4) | byte(dstCtx))
	}

	// Traffic class and flow label. IPHC carries the class as ECN|DSCP.
	tc := p.TrafficClass
	ecnDSCP := (tc&0x03)<<6 | tc>>2
	fl := p.FlowLabel
	switch {
	case fl == 0 && tc == 0:
		iphc0 |= iphcTC | iphcFL
	case fl == 0:
		iphc0 |= iphcFL
		w.put(ecnDSCP)
	case tc>>2 == 0:
		iphc0 |= iphcTC
		w.put(ecnDSCP&0xc0|byte(fl>>16)&0x0f, byte(fl>>8), byte(fl))
	default:
		w.put(ecnDSCP, byte(fl>>16)&0x0f, byte(fl>>8), byte(fl))
	}

	// Next header
	udp, isUDP := p.Payload.(*ipv6.UDP)
	if isUDP {
		iphc0 |= iphcNH
	} else {
		w.put(p.NextHeader)
	}

	// Hop limit
	switch p.HopLimit {
	case 1:
		iphc0 |= hlim1
	case 64:
		iphc0 |= hlim64
	case 255:
		iphc0 |= hlim255
	default:
		w.put(p.HopLimit)
	}

	// Source address
	switch {
	case ipv6.IsUnspecified(src):
		iphc1 |= iphcSAC | am128<<samShift
	case srcHasCtx:
		iphc1 |= iphcSAC | compressIID(w, src, srcLink)<<samShift
	case ipv6.IsLinkLocal64(src):
		iphc1 |= compressIID(w, src, srcLink) << samShift
	default:
		iphc1 |= am128 << samShift
		w.put(src[:]...)
	}

	// Destination address
	switch {
	case ipv6.IsMulticast(dst):
		iphc1 |= iphcM | compressMulticast(w, dst)<<damShift
	case dstHasCtx:
		iphc1 |= iphcDAC | compressIID(w, dst, dstLink)<<damShift
	case ipv6.IsLinkLocal64(dst):
		iphc1 |= compressIID(w, dst, dstLink) << damShift
	default:
		iphc1 |= am128 << damShift
		w.put(dst[:]...)
	}

	w.buf.PutByte(0, iphc0)
	w.buf.PutByte(1, iphc1)

	// UDP header compression; the checksum is always carried inline.
	if isUDP {
		e.compressUDP(w, p, udp)
	}
	hdrLen := w.pos

	switch {
	case isUDP:
		w.put(udp.Data...)
	case p.Payload != nil:
		w.put(p.Payload.AppendTo(nil)...)
	}
	return w.buf.Bytes()[:w.pos], hdrLen, nil
}

// compressIID writes the inline part of an interface identifier and
// returns the address mode: 0 bits when derivable from the link address,
// 16 bits when compressible, 64 bits otherwise.
func compressIID(w *headerWriter, addr [16]byte, link core.LinkAddr) byte {
	switch {
	case ipv6.IsLinkAddrBased(addr, link):
		return am0
	case ipv6.IsIID16Compressible(addr):
		w.put(addr[14:16]...)
		return am16
	default:
		w.put(addr[8:16]...)
		return am64
	}
}

// compressMulticast picks the shortest of the ff02::00XX,
// ffXX::00XX:XXXX and ffXX::00XX:XXXX:XXXX forms, in that order.
func compressMulticast(w *headerWriter, dst [16]byte) byte {
	switch {
	case dst[1] == 0x02 && allZero(dst[2:15]):
		w.put(dst[15])
		return am0
	case allZero(dst[2:13]):
		w.put(dst[1])
		w.put(dst[13:16]...)
		return am16
	case allZero(dst[2:11]):
		w.put(dst[1])
		w.put(dst[11:16]...)
		return am64
	default:
		w.put(dst[:]...)
		return am128
	}
}

func (e *Encoder) compressUDP(w *headerWriter, p *ipv6.Packet, udp *ipv6.UDP) {
	checksum := udp.ComputeChecksum(p.Src, p.Dst)
	if udp.Checksum != 0 && udp.Checksum != checksum {
		metrics.ChecksumMismatchTotal.WithLabelValues("udp").Inc()
		log.GetLogger().WithFields(map[string]interface{}{
			"src":  p.Src,
			"dst":  p.Dst,
			"want": fmt.Sprintf("%#04x", checksum),
			"got":  fmt.Sprintf("%#04x", udp.Checksum),
		}).Warn("udp checksum mismatch on send, sending recomputed value")
	}

	sp, dp := udp.SrcPort, udp.DstPort
	if sp&0xfff0 == udp4BitPortBase && dp&0xfff0 == udp4BitPortBase {
		w.put(nhcUDPID|udpPorts4, byte(sp-udp4BitPortBase)<<4|byte(dp-udp4BitPortBase))
	} else {
		w.put(nhcUDPID|udpPortsInline, byte(sp>>8), byte(sp), byte(dp>>8), byte(dp))
	}
	w.put(byte(checksum>>8), byte(checksum))
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
