package lowpan

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/ipv6"
)

var (
	// 00:50:c4:ff:fe:04:00:01 yields the IID 0250:c4ff:fe04:0001.
	sensorMAC  = core.LinkAddr{0x00, 0x50, 0xc4, 0xff, 0xfe, 0x04, 0x00, 0x01}
	gatewayMAC = core.LinkAddr{0x00, 0x12, 0x4b, 0x00, 0x01, 0x02, 0x03, 0x04}

	sensorLL  = netip.MustParseAddr("fe80::250:c4ff:fe04:1")
	gatewayLL = netip.MustParseAddr("fe80::212:4b00:102:304")
)

// packetCmp compares decoded packets field by field.
var packetCmp = cmp.Options{
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmpopts.EquateEmpty(),
}

func frameBuffer(data []byte, src, dst core.LinkAddr) *core.Buffer {
	return core.RawFrame{Data: data, Source: src, Destination: dst, Sequence: -1, PAN: -1}.Buffer()
}

func udpPacket(src, dst netip.Addr, hopLimit uint8, sport, dport uint16, data []byte) *ipv6.Packet {
	p := ipv6.NewPacket(src, dst, hopLimit, ipv6.NewUDP(sport, dport, data))
	p.Finalize()
	return p
}

// oracleUDPChecksum computes the UDP checksum with gopacket.
func oracleUDPChecksum(t *testing.T, src, dst netip.Addr, sport, dport uint16, data []byte) uint16 {
	t.Helper()
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   64,
		SrcIP:      net.IP(src.AsSlice()),
		DstIP:      net.IP(dst.AsSlice()),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, udp, gopacket.Payload(data)))
	return binary.BigEndian.Uint16(buf.Bytes()[6:8])
}

// fragmentFrame splits a LoWPAN frame into one FRAG1 carrying the
// compressed headers plus 40 payload bytes and FRAGN pieces of at most 48
// bytes. hdrLen and uncompressedHdr are the compressed and decompressed
// header sizes; uncompressedHdr must be a multiple of 8.
func fragmentFrame(frame []byte, hdrLen, uncompressedHdr int, tag uint16) [][]byte {
	size := uncompressedHdr + len(frame) - hdrLen
	firstLen := hdrLen + 40
	frags := [][]byte{append(fragmentHeader(true, size, tag, 0), frame[:firstLen]...)}
	off := uncompressedHdr + 40
	for pos := firstLen; pos < len(frame); {
		n := min(48, len(frame)-pos)
		frags = append(frags, append(fragmentHeader(false, size, tag, off), frame[pos:pos+n]...))
		pos += n
		off += n
	}
	return frags
}

func fragmentHeader(first bool, size int, tag uint16, offset int) []byte {
	if first {
		h := make([]byte, frag1HeaderLen)
		binary.BigEndian.PutUint16(h, DispatchFrag1<<8|uint16(size)&fragSizeMask)
		binary.BigEndian.PutUint16(h[2:], tag)
		return h
	}
	h := make([]byte, fragNHeaderLen)
	binary.BigEndian.PutUint16(h, DispatchFragN<<8|uint16(size)&fragSizeMask)
	binary.BigEndian.PutUint16(h[2:], tag)
	h[4] = byte(offset / fragOffsetUnit)
	return h
}

func payloadBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}
