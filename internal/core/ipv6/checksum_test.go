package ipv6

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	// RFC 1071 section 3 example.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, uint16(0xddf2), Checksum(data, 0))

	// Odd length pads the last byte with a zero low byte.
	assert.Equal(t, Checksum([]byte{0x12, 0x34, 0x56, 0x00}, 0), Checksum([]byte{0x12, 0x34, 0x56}, 0))

	// Continuing a sum equals summing the concatenation.
	assert.Equal(t, Checksum(data, 0), Checksum(data[4:], Checksum(data[:4], 0)))
}

func TestChecksumCombine(t *testing.T) {
	assert.Equal(t, uint16(0x0002), ChecksumCombine(0xffff, 0x0002))
	assert.Equal(t, uint16(0x3333), ChecksumCombine(0x1111, 0x2222))
}

func TestUDPChecksumMatchesGopacket(t *testing.T) {
	tests := []struct {
		name     string
		src, dst string
		sport    uint16
		dport    uint16
		data     []byte
	}{
		{"link-local", "fe80::250:c4ff:fe04:1", "ff02::1", 61616, 61616, []byte("T22.2")},
		{"global even", "2001:db8::1", "2001:db8::2", 5683, 5684, []byte("payload!")},
		{"empty", "2001:db8::1", "2001:db8::2", 1, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := netip.MustParseAddr(tt.src), netip.MustParseAddr(tt.dst)
			ip := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolUDP, HopLimit: 64, SrcIP: src.AsSlice(), DstIP: dst.AsSlice()}
			udp := &layers.UDP{SrcPort: layers.UDPPort(tt.sport), DstPort: layers.UDPPort(tt.dport)}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
			buf := gopacket.NewSerializeBuffer()
			require.NoError(t, gopacket.SerializeLayers(buf,
				gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}, udp, gopacket.Payload(tt.data)))

			u := NewUDP(tt.sport, tt.dport, tt.data)
			assert.Equal(t, udp.Checksum, u.ComputeChecksum(src, dst))

			u.Checksum = udp.Checksum
			ok, want := u.VerifyChecksum(src, dst)
			assert.True(t, ok)
			assert.Equal(t, udp.Checksum, want)
		})
	}
}

func TestICMPv6ChecksumMatchesGopacket(t *testing.T) {
	src := netip.MustParseAddr("fe80::1")
	dst := netip.MustParseAddr("fe80::2")
	body := []byte{0x12, 0x34, 0x00, 0x01, 'p', 'i', 'n', 'g'}

	ip := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolICMPv6, HopLimit: 64, SrcIP: src.AsSlice(), DstIP: dst.AsSlice()}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{ComputeChecksums: true}, icmp, gopacket.Payload(body)))

	m := &ICMPv6{Type: 128, Body: body}
	assert.Equal(t, icmp.Checksum, m.ComputeChecksum(src, dst))
}
