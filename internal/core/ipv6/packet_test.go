package ipv6

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

func TestMarshalDecodesWithGopacket(t *testing.T) {
	p := NewPacket(netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("ff02::fb"), 255, NewUDP(5353, 5353, []byte("mdns")))
	p.TrafficClass = 0xb8
	p.FlowLabel = 0xbeef1
	p.Finalize()

	raw, err := p.Marshal()
	require.NoError(t, err)
	require.Len(t, raw, HeaderLen+UDPHeaderLen+4)

	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv6, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	ip := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	assert.Equal(t, uint8(0xb8), ip.TrafficClass)
	assert.Equal(t, uint32(0xbeef1), ip.FlowLabel)
	assert.Equal(t, uint16(12), ip.Length)
	assert.Equal(t, layers.IPProtocolUDP, ip.NextHeader)
	assert.Equal(t, uint8(255), ip.HopLimit)
	assert.Equal(t, "2001:db8::1", ip.SrcIP.String())

	udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, layers.UDPPort(5353), udp.DstPort)
	assert.Equal(t, uint16(12), udp.Length)
	assert.Equal(t, []byte("mdns"), udp.Payload)

	u, _ := p.UDP()
	assert.Equal(t, u.Checksum, udp.Checksum)
}

func TestParsePacket(t *testing.T) {
	p := NewPacket(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("fe80::2"), 64, &ICMPv6{Type: 135, Body: make([]byte, 20)})
	p.Finalize()
	raw, err := p.Marshal()
	require.NoError(t, err)

	got, err := ParsePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Src, got.Src)
	assert.Equal(t, p.Dst, got.Dst)
	assert.Equal(t, uint8(ProtocolICMPv6), got.NextHeader)
	m, ok := got.Payload.(*ICMPv6)
	require.True(t, ok)
	assert.Equal(t, "neighbor solicitation", m.TypeName())
	assert.Equal(t, p.Payload.(*ICMPv6).Checksum, m.Checksum)

	_, err = ParsePacket(raw[:30])
	assert.ErrorIs(t, err, core.ErrTruncatedPacket)
	_, err = ParsePacket(raw[:HeaderLen+10])
	assert.ErrorIs(t, err, core.ErrTruncatedPacket)

	v4 := append([]byte(nil), raw...)
	v4[0] = 0x45
	_, err = ParsePacket(v4)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	p := NewPacket(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("fe80::2"), 64, NewUDP(1, 2, nil))
	require.NoError(t, p.Validate())

	p.NextHeader = ProtocolICMPv6
	assert.Error(t, p.Validate())

	p.NextHeader = ProtocolUDP
	p.FlowLabel = 1 << 20
	assert.Error(t, p.Validate())

	p.FlowLabel = 0
	p.Dst = netip.Addr{}
	assert.ErrorIs(t, p.Validate(), core.ErrInvalidAddress)
}

func TestHopByHop(t *testing.T) {
	h := &HopByHop{
		Options: []byte{0x05, 0x02, 0x00, 0x00}, // router alert
		Payload: NewUDP(1000, 2000, []byte("x")),
	}
	p := NewPacket(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("ff02::16"), 1, h)
	p.Finalize()
	assert.Equal(t, uint8(ProtocolHopByHop), p.NextHeader)
	assert.Equal(t, uint8(ProtocolUDP), h.NextHeader)
	assert.Equal(t, 8+UDPHeaderLen+1, p.PayloadLen())

	raw, err := p.Marshal()
	require.NoError(t, err)
	ext := raw[HeaderLen : HeaderLen+8]
	// PadN fills the two bytes left after the 4-byte option.
	assert.Equal(t, []byte{ProtocolUDP, 0x00, 0x05, 0x02, 0x00, 0x00, 0x01, 0x00}, ext)

	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv6, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())
	require.NotNil(t, pkt.Layer(layers.LayerTypeUDP))

	got, err := ParsePacket(raw)
	require.NoError(t, err)
	u, ok := got.UDP()
	require.True(t, ok)
	assert.Equal(t, []byte("x"), u.Data)
	ok, _ = u.VerifyChecksum(got.Src, got.Dst)
	assert.True(t, ok)

	_, err = ParseHopByHop([]byte{ProtocolUDP, 0x01, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, core.ErrTruncatedPacket)
}

func TestHopByHopWithoutPayload(t *testing.T) {
	h := &HopByHop{Options: []byte{0x00}}
	p := NewPacket(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("fe80::2"), 64, h)
	p.Finalize()
	assert.Equal(t, uint8(ProtocolNone), h.NextHeader)
	raw, err := p.Marshal()
	require.NoError(t, err)
	// Pad1 after the single option byte, then PadN.
	assert.Equal(t, []byte{ProtocolNone, 0x00, 0x00, 0x01, 0x03, 0x00, 0x00, 0x00}, raw[HeaderLen:])
}

func TestRawPayload(t *testing.T) {
	pl, err := ParsePayload(50, []byte{1, 2, 3})
	require.NoError(t, err)
	r, ok := pl.(*Raw)
	require.True(t, ok)
	assert.Equal(t, uint8(50), r.Protocol())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []byte{9, 1, 2, 3}, r.AppendTo([]byte{9}))
}

func TestAddressHelpers(t *testing.T) {
	ll := netip.MustParseAddr("fe80::250:c4ff:fe04:1").As16()
	assert.True(t, IsLinkLocal64(ll))
	assert.False(t, IsLinkLocal64(netip.MustParseAddr("fe80:1::1").As16()))
	assert.False(t, IsLinkLocal64(netip.MustParseAddr("febf::1").As16()))
	assert.True(t, IsMulticast(netip.MustParseAddr("ff02::1").As16()))
	assert.True(t, IsUnspecified(netip.IPv6Unspecified().As16()))

	assert.True(t, IsLinkAddrBased(ll, core.LinkAddr{0x00, 0x50, 0xc4, 0xff, 0xfe, 0x04, 0x00, 0x01}))
	assert.True(t, IsLinkAddrBased(ll, core.LinkAddr{0x00, 0x50, 0xc4, 0x04, 0x00, 0x01}))
	assert.False(t, IsLinkAddrBased(ll, core.LinkAddr{0x00, 0x01}))
	assert.False(t, IsLinkAddrBased(ll, nil))

	iid, ok := IIDFromLinkAddr(core.LinkAddr{0xbe, 0xef})
	require.True(t, ok)
	assert.Equal(t, [8]byte{0, 0, 0, 0xff, 0xfe, 0, 0xbe, 0xef}, iid)
	_, ok = IIDFromLinkAddr(core.LinkAddr{1, 2, 3})
	assert.False(t, ok)

	assert.True(t, IsIID16Compressible(netip.MustParseAddr("2001:db8::1234").As16()))
	assert.False(t, IsIID16Compressible(netip.MustParseAddr("2001:db8::abcd").As16()))
	assert.False(t, IsIID16Compressible(netip.MustParseAddr("2001:db8::1:1234").As16()))
}
