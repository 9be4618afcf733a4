package ipv6

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/lowpan/internal/core"
	netipv6 "golang.org/x/net/ipv6"
)

// Protocol numbers carried in the next header field.
const (
	ProtocolHopByHop = 0
	ProtocolUDP      = 17
	ProtocolIPv6     = 41
	ProtocolRouting  = 43
	ProtocolFragment = 44
	ProtocolICMPv6   = 58
	ProtocolNone     = 59
	ProtocolDestOpts = 60
	ProtocolMobility = 135
)

const (
	UDPHeaderLen    = 8
	ICMPv6HeaderLen = 4
)

// Payload is what follows the IPv6 base header. The set of implementations
// is closed: *UDP, *ICMPv6, *HopByHop and *Raw.
type Payload interface {
	// Protocol is the next header value announcing this payload.
	Protocol() uint8
	// Len is the serialized length in bytes.
	Len() int
	// AppendTo appends the serialized payload to b as the fields are
	// currently set; call Packet.Finalize first to fill lengths and sums.
	AppendTo(b []byte) []byte

	finalize(src, dst netip.Addr)
	payload()
}

// ParsePayload parses data as the payload announced by nextHeader.
// Unknown protocols become *Raw.
func ParsePayload(nextHeader uint8, data []byte) (Payload, error) {
	switch nextHeader {
	case ProtocolUDP:
		return ParseUDP(data)
	case ProtocolICMPv6:
		return ParseICMPv6(data)
	case ProtocolHopByHop:
		return ParseHopByHop(data)
	default:
		return &Raw{Proto: nextHeader, Data: data}, nil
	}
}

// UDP is a UDP datagram.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16 // header plus data, set by Finalize
	Checksum uint16
	Data     []byte
}

// NewUDP returns a datagram with Length already set.
func NewUDP(srcPort, dstPort uint16, data []byte) *UDP {
	return &UDP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(UDPHeaderLen + len(data)),
		Data:    data,
	}
}

// ParseUDP parses a UDP header and its data.
func ParseUDP(data []byte) (*UDP, error) {
	if len(data) < UDPHeaderLen {
		return nil, fmt.Errorf("udp header: %w", core.ErrTruncatedPacket)
	}
	return &UDP{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint16(data[4:6]),
		Checksum: binary.BigEndian.Uint16(data[6:8]),
		Data:     data[UDPHeaderLen:],
	}, nil
}

func (u *UDP) Protocol() uint8 { return ProtocolUDP }
func (u *UDP) Len() int        { return UDPHeaderLen + len(u.Data) }
func (u *UDP) payload()        {}

// Header returns the 8-byte header with the given checksum field.
func (u *UDP) Header(checksum uint16) [UDPHeaderLen]byte {
	var h [UDPHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], u.SrcPort)
	binary.BigEndian.PutUint16(h[2:4], u.DstPort)
	binary.BigEndian.PutUint16(h[4:6], uint16(u.Len()))
	binary.BigEndian.PutUint16(h[6:8], checksum)
	return h
}

func (u *UDP) AppendTo(b []byte) []byte {
	h := u.Header(u.Checksum)
	binary.BigEndian.PutUint16(h[4:6], u.Length)
	b = append(b, h[:]...)
	return append(b, u.Data...)
}

// ComputeChecksum returns the checksum the datagram must carry between src
// and dst. The sum is folded in two steps: pseudo-header plus UDP header,
// then the data. A zero result is sent as 0xffff.
func (u *UDP) ComputeChecksum(src, dst netip.Addr) uint16 {
	sum := PseudoHeaderChecksum(ProtocolUDP, uint32(u.Len()), src, dst)
	h := u.Header(0)
	sum = Checksum(h[:], sum)
	sum = FoldPayload(sum, u.Data)
	c := Finish(sum)
	if c == 0 {
		c = 0xffff
	}
	return c
}

// VerifyChecksum compares the carried checksum with the computed one.
func (u *UDP) VerifyChecksum(src, dst netip.Addr) (ok bool, want uint16) {
	want = u.ComputeChecksum(src, dst)
	return want == u.Checksum, want
}

func (u *UDP) finalize(src, dst netip.Addr) {
	u.Length = uint16(u.Len())
	u.Checksum = u.ComputeChecksum(src, dst)
}

// ICMPv6 is an ICMPv6 message. Body holds everything after the checksum.
type ICMPv6 struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Body     []byte
}

// ParseICMPv6 parses an ICMPv6 message.
func ParseICMPv6(data []byte) (*ICMPv6, error) {
	if len(data) < ICMPv6HeaderLen {
		return nil, fmt.Errorf("icmpv6 header: %w", core.ErrTruncatedPacket)
	}
	return &ICMPv6{
		Type:     data[0],
		Code:     data[1],
		Checksum: binary.BigEndian.Uint16(data[2:4]),
		Body:     data[ICMPv6HeaderLen:],
	}, nil
}

func (m *ICMPv6) Protocol() uint8 { return ProtocolICMPv6 }
func (m *ICMPv6) Len() int        { return ICMPv6HeaderLen + len(m.Body) }
func (m *ICMPv6) payload()        {}

// TypeName returns the IANA name of the message type.
func (m *ICMPv6) TypeName() string {
	return netipv6.ICMPType(m.Type).String()
}

func (m *ICMPv6) AppendTo(b []byte) []byte {
	b = append(b, m.Type, m.Code, byte(m.Checksum>>8), byte(m.Checksum))
	return append(b, m.Body...)
}

// ComputeChecksum returns the checksum the message must carry.
func (m *ICMPv6) ComputeChecksum(src, dst netip.Addr) uint16 {
	sum := PseudoHeaderChecksum(ProtocolICMPv6, uint32(m.Len()), src, dst)
	sum = Checksum([]byte{m.Type, m.Code, 0, 0}, sum)
	sum = FoldPayload(sum, m.Body)
	return Finish(sum)
}

func (m *ICMPv6) finalize(src, dst netip.Addr) {
	m.Checksum = m.ComputeChecksum(src, dst)
}

// HopByHop is a Hop-by-Hop Options extension header followed by the
// payload it announces.
type HopByHop struct {
	NextHeader uint8
	Options    []byte // option TLVs including padding
	Payload    Payload
}

// ParseHopByHop parses the extension header and the payload behind it.
func ParseHopByHop(data []byte) (*HopByHop, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("hop-by-hop header: %w", core.ErrTruncatedPacket)
	}
	n := (int(data[1]) + 1) * 8
	if len(data) < n {
		return nil, fmt.Errorf("hop-by-hop options: %w", core.ErrTruncatedPacket)
	}
	h := &HopByHop{NextHeader: data[0], Options: data[2:n]}
	inner, err := ParsePayload(h.NextHeader, data[n:])
	if err != nil {
		return nil, err
	}
	h.Payload = inner
	return h, nil
}

func (h *HopByHop) Protocol() uint8 { return ProtocolHopByHop }
func (h *HopByHop) payload()        {}

func (h *HopByHop) headerLen() int {
	n := 2 + len(h.Options)
	return (n + 7) &^ 7
}

func (h *HopByHop) Len() int {
	n := h.headerLen()
	if h.Payload != nil {
		n += h.Payload.Len()
	}
	return n
}

func (h *HopByHop) AppendTo(b []byte) []byte {
	n := h.headerLen()
	b = append(b, h.NextHeader, byte(n/8-1))
	b = append(b, h.Options...)
	// PadN the remainder so the header stays a multiple of 8 bytes.
	if pad := n - 2 - len(h.Options); pad == 1 {
		b = append(b, 0)
	} else if pad > 1 {
		b = append(b, 1, byte(pad-2))
		b = append(b, make([]byte, pad-2)...)
	}
	if h.Payload != nil {
		b = h.Payload.AppendTo(b)
	}
	return b
}

func (h *HopByHop) finalize(src, dst netip.Addr) {
	if h.Payload == nil {
		h.NextHeader = ProtocolNone
		return
	}
	h.NextHeader = h.Payload.Protocol()
	h.Payload.finalize(src, dst)
}

// Raw is a payload this package does not interpret.
type Raw struct {
	Proto uint8
	Data  []byte
}

func (r *Raw) Protocol() uint8          { return r.Proto }
func (r *Raw) Len() int                 { return len(r.Data) }
func (r *Raw) AppendTo(b []byte) []byte { return append(b, r.Data...) }
func (r *Raw) finalize(_, _ netip.Addr) {}
func (r *Raw) payload()                 {}
