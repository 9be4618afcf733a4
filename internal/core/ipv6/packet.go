// Package ipv6 implements the decompressed IPv6 packet model shared by the
// 6LoWPAN encoder and decoder, together with the upper-layer checksum.
package ipv6

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/lowpan/internal/core"
	netipv6 "golang.org/x/net/ipv6"
)

const (
	Version   = netipv6.Version
	HeaderLen = netipv6.HeaderLen
)

// LinkInfo is the link-layer addressing a packet was received with or is
// about to be sent with. The codec uses it to infer interface identifiers.
type LinkInfo struct {
	Source      core.LinkAddr
	Destination core.LinkAddr
}

// Packet is an IPv6 packet in canonical (uncompressed) form.
type Packet struct {
	Version      uint8
	TrafficClass uint8
	FlowLabel    uint32 // 20 bits
	NextHeader   uint8
	HopLimit     uint8
	Src          netip.Addr
	Dst          netip.Addr
	Payload      Payload

	// Link is optional; nil disables link-address based IID elision.
	Link *LinkInfo
}

// NewPacket returns a version 6 packet carrying payload.
func NewPacket(src, dst netip.Addr, hopLimit uint8, payload Payload) *Packet {
	p := &Packet{
		Version:  Version,
		HopLimit: hopLimit,
		Src:      src,
		Dst:      dst,
	}
	if payload != nil {
		p.SetPayload(payload)
	}
	return p
}

// SetPayload attaches payload and sets NextHeader to match it.
func (p *Packet) SetPayload(payload Payload) {
	p.Payload = payload
	p.NextHeader = payload.Protocol()
}

// PayloadLen returns the value of the payload length field.
func (p *Packet) PayloadLen() int {
	if p.Payload == nil {
		return 0
	}
	return p.Payload.Len()
}

// UDP returns the UDP payload, looking through a Hop-by-Hop header.
func (p *Packet) UDP() (*UDP, bool) {
	switch pl := p.Payload.(type) {
	case *UDP:
		return pl, true
	case *HopByHop:
		u, ok := pl.Payload.(*UDP)
		return u, ok
	default:
		return nil, false
	}
}

// Validate checks the invariants the codec relies on.
func (p *Packet) Validate() error {
	if !p.Src.Is6() || !p.Dst.Is6() {
		return fmt.Errorf("src %v dst %v: %w", p.Src, p.Dst, core.ErrInvalidAddress)
	}
	if p.FlowLabel > 0xFFFFF {
		return fmt.Errorf("flow label %#x exceeds 20 bits", p.FlowLabel)
	}
	if p.Payload != nil && p.Payload.Protocol() != p.NextHeader {
		return fmt.Errorf("next header %d does not match payload protocol %d", p.NextHeader, p.Payload.Protocol())
	}
	return nil
}

// Finalize fills length and checksum fields of the payload chain.
func (p *Packet) Finalize() {
	if p.Payload == nil {
		return
	}
	p.Payload.finalize(p.Src, p.Dst)
	p.NextHeader = p.Payload.Protocol()
}

// Marshal serializes the packet with its 40-byte base header.
func (p *Packet) Marshal() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, HeaderLen, HeaderLen+p.PayloadLen())
	b[0] = Version<<4 | p.TrafficClass>>4
	b[1] = p.TrafficClass<<4 | byte(p.FlowLabel>>16)&0x0f
	binary.BigEndian.PutUint16(b[2:4], uint16(p.FlowLabel))
	binary.BigEndian.PutUint16(b[4:6], uint16(p.PayloadLen()))
	b[6] = p.NextHeader
	b[7] = p.HopLimit
	src := p.Src.As16()
	dst := p.Dst.As16()
	copy(b[8:24], src[:])
	copy(b[24:40], dst[:])
	if p.Payload != nil {
		b = p.Payload.AppendTo(b)
	}
	return b, nil
}

// ParsePacket parses an uncompressed IPv6 packet.
func ParsePacket(data []byte) (*Packet, error) {
	h, err := netipv6.ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("ipv6 header: %w", core.ErrTruncatedPacket)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("ip version %d: %w", h.Version, core.ErrUnsupportedProto)
	}
	if HeaderLen+h.PayloadLen > len(data) {
		return nil, fmt.Errorf("payload length %d: %w", h.PayloadLen, core.ErrTruncatedPacket)
	}
	src, _ := netip.AddrFromSlice(h.Src)
	dst, _ := netip.AddrFromSlice(h.Dst)
	p := &Packet{
		Version:      Version,
		TrafficClass: uint8(h.TrafficClass),
		FlowLabel:    uint32(h.FlowLabel),
		NextHeader:   uint8(h.NextHeader),
		HopLimit:     uint8(h.HopLimit),
		Src:          src,
		Dst:          dst,
	}
	payload, err := ParsePayload(p.NextHeader, data[HeaderLen:HeaderLen+h.PayloadLen])
	if err != nil {
		return nil, err
	}
	p.Payload = payload
	return p, nil
}
