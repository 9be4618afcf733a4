package ipv6

import (
	"encoding/binary"
	"net/netip"
)

// Checksum continues the ones'-complement sum initial over buf, 16 bits at
// a time. An odd trailing byte is padded with a zero low byte.
func Checksum(buf []byte, initial uint16) uint16 {
	v := uint32(initial)

	l := len(buf)
	if l&1 != 0 {
		l--
		v += uint32(buf[l]) << 8
	}

	for i := 0; i < l; i += 2 {
		v += (uint32(buf[i]) << 8) + uint32(buf[i+1])
	}

	return ChecksumCombine(uint16(v), uint16(v>>16))
}

// ChecksumCombine adds two partial sums with end-around carry.
func ChecksumCombine(a, b uint16) uint16 {
	v := uint32(a) + uint32(b)
	return uint16(v + v>>16)
}

// PseudoHeaderChecksum returns the partial sum of the IPv6 upper-layer
// pseudo-header (RFC 8200 section 8.1).
func PseudoHeaderChecksum(nextHeader uint8, length uint32, src, dst netip.Addr) uint16 {
	s := src.As16()
	d := dst.As16()
	xsum := Checksum(s[:], 0)
	xsum = Checksum(d[:], xsum)

	var tail [8]byte
	binary.BigEndian.PutUint32(tail[0:4], length)
	tail[7] = nextHeader
	return Checksum(tail[:], xsum)
}

// FoldPayload continues sum over payload bytes.
func FoldPayload(sum uint16, payload []byte) uint16 {
	return Checksum(payload, sum)
}

// Finish returns the ones'-complement of a folded sum.
func Finish(sum uint16) uint16 {
	return ^sum
}
