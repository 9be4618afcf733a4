// Package lowpan implements the 6LoWPAN adaptation layer: RFC 6282 IPHC
// header compression and decompression, the address context table and
// RFC 4944 fragment reassembly.
package lowpan

import "firestige.xyz/lowpan/internal/core"

// Dispatch patterns (RFC 4944 / RFC 6282).
const (
	DispatchIPv6     = 0x41 // 01000001 uncompressed IPv6
	DispatchIPHC     = 0x60 // 011xxxxx
	DispatchIPHCMask = 0xe0
	DispatchFrag1    = 0xc0 // 11000xxx
	DispatchFragN    = 0xe0 // 11100xxx
	DispatchFragMask = 0xf8
	DispatchNALPMask = 0xc0 // 00xxxxxx is not a LoWPAN frame
)

// IPHC byte 0.
const (
	iphcTC   = 0x10 // traffic class elided
	iphcFL   = 0x08 // flow label elided
	iphcNH   = 0x04 // next header compressed with NHC
	iphcHLIM = 0x03

	hlimInline = 0x00
	hlim1      = 0x01
	hlim64     = 0x02
	hlim255    = 0x03
)

// IPHC byte 1.
const (
	iphcCID = 0x80
	iphcSAC = 0x40
	iphcSAM = 0x30
	iphcM   = 0x08
	iphcDAC = 0x04
	iphcDAM = 0x03

	samShift = 4
	damShift = 0
)

// Address mode values, shifted by samShift or damShift.
const (
	am128 = 0x00 // SAC/DAC=0: full address inline; SAC=1: unspecified
	am64  = 0x01
	am16  = 0x02
	am0   = 0x03
)

// UDP next header compression.
const (
	nhcUDPMask     = 0xf8
	nhcUDPID       = 0xf0
	nhcUDPChecksum = 0x04 // checksum elided
	nhcUDPPorts    = 0x03

	udpPortsInline = 0x00 // 16-bit source and destination
	udpPortsDst8   = 0x01 // source inline, destination 0xf0XX
	udpPortsSrc8   = 0x02 // source 0xf0XX, destination inline
	udpPorts4      = 0x03 // both 0xf0bX

	udp8BitPortBase = 0xf000
	udp4BitPortBase = 0xf0b0
)

// IPv6 extension header compression: 1110 EID(3) NH(1).
const (
	nhcExtMask = 0xf0
	nhcExtID   = 0xe0
	nhcExtEID  = 0x0e
)

// Fragment headers.
const (
	frag1HeaderLen = 4
	fragNHeaderLen = 5
	fragSizeMask   = 0x07ff
	fragOffsetUnit = 8
)

// Classify returns the packet type of a frame from its dispatch byte.
func Classify(dispatch byte) string {
	switch {
	case dispatch == DispatchIPv6:
		return core.PacketTypeIPv6
	case dispatch&DispatchIPHCMask == DispatchIPHC:
		return core.PacketTypeIPHC
	case dispatch&DispatchFragMask == DispatchFrag1:
		return core.PacketTypeFragFirst
	case dispatch&DispatchFragMask == DispatchFragN:
		return core.PacketTypeFragNext
	case dispatch&DispatchNALPMask == 0:
		return core.PacketTypeNotLowpan
	default:
		return core.PacketTypeUnknown
	}
}
