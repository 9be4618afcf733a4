// Package core defines core types.
package core

// Buffer attribute keys following {layer}.{field} convention.
const (
	AttrLinkSource      = "link.source"      // LinkAddr of the sending radio
	AttrLinkDestination = "link.destination" // LinkAddr of the receiving radio, broadcast is 0xffff
	AttrLinkSequence    = "link.sequence"    // MAC sequence number (int)
	AttrLinkPAN         = "link.pan"         // Destination PAN ID (int)
	AttrPacketType      = "packet.type"      // Dispatch classification, see PacketType*

	// Set by the adapter once a frame went through fragment reassembly
	AttrReassembled = "lowpan.reassembled"
)

// Values stored under AttrPacketType.
const (
	PacketTypeIPv6      = "ipv6"
	PacketTypeIPHC      = "iphc"
	PacketTypeFragFirst = "frag1"
	PacketTypeFragNext  = "fragn"
	PacketTypeNotLowpan = "nalp"
	PacketTypeUnknown   = "unknown"
)
