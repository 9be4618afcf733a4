// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/hex"
	"strings"
)

// LinkAddr is a link-layer address as carried on the wire: 2 bytes for
// IEEE 802.15.4 short addresses, 8 bytes for extended (EUI-64) addresses and
// 6 bytes for EUI-48 hardware.
type LinkAddr []byte

// BroadcastShort is the IEEE 802.15.4 broadcast short address.
var BroadcastShort = LinkAddr{0xff, 0xff}

// ParseLinkAddr parses a colon or dash separated hex address such as
// "00:50:c4:ff:fe:04:00:01" or a bare hex string.
func ParseLinkAddr(s string) (LinkAddr, error) {
	clean := strings.NewReplacer(":", "", "-", "", ".", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case 2, 6, 8:
		return LinkAddr(b), nil
	default:
		return nil, ErrInvalidAddress
	}
}

// String formats the address as colon separated hex.
func (a LinkAddr) String() string {
	if len(a) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, b := range a {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{b}))
	}
	return sb.String()
}

// Equal reports whether a and b are the same address.
func (a LinkAddr) Equal(b LinkAddr) bool {
	return string(a) == string(b)
}

// IsBroadcast reports whether a is the 802.15.4 short broadcast address.
func (a LinkAddr) IsBroadcast() bool {
	return a.Equal(BroadcastShort)
}
