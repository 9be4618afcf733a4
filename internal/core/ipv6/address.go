package ipv6

import "firestige.xyz/lowpan/internal/core"

// IsUnspecified reports whether a is ::.
func IsUnspecified(a [16]byte) bool {
	return a == [16]byte{}
}

// IsLinkLocal64 reports whether a lies in fe80::/64, the only link-local
// prefix that can be elided and restored without loss.
func IsLinkLocal64(a [16]byte) bool {
	return a[0] == 0xfe && a[1] == 0x80 &&
		a[2] == 0 && a[3] == 0 && a[4] == 0 && a[5] == 0 && a[6] == 0 && a[7] == 0
}

// IsMulticast reports whether a is a multicast address.
func IsMulticast(a [16]byte) bool {
	return a[0] == 0xff
}

// IIDFromLinkAddr derives the 64-bit interface identifier of a link-layer
// address. 8-byte addresses are copied and get the universal/local bit
// (0x02 of the first IID byte) flipped; 6-byte EUI-48 addresses are
// expanded with ff:fe first; 2-byte short addresses map to
// 0000:00ff:fe00:XXXX.
func IIDFromLinkAddr(l core.LinkAddr) ([8]byte, bool) {
	var iid [8]byte
	switch len(l) {
	case 8:
		copy(iid[:], l)
		iid[0] ^= 0x02
	case 6:
		copy(iid[0:3], l[0:3])
		iid[3] = 0xff
		iid[4] = 0xfe
		copy(iid[5:8], l[3:6])
		iid[0] ^= 0x02
	case 2:
		iid[3] = 0xff
		iid[4] = 0xfe
		iid[6] = l[0]
		iid[7] = l[1]
	default:
		return iid, false
	}
	return iid, true
}

// IsLinkAddrBased reports whether the IID of a is the one derived from l.
func IsLinkAddrBased(a [16]byte, l core.LinkAddr) bool {
	iid, ok := IIDFromLinkAddr(l)
	if !ok {
		return false
	}
	return [8]byte(a[8:16]) == iid
}

// IsIID16Compressible reports whether the IID can be carried in 16 bits:
// bytes 8..13 are zero and the high bit of byte 14 is clear.
func IsIID16Compressible(a [16]byte) bool {
	for _, b := range a[8:14] {
		if b != 0 {
			return false
		}
	}
	return a[14]&0x80 == 0
}
