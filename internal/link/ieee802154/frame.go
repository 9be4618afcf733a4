// Package ieee802154 decodes IEEE 802.15.4 MAC headers far enough to hand the
// 6LoWPAN payload and its link addressing to the adaptation layer.
package ieee802154

import (
	"encoding/binary"
	"fmt"
	"time"

	"firestige.xyz/lowpan/internal/core"
)

const (
	frameControlLen = 2
	fcsLen          = 2

	// Frame control bits (little-endian 16-bit field)
	fcFrameTypeMask    = 0x0007
	fcSecurity         = 0x0008
	fcFramePending     = 0x0010
	fcAckRequest       = 0x0020
	fcPANIDCompression = 0x0040
	fcSeqSuppression   = 0x0100
	fcIEPresent        = 0x0200
	fcDstModeShift     = 10
	fcVersionShift     = 12
	fcSrcModeShift     = 14
)

// FrameType is the 3-bit MAC frame type.
type FrameType uint8

const (
	FrameTypeBeacon  FrameType = 0
	FrameTypeData    FrameType = 1
	FrameTypeAck     FrameType = 2
	FrameTypeCommand FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeBeacon:
		return "beacon"
	case FrameTypeData:
		return "data"
	case FrameTypeAck:
		return "ack"
	case FrameTypeCommand:
		return "command"
	default:
		return fmt.Sprintf("reserved(%d)", uint8(t))
	}
}

// AddrMode is the 2-bit addressing mode of the source or destination.
type AddrMode uint8

const (
	AddrModeNone     AddrMode = 0
	AddrModeShort    AddrMode = 2
	AddrModeExtended AddrMode = 3
)

func (m AddrMode) len() int {
	switch m {
	case AddrModeShort:
		return 2
	case AddrModeExtended:
		return 8
	default:
		return 0
	}
}

// Header is a decoded MAC header. Addresses are converted from the
// little-endian wire order to canonical (most significant byte first) order.
type Header struct {
	FrameType        FrameType
	Security         bool
	FramePending     bool
	AckRequest       bool
	PANIDCompression bool
	Version          uint8

	Sequence    uint8
	HasSequence bool

	DstMode AddrMode
	DstPAN  uint16
	Dst     core.LinkAddr

	SrcMode AddrMode
	SrcPAN  uint16
	Src     core.LinkAddr

	HasDstPAN bool
	HasSrcPAN bool

	// Only set when the frame was decoded with a trailing FCS
	FCS      uint16
	FCSValid bool
}

// Decode parses the MAC header of an 802.15.4 frame. When hasFCS is set the
// last two bytes are treated as the frame check sequence and excluded from
// the returned payload.
func Decode(data []byte, hasFCS bool) (Header, []byte, error) {
	var hdr Header

	end := len(data)
	if hasFCS {
		if end < frameControlLen+fcsLen {
			return hdr, nil, core.ErrTruncatedPacket
		}
		end -= fcsLen
		hdr.FCS = binary.LittleEndian.Uint16(data[end:])
		hdr.FCSValid = Checksum(data[:end]) == hdr.FCS
	}
	if end < frameControlLen {
		return hdr, nil, core.ErrTruncatedPacket
	}

	fc := binary.LittleEndian.Uint16(data[0:2])
	hdr.FrameType = FrameType(fc & fcFrameTypeMask)
	hdr.Security = fc&fcSecurity != 0
	hdr.FramePending = fc&fcFramePending != 0
	hdr.AckRequest = fc&fcAckRequest != 0
	hdr.PANIDCompression = fc&fcPANIDCompression != 0
	hdr.Version = uint8(fc>>fcVersionShift) & 0x03
	hdr.DstMode = AddrMode(fc>>fcDstModeShift) & 0x03
	hdr.SrcMode = AddrMode(fc>>fcSrcModeShift) & 0x03

	if hdr.Version == 3 {
		return hdr, nil, fmt.Errorf("802.15.4 frame version %d: %w", hdr.Version, core.ErrUnsupportedProto)
	}
	if hdr.DstMode == 1 || hdr.SrcMode == 1 {
		return hdr, nil, fmt.Errorf("802.15.4 reserved addressing mode: %w", core.ErrUnsupportedProto)
	}
	if hdr.Security {
		return hdr, nil, fmt.Errorf("802.15.4 secured frame: %w", core.ErrUnsupportedProto)
	}
	if hdr.Version == 2 && fc&fcIEPresent != 0 {
		return hdr, nil, fmt.Errorf("802.15.4 information elements: %w", core.ErrUnsupportedProto)
	}

	offset := frameControlLen
	need := func(n int) error {
		if offset+n > end {
			return core.ErrTruncatedPacket
		}
		return nil
	}

	if hdr.Version != 2 || fc&fcSeqSuppression == 0 {
		if err := need(1); err != nil {
			return hdr, nil, err
		}
		hdr.Sequence = data[offset]
		hdr.HasSequence = true
		offset++
	}

	if hdr.DstMode != AddrModeNone {
		n := hdr.DstMode.len()
		if err := need(2 + n); err != nil {
			return hdr, nil, err
		}
		hdr.DstPAN = binary.LittleEndian.Uint16(data[offset:])
		hdr.HasDstPAN = true
		hdr.Dst = reverse(data[offset+2 : offset+2+n])
		offset += 2 + n
	}

	if hdr.SrcMode != AddrModeNone {
		// The source PAN is elided when compression is on and both
		// addresses are present; it then equals the destination PAN.
		if !hdr.PANIDCompression || hdr.DstMode == AddrModeNone {
			if err := need(2); err != nil {
				return hdr, nil, err
			}
			hdr.SrcPAN = binary.LittleEndian.Uint16(data[offset:])
			hdr.HasSrcPAN = true
			offset += 2
		} else {
			hdr.SrcPAN = hdr.DstPAN
		}
		n := hdr.SrcMode.len()
		if err := need(n); err != nil {
			return hdr, nil, err
		}
		hdr.Src = reverse(data[offset : offset+n])
		offset += n
	}

	return hdr, data[offset:end], nil
}

// PAN returns the PAN the frame was sent in, or -1 if the header carries none.
func (h Header) PAN() int {
	switch {
	case h.HasDstPAN:
		return int(h.DstPAN)
	case h.HasSrcPAN:
		return int(h.SrcPAN)
	default:
		return -1
	}
}

// RawFrame turns a decoded data frame into the input of the adaptation layer.
func (h Header) RawFrame(payload []byte, ts time.Time) (core.RawFrame, error) {
	if h.FrameType != FrameTypeData {
		return core.RawFrame{}, fmt.Errorf("802.15.4 %s frame: %w", h.FrameType, core.ErrUnsupportedProto)
	}
	seq := -1
	if h.HasSequence {
		seq = int(h.Sequence)
	}
	return core.RawFrame{
		Data:        payload,
		Timestamp:   ts,
		Source:      h.Src,
		Destination: h.Dst,
		Sequence:    seq,
		PAN:         h.PAN(),
	}, nil
}

// DecodeFrame is Decode followed by Header.RawFrame.
func DecodeFrame(data []byte, hasFCS bool, ts time.Time) (core.RawFrame, error) {
	hdr, payload, err := Decode(data, hasFCS)
	if err != nil {
		return core.RawFrame{}, err
	}
	return hdr.RawFrame(payload, ts)
}

// Checksum computes the 802.15.4 FCS (CRC-16/KERMIT, reflected polynomial
// 0x8408, zero initial value).
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func reverse(b []byte) core.LinkAddr {
	out := make(core.LinkAddr, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
