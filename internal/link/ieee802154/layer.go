package ieee802154

import (
	"errors"
	"fmt"

	"firestige.xyz/lowpan/internal/core"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// pcap link types for 802.15.4 captures.
const (
	LinkTypeWithFCS layers.LinkType = 195 // DLT_IEEE802_15_4_WITHFCS
	LinkTypeNoFCS   layers.LinkType = 230 // DLT_IEEE802_15_4_NOFCS
)

var (
	LayerTypeWithFCS = gopacket.RegisterLayerType(15400, gopacket.LayerTypeMetadata{
		Name:    "IEEE802154",
		Decoder: gopacket.DecodeFunc(decodeWithFCS),
	})
	LayerTypeNoFCS = gopacket.RegisterLayerType(15401, gopacket.LayerTypeMetadata{
		Name:    "IEEE802154NoFCS",
		Decoder: gopacket.DecodeFunc(decodeNoFCS),
	})
)

func init() {
	layers.LinkTypeMetadata[LinkTypeWithFCS] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeWithFCS),
		Name:       "IEEE802_15_4_WITHFCS",
		LayerType:  LayerTypeWithFCS,
	}
	layers.LinkTypeMetadata[LinkTypeNoFCS] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeNoFCS),
		Name:       "IEEE802_15_4_NOFCS",
		LayerType:  LayerTypeNoFCS,
	}
}

// HasFCS reports whether captures of the given link type carry a trailing FCS.
// ok is false for link types that are not 802.15.4.
func HasFCS(lt layers.LinkType) (fcs bool, ok bool) {
	switch lt {
	case LinkTypeWithFCS:
		return true, true
	case LinkTypeNoFCS:
		return false, true
	default:
		return false, false
	}
}

// Frame is the gopacket layer for an 802.15.4 MAC frame.
type Frame struct {
	layers.BaseLayer
	Header
	WithFCS bool
}

// LayerType returns the layer type matching the FCS setting.
func (f *Frame) LayerType() gopacket.LayerType {
	if f.WithFCS {
		return LayerTypeWithFCS
	}
	return LayerTypeNoFCS
}

// CanDecode returns the set of layer types that this DecodingLayer can decode.
func (f *Frame) CanDecode() gopacket.LayerClass {
	return f.LayerType()
}

// NextLayerType returns the layer type contained by this DecodingLayer.
func (f *Frame) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// DecodeFromBytes decodes the given bytes into this layer.
func (f *Frame) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	hdr, payload, err := Decode(data, f.WithFCS)
	if err != nil {
		if errors.Is(err, core.ErrTruncatedPacket) {
			df.SetTruncated()
		}
		return err
	}
	hdrLen := len(data) - len(payload)
	if f.WithFCS {
		hdrLen -= fcsLen
	}
	f.Header = hdr
	f.BaseLayer = layers.BaseLayer{Contents: data[:hdrLen], Payload: payload}
	return nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("802.15.4 %s seq=%d pan=%#04x %s -> %s", f.FrameType, f.Sequence, f.PAN(), f.Src, f.Dst)
}

func decodeWithFCS(data []byte, p gopacket.PacketBuilder) error {
	return decodeFrame(data, p, true)
}

func decodeNoFCS(data []byte, p gopacket.PacketBuilder) error {
	return decodeFrame(data, p, false)
}

func decodeFrame(data []byte, p gopacket.PacketBuilder, withFCS bool) error {
	f := &Frame{WithFCS: withFCS}
	if err := f.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(f)
	return p.NextDecoder(gopacket.LayerTypePayload)
}
