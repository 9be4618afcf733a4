package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"

	"github.com/spf13/cobra"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/ipv6"
)

type encodeOptions struct {
	src, dst       string
	srcMAC, dstMAC string
	proto          string
	sport, dport   uint16
	hopLimit       uint8
	trafficClass   uint8
	flowLabel      uint32
	payload        string
	payloadHex     string
	echoID         uint16
	echoSeq        uint16
}

var encodeOpts encodeOptions

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Compress an IPv6 packet into an IPHC frame",
	Long: `Build an IPv6 packet from flags, compress it and print the frame as hex.

Addresses default to the link-local address derived from the matching
--src-mac / --dst-mac. Passing the link addresses lets the encoder elide
interface identifiers.

Examples:
  lowpan encode --src-mac 00:50:c4:ff:fe:04:00:01 --dst ff02::1 --payload T22.2
  lowpan encode --src 2001:db8::1 --dst 2001:db8::2 --sport 5683 --dport 5683 --payload-hex 4001
  lowpan encode --proto icmpv6 --src fe80::1 --dst fe80::2 --echo-id 7 --echo-seq 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEncode(cmd.OutOrStdout(), encodeOpts)
	},
}

func init() {
	f := encodeCmd.Flags()
	f.StringVar(&encodeOpts.src, "src", "", "source IPv6 address")
	f.StringVar(&encodeOpts.dst, "dst", "", "destination IPv6 address")
	f.StringVar(&encodeOpts.srcMAC, "src-mac", "", "source link address (2, 6 or 8 bytes hex)")
	f.StringVar(&encodeOpts.dstMAC, "dst-mac", "", "destination link address (2, 6 or 8 bytes hex)")
	f.StringVar(&encodeOpts.proto, "proto", "udp", "payload protocol: udp | icmpv6")
	f.Uint16Var(&encodeOpts.sport, "sport", 0xf0b0, "UDP source port")
	f.Uint16Var(&encodeOpts.dport, "dport", 0xf0b0, "UDP destination port")
	f.Uint8Var(&encodeOpts.hopLimit, "hop-limit", 64, "hop limit")
	f.Uint8Var(&encodeOpts.trafficClass, "tc", 0, "traffic class")
	f.Uint32Var(&encodeOpts.flowLabel, "flow", 0, "flow label (20 bits)")
	f.StringVar(&encodeOpts.payload, "payload", "", "payload as text")
	f.StringVar(&encodeOpts.payloadHex, "payload-hex", "", "payload as hex, overrides --payload")
	f.Uint16Var(&encodeOpts.echoID, "echo-id", 0, "ICMPv6 echo identifier")
	f.Uint16Var(&encodeOpts.echoSeq, "echo-seq", 0, "ICMPv6 echo sequence number")
}

func runEncode(out io.Writer, opts encodeOptions) error {
	pkt, err := buildPacket(opts)
	if err != nil {
		return err
	}

	adapter, err := newAdapter()
	if err != nil {
		return err
	}
	frame, err := adapter.Output(pkt)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hex.EncodeToString(frame))
	return nil
}

func buildPacket(opts encodeOptions) (*ipv6.Packet, error) {
	link := &ipv6.LinkInfo{}
	var err error
	if opts.srcMAC != "" {
		if link.Source, err = core.ParseLinkAddr(opts.srcMAC); err != nil {
			return nil, fmt.Errorf("--src-mac %q: %w", opts.srcMAC, err)
		}
	}
	if opts.dstMAC != "" {
		if link.Destination, err = core.ParseLinkAddr(opts.dstMAC); err != nil {
			return nil, fmt.Errorf("--dst-mac %q: %w", opts.dstMAC, err)
		}
	}

	src, err := resolveAddr("--src", opts.src, link.Source)
	if err != nil {
		return nil, err
	}
	dst, err := resolveAddr("--dst", opts.dst, link.Destination)
	if err != nil {
		return nil, err
	}

	data := []byte(opts.payload)
	if opts.payloadHex != "" {
		if data, err = hex.DecodeString(opts.payloadHex); err != nil {
			return nil, fmt.Errorf("--payload-hex: %w", err)
		}
	}

	var payload ipv6.Payload
	switch opts.proto {
	case "udp":
		payload = ipv6.NewUDP(opts.sport, opts.dport, data)
	case "icmpv6":
		body := make([]byte, 4, 4+len(data))
		binary.BigEndian.PutUint16(body[0:2], opts.echoID)
		binary.BigEndian.PutUint16(body[2:4], opts.echoSeq)
		payload = &ipv6.ICMPv6{Type: 128, Body: append(body, data...)}
	default:
		return nil, fmt.Errorf("--proto %q: %w", opts.proto, core.ErrUnsupportedProto)
	}

	pkt := ipv6.NewPacket(src, dst, opts.hopLimit, payload)
	pkt.TrafficClass = opts.trafficClass
	pkt.FlowLabel = opts.flowLabel
	pkt.Finalize()
	if link.Source != nil || link.Destination != nil {
		pkt.Link = link
	}
	return pkt, nil
}

// resolveAddr parses s, or derives the link-local address of mac when s is
// empty.
func resolveAddr(flag, s string, mac core.LinkAddr) (netip.Addr, error) {
	if s != "" {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%s %q: %w", flag, s, err)
		}
		if !a.Is6() || a.Is4In6() {
			return netip.Addr{}, fmt.Errorf("%s %q: %w", flag, s, core.ErrInvalidAddress)
		}
		return a, nil
	}
	iid, ok := ipv6.IIDFromLinkAddr(mac)
	if !ok {
		return netip.Addr{}, fmt.Errorf("%s is required without a link address", flag)
	}
	var a [16]byte
	a[0], a[1] = 0xfe, 0x80
	copy(a[8:], iid[:])
	return netip.AddrFrom16(a), nil
}
