package cmd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/ipv6"
	"firestige.xyz/lowpan/internal/core/lowpan"
	"firestige.xyz/lowpan/internal/link/ieee802154"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
	"firestige.xyz/lowpan/internal/pcapio"
)

type decodeOptions struct {
	pcapFile  string
	writeFile string
	srcMAC    string
	dstMAC    string
	mac       bool
	fcs       bool
	dump      bool
	stats     bool
}

var decodeOpts decodeOptions

var decodeCmd = &cobra.Command{
	Use:   "decode [hex-frame...]",
	Short: "Decompress 6LoWPAN frames into IPv6 packets",
	Long: `Decode 6LoWPAN frames given as hex arguments or read from an IEEE 802.15.4
capture (pcap or pcapng, link types 195 and 230). Fragments are reassembled.

Hex frames start at the dispatch byte unless --mac is set, in which case they
carry the 802.15.4 MAC header. Without --mac the link addresses needed for
elided interface identifiers come from --src-mac / --dst-mac.

Examples:
  lowpan decode 7f3b01f300a3375432322e32 --src-mac 00:50:c4:ff:fe:04:00:01
  lowpan decode -r capture.pcap --dump
  lowpan decode -r capture.pcap -w ipv6.pcap --stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if decodeOpts.pcapFile == "" && len(args) == 0 {
			return errors.New("nothing to decode: pass hex frames or -r capture")
		}

		adapter, err := newAdapter()
		if err != nil {
			return err
		}

		var pw packetWriter
		if decodeOpts.writeFile != "" {
			w, err := pcapio.Create(decodeOpts.writeFile)
			if err != nil {
				return err
			}
			defer w.Close()
			pw = w
		}

		d := &decoder{adapter: adapter, out: cmd.OutOrStdout(), pw: pw, dump: decodeOpts.dump}

		if decodeOpts.pcapFile != "" {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.runCapture(ctx, decodeOpts.pcapFile, decodeOpts.stats)
		}
		err = d.runHex(args, decodeOpts)
		if decodeOpts.stats {
			if serr := d.printStats(); serr != nil {
				return serr
			}
		}
		return err
	},
}

func init() {
	f := decodeCmd.Flags()
	f.StringVarP(&decodeOpts.pcapFile, "read", "r", "", "802.15.4 capture file to decode")
	f.StringVarP(&decodeOpts.writeFile, "write", "w", "", "write decoded IPv6 packets to this pcap file")
	f.StringVar(&decodeOpts.srcMAC, "src-mac", "", "link source address for hex frames")
	f.StringVar(&decodeOpts.dstMAC, "dst-mac", "", "link destination address for hex frames")
	f.BoolVar(&decodeOpts.mac, "mac", false, "hex frames include the 802.15.4 MAC header")
	f.BoolVar(&decodeOpts.fcs, "fcs", false, "hex frames with --mac end with a 2-byte FCS")
	f.BoolVar(&decodeOpts.dump, "dump", false, "print a full layer dump of each packet")
	f.BoolVar(&decodeOpts.stats, "stats", false, "print decode statistics as JSON when done")
}

// packetWriter receives every decoded packet.
type packetWriter interface {
	WritePacket(ts time.Time, p *ipv6.Packet) error
}

// decodeStats summarises a decode run.
type decodeStats struct {
	Frames    int           `json:"frames"`
	Packets   int           `json:"packets"`
	Buffered  int           `json:"fragments_buffered"`
	Errors    int           `json:"errors"`
	Pending   int           `json:"reassembly_pending"`
	Limited   int64         `json:"rate_limited"`
	Capture   *pcapio.Stats `json:"capture,omitempty"`
}

type decoder struct {
	adapter *lowpan.Adapter
	out     io.Writer
	pw      packetWriter
	dump    bool
	stats   decodeStats
}

func (d *decoder) runHex(args []string, opts decodeOptions) error {
	var src, dst core.LinkAddr
	var err error
	if opts.srcMAC != "" {
		if src, err = core.ParseLinkAddr(opts.srcMAC); err != nil {
			return fmt.Errorf("--src-mac %q: %w", opts.srcMAC, err)
		}
	}
	if opts.dstMAC != "" {
		if dst, err = core.ParseLinkAddr(opts.dstMAC); err != nil {
			return fmt.Errorf("--dst-mac %q: %w", opts.dstMAC, err)
		}
	}

	var lastErr error
	for _, arg := range args {
		data, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(arg))
		if err != nil {
			return fmt.Errorf("frame %q: %w", arg, err)
		}

		frame := core.RawFrame{Data: data, Timestamp: time.Now(), Source: src, Destination: dst, Sequence: -1, PAN: -1}
		if opts.mac {
			if frame, err = ieee802154.DecodeFrame(data, opts.fcs, time.Now()); err != nil {
				fmt.Fprintf(d.out, "error: %v\n", err)
				d.stats.Errors++
				lastErr = err
				continue
			}
		}
		if err := d.process(frame); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (d *decoder) runCapture(ctx context.Context, path string, printStats bool) error {
	r, err := pcapio.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.adapter.Run(runCtx)

	frames := make(chan core.RawFrame, 64)
	captureErr := make(chan error, 1)
	go func() {
		captureErr <- r.Capture(runCtx, frames)
		close(frames)
	}()

	for frame := range frames {
		// Errors are reported per frame; a capture keeps going.
		_ = d.process(frame)
	}
	if err := <-captureErr; err != nil {
		return err
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"file":    path,
		"frames":  d.stats.Frames,
		"packets": d.stats.Packets,
		"errors":  d.stats.Errors,
	}).Info("capture decoded")

	if printStats {
		st := r.Stats()
		d.stats.Capture = &st
		return d.printStats()
	}
	return nil
}

// process runs one frame through the adaptation layer and prints the result.
func (d *decoder) process(frame core.RawFrame) error {
	d.stats.Frames++
	pkt, ready, err := d.adapter.Input(frame)
	if err != nil {
		d.stats.Errors++
		fmt.Fprintf(d.out, "%s %s error: %v\n", stamp(frame.Timestamp), frame.Source, err)
		log.GetLogger().WithFields(map[string]interface{}{
			core.AttrLinkSource: frame.Source.String(),
			"sequence":          frame.Sequence,
		}).WithError(err).Debug("frame rejected")
		return err
	}
	if !ready {
		d.stats.Buffered++
		return nil
	}

	d.stats.Packets++
	fmt.Fprintln(d.out, summary(frame.Timestamp, pkt))

	if d.dump {
		data, err := pkt.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprint(d.out, gopacket.NewPacket(data, layers.LayerTypeIPv6, gopacket.Default).Dump())
	}
	if d.pw != nil {
		if err := d.pw.WritePacket(frame.Timestamp, pkt); err != nil {
			return fmt.Errorf("write packet: %w", err)
		}
	}
	return nil
}

func (d *decoder) printStats() error {
	d.stats.Pending = d.adapter.Reassembler().Active()
	d.stats.Limited = d.adapter.Reassembler().RateLimited()
	resultJSON, err := json.MarshalIndent(d.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format stats: %w", err)
	}
	fmt.Fprintln(d.out, string(resultJSON))
	return nil
}

func summary(ts time.Time, p *ipv6.Packet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s > %s hlim %d", stamp(ts), p.Src, p.Dst, p.HopLimit)
	if p.TrafficClass != 0 || p.FlowLabel != 0 {
		fmt.Fprintf(&sb, " tc %#02x flow %#05x", p.TrafficClass, p.FlowLabel)
	}

	payload := p.Payload
	if hbh, ok := payload.(*ipv6.HopByHop); ok {
		sb.WriteString(" hop-by-hop")
		payload = hbh.Payload
	}
	switch pl := payload.(type) {
	case *ipv6.UDP:
		fmt.Fprintf(&sb, " udp %d > %d len %d", pl.SrcPort, pl.DstPort, len(pl.Data))
	case *ipv6.ICMPv6:
		fmt.Fprintf(&sb, " icmpv6 %s code %d", pl.TypeName(), pl.Code)
	case *ipv6.Raw:
		fmt.Fprintf(&sb, " proto %d len %d", pl.Proto, len(pl.Data))
	case nil:
		fmt.Fprintf(&sb, " next-header %d (not decoded)", p.NextHeader)
	}
	return sb.String()
}

func stamp(ts time.Time) string {
	return ts.Format("15:04:05.000000")
}
