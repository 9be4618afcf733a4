// Package pcapio reads IEEE 802.15.4 captures and writes decompressed IPv6
// packets as pcap files.
package pcapio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/link/ieee802154"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
)

// pcapng section header block type
const ngMagic = 0x0a0d0d0a

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Stats are the frame counters of a Reader.
type Stats struct {
	FramesRead      uint64 `json:"frames_read"`
	FramesSkipped   uint64 `json:"frames_skipped"` // non-data frames (beacons, acks, commands)
	FramesMalformed uint64 `json:"frames_malformed"`
}

// Reader yields the 6LoWPAN payloads of 802.15.4 data frames stored in a
// pcap or pcapng file.
type Reader struct {
	src    packetSource
	fcs    bool
	closer io.Closer
	index  int

	framesRead      atomic.Uint64
	framesSkipped   atomic.Uint64
	framesMalformed atomic.Uint64
}

// FrameError reports a frame that could not be parsed. Reading may continue
// after it.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// NewReader detects the file format (pcap or pcapng) and checks that the
// capture link type is 802.15.4.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	var src packetSource
	if binary.LittleEndian.Uint32(magic) == ngMagic {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	fcs, ok := ieee802154.HasFCS(src.LinkType())
	if !ok {
		return nil, fmt.Errorf("capture link type %d (%s): %w", uint8(src.LinkType()), src.LinkType(), core.ErrUnsupportedProto)
	}
	return &Reader{src: src, fcs: fcs}, nil
}

// Open opens a capture file. The caller must Close the reader.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// LinkType returns the capture link type.
func (r *Reader) LinkType() layers.LinkType { return r.src.LinkType() }

// Next returns the next 802.15.4 data frame. Non-data frames are skipped.
// Unparseable frames are returned as *FrameError; io.EOF marks the end of
// the capture.
func (r *Reader) Next() (core.RawFrame, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return core.RawFrame{}, io.EOF
			}
			return core.RawFrame{}, err
		}
		r.index++

		hdr, payload, err := ieee802154.Decode(data, r.fcs)
		if err != nil {
			r.framesMalformed.Add(1)
			metrics.CaptureFramesTotal.WithLabelValues(metrics.CaptureMalformed).Inc()
			return core.RawFrame{}, &FrameError{Index: r.index, Err: err}
		}
		if hdr.FrameType != ieee802154.FrameTypeData {
			r.framesSkipped.Add(1)
			metrics.CaptureFramesTotal.WithLabelValues(metrics.CaptureSkipped).Inc()
			continue
		}
		if r.fcs && !hdr.FCSValid {
			log.GetLogger().WithFields(map[string]interface{}{
				"frame": r.index,
				"fcs":   fmt.Sprintf("%#04x", hdr.FCS),
			}).Debug("802.15.4 FCS mismatch")
		}

		frame, err := hdr.RawFrame(payload, ci.Timestamp)
		if err != nil {
			return core.RawFrame{}, &FrameError{Index: r.index, Err: err}
		}
		r.framesRead.Add(1)
		metrics.CaptureFramesTotal.WithLabelValues(metrics.CaptureOK).Inc()
		return frame, nil
	}
}

// Index returns the 1-based position in the capture of the last frame read.
func (r *Reader) Index() int { return r.index }

// Capture reads the whole file into output. It returns nil at end of file or
// when ctx is cancelled. Malformed frames are logged and skipped.
func (r *Reader) Capture(ctx context.Context, output chan<- core.RawFrame) error {
	logger := log.GetLogger()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var fe *FrameError
			if errors.As(err, &fe) {
				logger.WithError(err).Warn("skipping malformed frame")
				continue
			}
			return err
		}

		select {
		case output <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

// Stats returns the frame counters.
func (r *Reader) Stats() Stats {
	return Stats{
		FramesRead:      r.framesRead.Load(),
		FramesSkipped:   r.framesSkipped.Load(),
		FramesMalformed: r.framesMalformed.Load(),
	}
}

// Close closes the underlying file when the reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
