package pcapio

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/lowpan/internal/core/ipv6"
)

const snapLen = 65535

// Writer writes IPv6 packets to a pcap file with the raw IP link type.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, err
	}
	return &Writer{w: pw}, nil
}

// Create creates or truncates the file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WritePacket serialises p and appends it with timestamp ts.
func (w *Writer) WritePacket(ts time.Time, p *ipv6.Packet) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return io.ErrClosedPipe
	}
	return w.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// Close closes the underlying file when the writer was created by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.w = nil
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
