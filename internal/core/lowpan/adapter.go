package lowpan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/core/ipv6"
	"firestige.xyz/lowpan/internal/metrics"
)

// Adapter is the frame-level entry point of the adaptation layer. Inbound
// frames go through reassembly and decompression; outbound packets through
// compression.
type Adapter struct {
	contexts    *ContextTable
	encoder     *Encoder
	decoder     *Decoder
	reassembler *Reassembler
}

// NewAdapter wires an encoder, decoder and reassembler around contexts.
func NewAdapter(contexts *ContextTable, cfg ReassemblyConfig) *Adapter {
	if contexts == nil {
		contexts = NewContextTable()
	}
	dec := NewDecoder(contexts)
	return &Adapter{
		contexts:    contexts,
		encoder:     NewEncoder(contexts),
		decoder:     dec,
		reassembler: NewReassembler(cfg, dec),
	}
}

// Contexts returns the shared context table.
func (a *Adapter) Contexts() *ContextTable { return a.contexts }

// Reassembler returns the fragment reassembler.
func (a *Adapter) Reassembler() *Reassembler { return a.reassembler }

// Run sweeps stale reassembly contexts until ctx is done.
func (a *Adapter) Run(ctx context.Context) { a.reassembler.Run(ctx) }

// Input decodes one received frame. It returns (pkt, true, nil) when a
// packet is ready and (nil, false, nil) when a fragment was buffered. A
// zero frame timestamp means now.
func (a *Adapter) Input(frame core.RawFrame) (*ipv6.Packet, bool, error) {
	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	return a.InputBuffer(frame.Buffer(), now)
}

// InputBuffer is Input for a frame already wrapped in a buffer, with the
// cursor on the dispatch byte.
func (a *Adapter) InputBuffer(b *core.Buffer, now time.Time) (*ipv6.Packet, bool, error) {
	pkt, ok, err := a.input(b, now)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(errorReason(err)).Inc()
	}
	return pkt, ok, err
}

func (a *Adapter) input(b *core.Buffer, now time.Time) (*ipv6.Packet, bool, error) {
	dispatch, err := b.Byte(0)
	if err != nil {
		return nil, false, err
	}
	kind := Classify(dispatch)
	b.SetAttr(core.AttrPacketType, kind)
	metrics.FramesTotal.WithLabelValues(kind).Inc()

	switch kind {
	case core.PacketTypeFragFirst, core.PacketTypeFragNext:
		complete, err := a.reassembler.Process(b, now)
		if err != nil || !complete {
			return nil, false, err
		}
		// b now holds the reassembled frame at the cursor.
		if dispatch, err = b.Byte(0); err != nil {
			return nil, false, err
		}
		if k := Classify(dispatch); k != core.PacketTypeIPv6 && k != core.PacketTypeIPHC {
			return nil, false, fmt.Errorf("reassembled dispatch %#02x: %w", dispatch, core.ErrUnsupportedDispatch)
		}
	case core.PacketTypeIPv6, core.PacketTypeIPHC:
	default:
		return nil, false, fmt.Errorf("dispatch %#02x (%s): %w", dispatch, kind, core.ErrUnsupportedDispatch)
	}

	pkt, err := a.decoder.Decode(b)
	if err != nil {
		return nil, false, err
	}
	return pkt, true, nil
}

// Output compresses pkt into a frame ready for the link layer.
func (a *Adapter) Output(pkt *ipv6.Packet) ([]byte, error) {
	return a.encoder.Encode(pkt)
}

// errorReason maps an error to a low-cardinality metric label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, core.ErrTruncatedPacket):
		return "truncated"
	case errors.Is(err, core.ErrUnsupportedDispatch):
		return "unsupported_dispatch"
	case errors.Is(err, core.ErrUnsupportedProto):
		return "unsupported_proto"
	case errors.Is(err, core.ErrMissingContext):
		return "missing_context"
	case errors.Is(err, core.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, core.ErrFragmentSizeMismatch):
		return "fragment_size_mismatch"
	case errors.Is(err, core.ErrFragmentOverlap):
		return "fragment_overlap"
	case errors.Is(err, core.ErrFragmentOutOfBounds):
		return "fragment_out_of_bounds"
	case errors.Is(err, core.ErrReassemblyLimit):
		return "reassembly_limit"
	case errors.Is(err, core.ErrRateLimited):
		return "rate_limited"
	default:
		return "other"
	}
}
