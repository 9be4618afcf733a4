package lowpan

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/lowpan/internal/core"
	"firestige.xyz/lowpan/internal/log"
	"firestige.xyz/lowpan/internal/metrics"
)

const (
	// MaxDatagramSize is the largest size an 11-bit datagram_size can hold.
	MaxDatagramSize = fragSizeMask

	defaultReassemblyTimeout = 2 * time.Second
	defaultMaxContexts       = 64
	defaultMaxDatagramSize   = 1280
)

// ReassemblyConfig configures fragment reassembly.
type ReassemblyConfig struct {
	Timeout           time.Duration // context lifetime from its first fragment (default 2s)
	MaxContexts       int           // concurrent datagrams; the oldest is evicted beyond this (default 64)
	MaxDatagramSize   int           // largest datagram_size accepted (default 1280, at most 2047)
	MaxFragsPerSource int           // per link source per window, 0 = unlimited
	RateLimitWindow   time.Duration // default 10s
}

// HeaderSizer reports the compressed and decompressed size of the headers
// at the cursor of b without consuming them. *Decoder implements it.
type HeaderSizer interface {
	HeaderSizes(b *core.Buffer) (compressed, uncompressed int, err error)
}

// fragmentKey identifies a datagram being reassembled.
type fragmentKey struct {
	source string
	tag    uint16
}

// span is a received fragment: the range of the decompressed datagram it
// covers and its bytes. For the first fragment the range is longer than
// data by the header expansion.
type span struct {
	offset, end int
	data        []byte
}

// fragmentContext is the reassembly state of one datagram.
//
// Offsets in fragment headers count bytes of the decompressed datagram,
// while fragments carry compressed bytes. Only the first fragment holds
// compressed headers, so every continuation is shifted by the same
// amount: adjust, the decompressed minus the compressed header size.
type fragmentContext struct {
	size      int // datagram_size
	received  int // decompressed bytes accounted for
	createdAt time.Time
	haveFirst bool
	adjust    int
	spans     list.List // *span sorted by offset
}

// Reassembler collects RFC 4944 fragments into complete LoWPAN frames.
// It is safe for concurrent use; all contexts share one lock.
//
// Contexts age on the frame clock: the timestamps passed to Process. A
// replayed capture therefore expires fragments by capture time, however
// long the replay takes.
type Reassembler struct {
	mu          sync.Mutex
	contexts    map[fragmentKey]*fragmentContext
	config      ReassemblyConfig
	sizer       HeaderSizer
	rateLimiter *SourceRateLimiter

	// Newest frame time seen, and the wall time it was seen at.
	frameClock time.Time
	observedAt time.Time
}

// NewReassembler creates a reassembler. sizer locates the end of the
// compressed headers in first fragments.
func NewReassembler(cfg ReassemblyConfig, sizer HeaderSizer) *Reassembler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReassemblyTimeout
	}
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = defaultMaxContexts
	}
	if cfg.MaxDatagramSize <= 0 || cfg.MaxDatagramSize > MaxDatagramSize {
		cfg.MaxDatagramSize = defaultMaxDatagramSize
	}
	return &Reassembler{
		contexts: make(map[fragmentKey]*fragmentContext),
		config:   cfg,
		sizer:    sizer,
		rateLimiter: NewSourceRateLimiter(SourceRateLimiterConfig{
			MaxFragsPerSource: cfg.MaxFragsPerSource,
			Window:            cfg.RateLimitWindow,
		}),
	}
}

// Process handles the frame at the cursor of b, received at now.
//
// Returns:
//   - not a fragment: (true, nil), b untouched
//   - fragment stored, datagram incomplete: (false, nil)
//   - datagram complete: (true, nil), the fragment in b replaced by the
//     reassembled frame starting at the cursor
//   - invalid or rejected fragment: (false, err)
//
// Expired contexts are swept on every call.
func (r *Reassembler) Process(b *core.Buffer, now time.Time) (bool, error) {
	dispatch, err := b.Byte(0)
	if err != nil {
		return false, err
	}
	first := dispatch&DispatchFragMask == DispatchFrag1
	if !first && dispatch&DispatchFragMask != DispatchFragN {
		return true, nil
	}

	hdrLen := frag1HeaderLen
	if !first {
		hdrLen = fragNHeaderLen
	}
	if b.Remaining() < hdrLen {
		return false, fmt.Errorf("fragment header: %w", core.ErrTruncatedPacket)
	}
	sizeField, _ := b.Uint16(0)
	tag, _ := b.Uint16(2)
	size := int(sizeField & fragSizeMask)
	offset := 0
	if !first {
		o, _ := b.Byte(4)
		offset = int(o) * fragOffsetUnit
	}
	data := b.Payload()[hdrLen:]

	r.mu.Lock()
	defer r.mu.Unlock()
	r.observeLocked(now)
	r.sweepLocked(now)

	link := b.LinkSource()
	source := link.String()
	if !r.rateLimiter.Allow(link, now) {
		metrics.FragmentsRateLimitedTotal.Inc()
		return false, fmt.Errorf("source %s: %w", source, core.ErrRateLimited)
	}
	if size == 0 || size > r.config.MaxDatagramSize {
		return false, fmt.Errorf("datagram size %d out of range (max %d): %w", size, r.config.MaxDatagramSize, core.ErrReassemblyLimit)
	}

	var adjust int
	if first {
		// Size the compressed headers now so continuations arriving
		// before or after can be placed.
		sub := core.NewBuffer(data)
		sub.SetAttr(core.AttrLinkSource, b.LinkSource())
		sub.SetAttr(core.AttrLinkDestination, b.LinkDestination())
		compressed, uncompressed, err := r.sizer.HeaderSizes(sub)
		if err != nil {
			return false, fmt.Errorf("first fragment: %w", err)
		}
		adjust = uncompressed - compressed
	}

	key := fragmentKey{source: source, tag: tag}
	fc, ok := r.contexts[key]
	if !ok {
		if len(r.contexts) >= r.config.MaxContexts {
			r.evictOldestLocked()
		}
		fc = &fragmentContext{size: size, createdAt: now}
		r.contexts[key] = fc
		metrics.ReassemblyActiveContexts.Inc()
	} else if fc.size != size {
		r.evictLocked(key, metrics.EvictInvalid)
		return false, fmt.Errorf("tag %#04x size %d, context has %d: %w", tag, size, fc.size, core.ErrFragmentSizeMismatch)
	}

	if first {
		if fc.haveFirst {
			// Duplicate first fragment; the adjustment cannot change.
			return false, nil
		}
		// The first fragment sits at decompressed offset 0 and covers its
		// compressed length plus the header expansion.
		fc.haveFirst = true
		fc.adjust = adjust
	}

	length := len(data)
	if first {
		length += adjust
	}
	if length <= 0 || offset+length > fc.size {
		r.evictLocked(key, metrics.EvictInvalid)
		return false, fmt.Errorf("fragment [%d,%d) beyond datagram size %d: %w", offset, offset+length, fc.size, core.ErrFragmentOutOfBounds)
	}

	// The frame bytes belong to the caller; keep a copy.
	s := &span{offset: offset, end: offset + length, data: append([]byte(nil), data...)}
	dup, err := insertSpan(&fc.spans, s)
	if err != nil {
		r.evictLocked(key, metrics.EvictInvalid)
		return false, fmt.Errorf("tag %#04x: %w", tag, err)
	}
	if dup {
		return false, nil
	}
	fc.received += length

	// A lone first fragment cannot complete a datagram even when it
	// accounts for all of it.
	if !fc.haveFirst || fc.received != fc.size || fc.spans.Len() < 2 {
		return false, nil
	}

	frame := fc.assemble()
	r.completeLocked(key)
	b.Splice(b.Pos(), b.Len(), frame)
	b.SetAttr(core.AttrReassembled, true)
	log.GetLogger().WithFields(map[string]interface{}{
		"source": source,
		"tag":    tag,
		"size":   size,
	}).Debug("datagram reassembled")
	return true, nil
}

// insertSpan adds s to the sorted list. An identical range is reported as
// a duplicate and not stored; any other overlap is an error.
func insertSpan(spans *list.List, s *span) (bool, error) {
	var before *list.Element
	for e := spans.Front(); e != nil; e = e.Next() {
		q := e.Value.(*span)
		if q.offset == s.offset && q.end == s.end {
			return true, nil
		}
		if s.offset < q.end && q.offset < s.end {
			return false, fmt.Errorf("[%d,%d) overlaps [%d,%d): %w", s.offset, s.end, q.offset, q.end, core.ErrFragmentOverlap)
		}
		if before == nil && q.offset > s.offset {
			before = e
		}
	}
	if before != nil {
		spans.InsertBefore(s, before)
	} else {
		spans.PushBack(s)
	}
	return false, nil
}

// assemble concatenates the pieces into a compressed frame. The first
// fragment's data starts the frame; continuation data lands at its
// decompressed offset minus adjust.
func (fc *fragmentContext) assemble() []byte {
	frame := make([]byte, fc.size-fc.adjust)
	for e := fc.spans.Front(); e != nil; e = e.Next() {
		s := e.Value.(*span)
		at := 0
		if s.offset > 0 {
			at = s.offset - fc.adjust
		}
		copy(frame[at:], s.data)
	}
	return frame
}

// Sweep evicts contexts older than the timeout at now and returns how many
// were removed.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(now)
}

// Run sweeps expired contexts once per timeout until ctx is done. Sweeps
// use the frame clock advanced by the wall time elapsed since the last
// fragment, so a link that goes quiet still has its contexts expired while
// a replayed capture keeps its own time.
func (r *Reassembler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case wall := <-ticker.C:
			if n := r.sweepIdle(wall); n > 0 {
				log.GetLogger().Debugf("evicted %d expired reassembly contexts", n)
			}
		}
	}
}

// sweepIdle is one Run tick at wall time wall.
func (r *Reassembler) sweepIdle(wall time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frameClock.IsZero() {
		return 0
	}
	idle := wall.Sub(r.observedAt)
	if idle < 0 {
		idle = 0
	}
	return r.sweepLocked(r.frameClock.Add(idle))
}

func (r *Reassembler) observeLocked(now time.Time) {
	if now.After(r.frameClock) {
		r.frameClock = now
	}
	r.observedAt = time.Now()
}

// Active returns the number of datagrams being reassembled.
func (r *Reassembler) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// RateLimited returns the number of fragments rejected by the rate limiter.
func (r *Reassembler) RateLimited() int64 {
	return r.rateLimiter.Rejected()
}

func (r *Reassembler) sweepLocked(now time.Time) int {
	r.rateLimiter.Prune(now)
	n := 0
	for key, fc := range r.contexts {
		if now.Sub(fc.createdAt) > r.config.Timeout {
			r.evictLocked(key, metrics.EvictTimeout)
			n++
		}
	}
	return n
}

func (r *Reassembler) evictOldestLocked() {
	var (
		oldest fragmentKey
		at     time.Time
		found  bool
	)
	for key, fc := range r.contexts {
		if !found || fc.createdAt.Before(at) {
			oldest, at, found = key, fc.createdAt, true
		}
	}
	if found {
		r.evictLocked(oldest, metrics.EvictCapacity)
	}
}

func (r *Reassembler) evictLocked(key fragmentKey, reason string) {
	if _, ok := r.contexts[key]; !ok {
		return
	}
	delete(r.contexts, key)
	metrics.ReassemblyActiveContexts.Dec()
	metrics.ReassemblyEvictedTotal.WithLabelValues(reason).Inc()
	log.GetLogger().WithFields(map[string]interface{}{
		"source": key.source,
		"tag":    key.tag,
		"reason": reason,
	}).Debug("reassembly context evicted")
}

func (r *Reassembler) completeLocked(key fragmentKey) {
	delete(r.contexts, key)
	metrics.ReassemblyActiveContexts.Dec()
	metrics.ReassemblyCompletedTotal.Inc()
}
