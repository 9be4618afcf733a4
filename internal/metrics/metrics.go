// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames handed to the adaptation layer by dispatch type
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_frames_total",
			Help: "Total number of link frames processed",
		},
		[]string{"dispatch"},
	)

	// DecodeErrorsTotal counts frames rejected by the decoder
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_decode_errors_total",
			Help: "Total number of frames that failed to decode",
		},
		[]string{"reason"},
	)

	// EncodedPacketsTotal counts packets compressed by the encoder
	EncodedPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpan_encoded_packets_total",
			Help: "Total number of IPv6 packets compressed",
		},
	)

	// CompressedHeaderBytes observes the IPHC header size produced by the encoder
	CompressedHeaderBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lowpan_compressed_header_bytes",
			Help:    "Size of compressed IPHC headers including NHC",
			Buckets: prometheus.LinearBuckets(2, 4, 12), // 2 .. 46 bytes
		},
	)

	// ChecksumMismatchTotal counts upper-layer checksum mismatches (advisory)
	ChecksumMismatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_checksum_mismatch_total",
			Help: "Total number of upper-layer checksum mismatches",
		},
		[]string{"protocol"},
	)

	// UnsupportedNHCTotal counts next header compression codes the decoder does not know
	UnsupportedNHCTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpan_unsupported_nhc_total",
			Help: "Total number of unsupported NHC encodings",
		},
	)

	// ReassemblyActiveContexts tracks datagrams awaiting reassembly
	ReassemblyActiveContexts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lowpan_reassembly_active_contexts",
			Help: "Number of datagrams in the reassembly table",
		},
	)

	// ReassemblyCompletedTotal counts reassembled datagrams
	ReassemblyCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpan_reassembly_completed_total",
			Help: "Total number of datagrams reassembled",
		},
	)

	// ReassemblyEvictedTotal counts discarded reassembly contexts by reason
	ReassemblyEvictedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_reassembly_evicted_total",
			Help: "Total number of reassembly contexts discarded",
		},
		[]string{"reason"},
	)

	// FragmentsRateLimitedTotal counts fragments rejected by the per-source limiter
	FragmentsRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lowpan_fragments_rate_limited_total",
			Help: "Total number of fragments rejected by the rate limiter",
		},
	)

	// CaptureFramesTotal counts frames read from capture files by outcome
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lowpan_capture_frames_total",
			Help: "Total number of frames read from capture files",
		},
		[]string{"result"},
	)
)

// Eviction reasons for ReassemblyEvictedTotal.
const (
	EvictTimeout  = "timeout"
	EvictCapacity = "capacity"
	EvictInvalid  = "invalid"
)

// Results for CaptureFramesTotal.
const (
	CaptureOK        = "ok"
	CaptureSkipped   = "skipped"
	CaptureMalformed = "malformed"
)
