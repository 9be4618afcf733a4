// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors shared by the codec, the reassembler and the CLI.
var (
	// Packet decoding errors
	ErrTruncatedPacket     = errors.New("lowpan: truncated packet")
	ErrUnsupportedDispatch = errors.New("lowpan: unsupported dispatch")
	ErrUnsupportedProto    = errors.New("lowpan: unsupported protocol")
	ErrInvalidAddress      = errors.New("lowpan: invalid address")

	// Address context errors
	ErrMissingContext      = errors.New("lowpan: missing address context")
	ErrInvalidContextIndex = errors.New("lowpan: invalid address context index")

	// Fragment reassembly errors
	ErrFragmentSizeMismatch = errors.New("lowpan: fragment datagram size mismatch")
	ErrFragmentOverlap      = errors.New("lowpan: overlapping fragment")
	ErrFragmentOutOfBounds  = errors.New("lowpan: fragment exceeds datagram size")
	ErrReassemblyLimit      = errors.New("lowpan: fragment reassembly limit exceeded")
	ErrRateLimited          = errors.New("lowpan: fragment rate limit exceeded")

	// Configuration errors
	ErrConfigInvalid = errors.New("lowpan: invalid configuration")
)
