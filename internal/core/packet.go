// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawFrame is a link-layer payload handed to the adaptation layer. The link
// layer has already stripped its own header and filled in the addressing.
type RawFrame struct {
	Data        []byte    // 6LoWPAN payload starting at the dispatch byte
	Timestamp   time.Time // Capture or receive timestamp
	Source      LinkAddr  // link.source
	Destination LinkAddr  // link.destination
	Sequence    int       // MAC sequence number, -1 when unknown
	PAN         int       // Destination PAN ID, -1 when unknown
}

// Buffer wraps the frame into a cursor buffer carrying the link attributes.
func (f RawFrame) Buffer() *Buffer {
	b := NewBuffer(f.Data)
	if f.Source != nil {
		b.SetAttr(AttrLinkSource, f.Source)
	}
	if f.Destination != nil {
		b.SetAttr(AttrLinkDestination, f.Destination)
	}
	if f.Sequence >= 0 {
		b.SetAttr(AttrLinkSequence, f.Sequence)
	}
	if f.PAN >= 0 {
		b.SetAttr(AttrLinkPAN, f.PAN)
	}
	return b
}
