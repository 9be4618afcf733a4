// Package core defines core data structures with zero external dependencies.
package core

import "encoding/binary"

// Buffer owns a frame's bytes together with a read cursor and a small set
// of named attributes (link addresses, packet type). Reads are relative to
// the cursor and bounds-checked; writes use absolute indices and grow the
// backing slice as needed. A Buffer is owned by a single in-flight frame.
type Buffer struct {
	data  []byte
	pos   int
	attrs map[string]any
}

// NewBuffer creates a buffer over data with the cursor at 0.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// SetBytes replaces the backing bytes and resets the cursor.
func (b *Buffer) SetBytes(data []byte) {
	b.data = data
	b.pos = 0
}

// Bytes returns the whole backing slice, independent of the cursor.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the length of the backing slice.
func (b *Buffer) Len() int { return len(b.data) }

// Pos returns the cursor.
func (b *Buffer) Pos() int { return b.pos }

// Remaining returns the number of bytes after the cursor.
func (b *Buffer) Remaining() int {
	if b.pos >= len(b.data) {
		return 0
	}
	return len(b.data) - b.pos
}

// Payload returns the bytes after the cursor without copying.
func (b *Buffer) Payload() []byte {
	if b.pos >= len(b.data) {
		return nil
	}
	return b.data[b.pos:]
}

func (b *Buffer) check(off, n int) error {
	if off < 0 || b.pos+off+n > len(b.data) {
		return ErrTruncatedPacket
	}
	return nil
}

// Byte reads the byte at cursor+off.
func (b *Buffer) Byte(off int) (byte, error) {
	if err := b.check(off, 1); err != nil {
		return 0, err
	}
	return b.data[b.pos+off], nil
}

// Uint16 reads a big-endian 16-bit value at cursor+off.
func (b *Buffer) Uint16(off int) (uint16, error) {
	if err := b.check(off, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b.data[b.pos+off:]), nil
}

// Uint24 reads a big-endian 24-bit value at cursor+off.
func (b *Buffer) Uint24(off int) (uint32, error) {
	if err := b.check(off, 3); err != nil {
		return 0, err
	}
	p := b.data[b.pos+off:]
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2]), nil
}

// CopyOut copies len(dst) bytes starting at cursor+off into dst.
func (b *Buffer) CopyOut(off int, dst []byte) error {
	if err := b.check(off, len(dst)); err != nil {
		return err
	}
	copy(dst, b.data[b.pos+off:])
	return nil
}

// Next returns the next n bytes and advances the cursor past them.
// The returned slice aliases the buffer.
func (b *Buffer) Next(n int) ([]byte, error) {
	if err := b.check(0, n); err != nil {
		return nil, err
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

// Advance moves the cursor forward by n bytes.
func (b *Buffer) Advance(n int) error {
	if n < 0 {
		return b.Rewind(-n)
	}
	if b.pos+n > len(b.data) {
		return ErrTruncatedPacket
	}
	b.pos += n
	return nil
}

// Rewind moves the cursor back by n bytes. Only the decoder uses this, to
// re-read a header it has already sized.
func (b *Buffer) Rewind(n int) error {
	if n > b.pos {
		return ErrTruncatedPacket
	}
	b.pos -= n
	return nil
}

// Seek sets the cursor to an absolute offset.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return ErrTruncatedPacket
	}
	b.pos = pos
	return nil
}

func (b *Buffer) grow(end int) {
	if end <= len(b.data) {
		return
	}
	if end <= cap(b.data) {
		b.data = b.data[:end]
		return
	}
	n := make([]byte, end, 2*end)
	copy(n, b.data)
	b.data = n
}

// PutByte writes v at absolute index idx.
func (b *Buffer) PutByte(idx int, v byte) {
	b.grow(idx + 1)
	b.data[idx] = v
}

// PutUint16 writes a big-endian 16-bit value at absolute index idx.
func (b *Buffer) PutUint16(idx int, v uint16) {
	b.grow(idx + 2)
	binary.BigEndian.PutUint16(b.data[idx:], v)
}

// PutBytes writes p at absolute index idx.
func (b *Buffer) PutBytes(idx int, p []byte) {
	b.grow(idx + len(p))
	copy(b.data[idx:], p)
}

// Append writes p after the current end of the buffer.
func (b *Buffer) Append(p ...byte) {
	b.data = append(b.data, p...)
}

// Splice replaces data[from:to] with p, leaving the cursor untouched.
func (b *Buffer) Splice(from, to int, p []byte) {
	out := make([]byte, 0, len(b.data)-(to-from)+len(p))
	out = append(out, b.data[:from]...)
	out = append(out, p...)
	out = append(out, b.data[to:]...)
	b.data = out
}

// SetAttr stores an attribute.
func (b *Buffer) SetAttr(key string, v any) {
	if b.attrs == nil {
		b.attrs = make(map[string]any)
	}
	b.attrs[key] = v
}

// Attr returns an attribute.
func (b *Buffer) Attr(key string) (any, bool) {
	v, ok := b.attrs[key]
	return v, ok
}

// IntAttr returns an integer attribute, or def if absent.
func (b *Buffer) IntAttr(key string, def int) int {
	if v, ok := b.attrs[key].(int); ok {
		return v
	}
	return def
}

// StringAttr returns a string attribute, or "" if absent.
func (b *Buffer) StringAttr(key string) string {
	s, _ := b.attrs[key].(string)
	return s
}

// LinkAddrAttr returns a link address attribute, or nil if absent.
func (b *Buffer) LinkAddrAttr(key string) LinkAddr {
	a, _ := b.attrs[key].(LinkAddr)
	return a
}

// LinkSource returns the link.source attribute.
func (b *Buffer) LinkSource() LinkAddr { return b.LinkAddrAttr(AttrLinkSource) }

// LinkDestination returns the link.destination attribute.
func (b *Buffer) LinkDestination() LinkAddr { return b.LinkAddrAttr(AttrLinkDestination) }
