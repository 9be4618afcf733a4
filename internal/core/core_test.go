package core

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestBufferReads(t *testing.T) {
	b := NewBuffer([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	if v, err := b.Byte(0); err != nil || v != 0x01 {
		t.Fatalf("Byte(0) = %#x, %v", v, err)
	}
	if v, err := b.Uint16(1); err != nil || v != 0x0203 {
		t.Fatalf("Uint16(1) = %#x, %v", v, err)
	}
	if v, err := b.Uint24(2); err != nil || v != 0x030405 {
		t.Fatalf("Uint24(2) = %#x, %v", v, err)
	}

	if err := b.Advance(2); err != nil {
		t.Fatal(err)
	}
	if b.Pos() != 2 || b.Remaining() != 3 {
		t.Fatalf("pos=%d remaining=%d", b.Pos(), b.Remaining())
	}
	if v, _ := b.Byte(0); v != 0x03 {
		t.Errorf("reads are relative to the cursor, got %#x", v)
	}
	if !bytes.Equal(b.Payload(), []byte{0x03, 0x04, 0x05}) {
		t.Errorf("Payload = %x", b.Payload())
	}

	dst := make([]byte, 2)
	if err := b.CopyOut(1, dst); err != nil || !bytes.Equal(dst, []byte{0x04, 0x05}) {
		t.Errorf("CopyOut = %x, %v", dst, err)
	}

	p, err := b.Next(3)
	if err != nil || !bytes.Equal(p, []byte{0x03, 0x04, 0x05}) {
		t.Fatalf("Next(3) = %x, %v", p, err)
	}
	if b.Remaining() != 0 || b.Payload() != nil {
		t.Errorf("expected empty remainder")
	}
}

func TestBufferBoundsChecks(t *testing.T) {
	b := NewBuffer([]byte{0xaa, 0xbb})

	checks := map[string]error{}
	_, checks["Byte"] = b.Byte(2)
	_, checks["Uint16"] = b.Uint16(1)
	_, checks["Uint24"] = b.Uint24(0)
	_, checks["Byte negative"] = b.Byte(-1)
	_, checks["Next"] = b.Next(3)
	checks["CopyOut"] = b.CopyOut(0, make([]byte, 3))
	checks["Advance"] = b.Advance(3)
	checks["Rewind"] = b.Rewind(1)
	checks["Seek"] = b.Seek(3)

	for name, err := range checks {
		if !errors.Is(err, ErrTruncatedPacket) {
			t.Errorf("%s: expected ErrTruncatedPacket, got %v", name, err)
		}
	}
	if b.Pos() != 0 {
		t.Errorf("failed reads must not move the cursor, pos=%d", b.Pos())
	}
}

func TestBufferCursorMoves(t *testing.T) {
	b := NewBuffer(make([]byte, 10))
	if err := b.Advance(6); err != nil {
		t.Fatal(err)
	}
	if err := b.Advance(-2); err != nil || b.Pos() != 4 {
		t.Fatalf("Advance(-2): pos=%d err=%v", b.Pos(), err)
	}
	if err := b.Rewind(4); err != nil || b.Pos() != 0 {
		t.Fatalf("Rewind(4): pos=%d err=%v", b.Pos(), err)
	}
	if err := b.Seek(10); err != nil || b.Remaining() != 0 {
		t.Fatalf("Seek(10): remaining=%d err=%v", b.Remaining(), err)
	}

	b.SetBytes([]byte{1, 2, 3})
	if b.Pos() != 0 || b.Len() != 3 {
		t.Errorf("SetBytes must reset the cursor, pos=%d len=%d", b.Pos(), b.Len())
	}
}

func TestBufferWrites(t *testing.T) {
	b := NewBuffer(nil)
	b.PutByte(2, 0x60)
	b.PutUint16(3, 0xf0b0)
	b.PutBytes(0, []byte{0x01, 0x02})
	b.Append(0xff)

	want := []byte{0x01, 0x02, 0x60, 0xf0, 0xb0, 0xff}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("Bytes = %x, want %x", b.Bytes(), want)
	}

	if err := b.Seek(2); err != nil {
		t.Fatal(err)
	}
	b.Splice(2, 5, []byte{0xaa})
	if !bytes.Equal(b.Bytes(), []byte{0x01, 0x02, 0xaa, 0xff}) {
		t.Errorf("Splice = %x", b.Bytes())
	}
	if b.Pos() != 2 {
		t.Errorf("Splice must leave the cursor, pos=%d", b.Pos())
	}
}

func TestBufferAttributes(t *testing.T) {
	b := NewBuffer(nil)
	if _, ok := b.Attr("missing"); ok {
		t.Error("empty buffer has no attributes")
	}
	if b.IntAttr(AttrLinkSequence, -1) != -1 || b.StringAttr(AttrPacketType) != "" || b.LinkSource() != nil {
		t.Error("absent attributes must return defaults")
	}

	b.SetAttr(AttrLinkSequence, 12)
	b.SetAttr(AttrPacketType, PacketTypeIPHC)
	b.SetAttr(AttrLinkSource, LinkAddr{0x12, 0x34})
	if b.IntAttr(AttrLinkSequence, -1) != 12 {
		t.Error("IntAttr")
	}
	if b.StringAttr(AttrPacketType) != PacketTypeIPHC {
		t.Error("StringAttr")
	}
	if !b.LinkSource().Equal(LinkAddr{0x12, 0x34}) {
		t.Error("LinkSource")
	}
	if b.LinkDestination() != nil {
		t.Error("LinkDestination should be unset")
	}
}

func TestRawFrameBuffer(t *testing.T) {
	f := RawFrame{
		Data:        []byte{0x7f, 0x3b},
		Timestamp:   time.Now(),
		Source:      LinkAddr{0, 1, 2, 3, 4, 5, 6, 7},
		Destination: BroadcastShort,
		Sequence:    200,
		PAN:         -1,
	}
	b := f.Buffer()
	if !bytes.Equal(b.Bytes(), f.Data) {
		t.Errorf("data = %x", b.Bytes())
	}
	if !b.LinkSource().Equal(f.Source) || !b.LinkDestination().IsBroadcast() {
		t.Errorf("link attributes not set: %v %v", b.LinkSource(), b.LinkDestination())
	}
	if b.IntAttr(AttrLinkSequence, -1) != 200 {
		t.Error("sequence attribute not set")
	}
	if _, ok := b.Attr(AttrLinkPAN); ok {
		t.Error("unknown PAN must not be set")
	}
}

func TestParseLinkAddr(t *testing.T) {
	tests := []struct {
		in   string
		want LinkAddr
		err  bool
	}{
		{"00:50:c4:ff:fe:04:00:01", LinkAddr{0x00, 0x50, 0xc4, 0xff, 0xfe, 0x04, 0x00, 0x01}, false},
		{"00-1b-21-3a-4b-5c", LinkAddr{0x00, 0x1b, 0x21, 0x3a, 0x4b, 0x5c}, false},
		{"1234", LinkAddr{0x12, 0x34}, false},
		{"ab.cd", LinkAddr{0xab, 0xcd}, false},
		{"12:34:56", nil, true},
		{"zz:zz", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseLinkAddr(tt.in)
		if tt.err {
			if err == nil {
				t.Errorf("ParseLinkAddr(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || !got.Equal(tt.want) {
			t.Errorf("ParseLinkAddr(%q) = %v, %v", tt.in, got, err)
		}
	}

	if _, err := ParseLinkAddr("010203"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("3-byte address: expected ErrInvalidAddress, got %v", err)
	}
}

func TestLinkAddrString(t *testing.T) {
	if s := (LinkAddr{0x00, 0x12, 0x4b, 0x00}).String(); s != "00:12:4b:00" {
		t.Errorf("String = %q", s)
	}
	if s := LinkAddr(nil).String(); s != "" {
		t.Errorf("nil String = %q", s)
	}
	if !BroadcastShort.IsBroadcast() || (LinkAddr{0xff, 0xfe}).IsBroadcast() {
		t.Error("IsBroadcast")
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	all := []error{
		ErrTruncatedPacket, ErrUnsupportedDispatch, ErrUnsupportedProto, ErrInvalidAddress,
		ErrMissingContext, ErrInvalidContextIndex, ErrFragmentSizeMismatch, ErrFragmentOverlap,
		ErrFragmentOutOfBounds, ErrReassemblyLimit, ErrRateLimited, ErrConfigInvalid,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}
