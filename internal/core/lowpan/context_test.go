package lowpan

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lowpan/internal/core"
)

func TestContextTableSetAndGet(t *testing.T) {
	table := NewContextTable()
	prefix := [8]byte{0x20, 0x01, 0x04, 0x20, 0x5f, 0xff, 0x00, 0x7d}
	require.NoError(t, table.Set(0, prefix))

	got, ok := table.Get(0)
	require.True(t, ok)
	assert.Equal(t, prefix, got)

	_, ok = table.Get(1)
	assert.False(t, ok)

	table.Clear(0)
	_, ok = table.Get(0)
	assert.False(t, ok)
}

func TestContextTableIndexRange(t *testing.T) {
	table := NewContextTable()
	for _, idx := range []int{-1, MaxContexts, 100} {
		assert.ErrorIs(t, table.Set(idx, [8]byte{}), core.ErrInvalidContextIndex, "index %d", idx)
		_, ok := table.Get(idx)
		assert.False(t, ok)
	}
	assert.NoError(t, table.Set(MaxContexts-1, [8]byte{1}))
}

func TestContextTableSetPrefix(t *testing.T) {
	table := NewContextTable()
	require.NoError(t, table.SetPrefix(2, netip.MustParsePrefix("2001:db8:0:1::/64")))
	got, ok := table.Get(2)
	require.True(t, ok)
	assert.Equal(t, [8]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 1}, got)

	assert.ErrorIs(t, table.SetPrefix(3, netip.MustParsePrefix("2001:db8::/48")), core.ErrInvalidAddress)
	assert.ErrorIs(t, table.SetPrefix(3, netip.MustParsePrefix("10.0.0.0/8")), core.ErrInvalidAddress)
	assert.ErrorIs(t, table.SetPrefix(16, netip.MustParsePrefix("2001:db8::/64")), core.ErrInvalidContextIndex)
}

func TestContextTableLookupFirstMatchWins(t *testing.T) {
	table := NewContextTable()
	require.NoError(t, table.SetPrefix(9, netip.MustParsePrefix("2001:db8::/64")))
	require.NoError(t, table.SetPrefix(4, netip.MustParsePrefix("2001:db8::/64")))
	require.NoError(t, table.SetPrefix(1, netip.MustParsePrefix("2001:db8:0:1::/64")))

	idx, ok := table.Lookup(netip.MustParseAddr("2001:db8::7").As16())
	require.True(t, ok)
	assert.Equal(t, 4, idx)

	idx, ok = table.Lookup(netip.MustParseAddr("2001:db8:0:1::7").As16())
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = table.Lookup(netip.MustParseAddr("2001:db8:0:2::7").As16())
	assert.False(t, ok)
}

func TestContextTableNil(t *testing.T) {
	var table *ContextTable
	_, ok := table.Lookup(netip.MustParseAddr("2001:db8::1").As16())
	assert.False(t, ok)
	_, ok = table.Get(0)
	assert.False(t, ok)
	assert.Empty(t, table.Prefixes())
}

func TestContextTablePrefixes(t *testing.T) {
	table := NewContextTable()
	require.NoError(t, table.SetPrefix(0, netip.MustParsePrefix("2001:420:5fff:7d::/64")))
	require.NoError(t, table.SetPrefix(15, netip.MustParsePrefix("fd00:1::/64")))

	assert.Equal(t, map[int]netip.Prefix{
		0:  netip.MustParsePrefix("2001:420:5fff:7d::/64"),
		15: netip.MustParsePrefix("fd00:1::/64"),
	}, table.Prefixes())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		dispatch byte
		want     string
	}{
		{0x41, core.PacketTypeIPv6},
		{0x60, core.PacketTypeIPHC},
		{0x7f, core.PacketTypeIPHC},
		{0xc0, core.PacketTypeFragFirst},
		{0xc7, core.PacketTypeFragFirst},
		{0xe0, core.PacketTypeFragNext},
		{0xe7, core.PacketTypeFragNext},
		{0x00, core.PacketTypeNotLowpan},
		{0x3f, core.PacketTypeNotLowpan},
		{0x42, core.PacketTypeUnknown},
		{0x80, core.PacketTypeUnknown},
		{0xf0, core.PacketTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.dispatch), "dispatch %#02x", tt.dispatch)
	}
}
