package lowpan

import (
	"fmt"
	"net/netip"

	"firestige.xyz/lowpan/internal/core"
)

// MaxContexts is the number of address context slots.
const MaxContexts = 16

// ContextTable holds up to 16 /64 prefixes referenced by index in IPHC
// headers. It is filled at startup and read-only afterwards, so concurrent
// lookups need no locking.
type ContextTable struct {
	slots [MaxContexts]*[8]byte
}

// NewContextTable returns an empty table.
func NewContextTable() *ContextTable {
	return &ContextTable{}
}

// Set installs prefix (its first 8 bytes) at index.
func (t *ContextTable) Set(index int, prefix [8]byte) error {
	if index < 0 || index >= MaxContexts {
		return fmt.Errorf("context %d: %w", index, core.ErrInvalidContextIndex)
	}
	p := prefix
	t.slots[index] = &p
	return nil
}

// SetPrefix installs an IPv6 /64 prefix at index.
func (t *ContextTable) SetPrefix(index int, prefix netip.Prefix) error {
	if !prefix.Addr().Is6() || prefix.Bits() != 64 {
		return fmt.Errorf("context %d prefix %v must be an IPv6 /64: %w", index, prefix, core.ErrInvalidAddress)
	}
	a := prefix.Masked().Addr().As16()
	return t.Set(index, [8]byte(a[:8]))
}

// Clear removes the context at index.
func (t *ContextTable) Clear(index int) {
	if index >= 0 && index < MaxContexts {
		t.slots[index] = nil
	}
}

// Get returns the prefix at index.
func (t *ContextTable) Get(index int) ([8]byte, bool) {
	if t == nil || index < 0 || index >= MaxContexts || t.slots[index] == nil {
		return [8]byte{}, false
	}
	return *t.slots[index], true
}

// Lookup returns the first context whose prefix equals the first 8 bytes
// of addr. Scan order matters: the lowest matching index wins.
func (t *ContextTable) Lookup(addr [16]byte) (int, bool) {
	if t == nil {
		return 0, false
	}
	for i, p := range t.slots {
		if p != nil && *p == [8]byte(addr[:8]) {
			return i, true
		}
	}
	return 0, false
}

// Prefixes returns the installed contexts keyed by index.
func (t *ContextTable) Prefixes() map[int]netip.Prefix {
	out := make(map[int]netip.Prefix)
	if t == nil {
		return out
	}
	for i, p := range t.slots {
		if p == nil {
			continue
		}
		var a [16]byte
		copy(a[:8], p[:])
		out[i] = netip.PrefixFrom(netip.AddrFrom16(a), 64)
	}
	return out
}
