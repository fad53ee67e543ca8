// Package icache implements a direct-mapped cache of decoded instructions.
package icache

// NumEntries is the number of slots in the cache.
const NumEntries = 1024

// Alignment is the minimum alignment of an instruction in bytes.
const Alignment = 2

// Insn is an instruction as decoded by the executor. The cache does not look
// into it.
type Insn any

// A Decoder turns the raw bits of an instruction into an Insn.
type Decoder interface {
	Decode(bits uint64) Insn
}

// A Fetch is a decoded instruction with the bits it was decoded from.
type Fetch struct {
	Insn   Insn
	Bits   uint64
	Length int
}

// A Slot is one line of the cache.
type Slot struct {
	valid bool
	tag   uint64
	Fetch Fetch
}

// Tag returns the fetch address the entry caches.
func (e *Slot) Tag() (addr uint64, valid bool) {
	return e.tag, e.valid
}

// Length returns the length in bytes of the instruction whose lowest 16 bits
// are given.
func Length(bits uint64) int {
	switch {
	case bits&0x03 != 0x03:
		return 2
	case bits&0x1f != 0x1f:
		return 4
	case bits&0x3f != 0x3f:
		return 6
	default:
		return 8
	}
}

// Index returns the slot of a fetch address.
func Index(addr uint64) int {
	return int((addr / Alignment) % NumEntries)
}

// A Cache maps fetch addresses to decoded instructions.
type Cache struct {
	entries [NumEntries]Slot
}

// New creates an empty Cache.
func New() *Cache {
	return new(Cache)
}

// Lookup returns the cached instruction at addr.
func (c *Cache) Lookup(addr uint64) (Fetch, bool) {
	e := &c.entries[Index(addr)]
	if e.valid && e.tag == addr {
		return e.Fetch, true
	}

	return Fetch{}, false
}

// Fill stores the instruction at addr in its slot.
func (c *Cache) Fill(addr uint64, f Fetch) {
	c.entries[Index(addr)] = Slot{valid: true, tag: addr, Fetch: f}
}

// Invalidate empties the slot of addr so that the next fetch of any address
// in the slot refills it.
func (c *Cache) Invalidate(addr uint64) {
	c.entries[Index(addr)] = Slot{}
}

// Flush empties the whole cache.
func (c *Cache) Flush() {
	c.entries = [NumEntries]Slot{}
}

// Slot returns the slot of addr.
func (c *Cache) Slot(addr uint64) *Slot {
	return &c.entries[Index(addr)]
}
