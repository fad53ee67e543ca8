// Package tlb implements the translation caches of a hart. There are three
// direct-mapped tables, one for each access type, that map virtual pages to
// windows of host memory.
package tlb

import (
	"github.com/sarchlab/twmmu/mem"
	"github.com/sarchlab/twmmu/mem/vm"
)

// NumEntries is the number of slots in each table.
const NumEntries = 256

// Hit is the outcome of a lookup.
type Hit int

// Lookup outcomes.
const (
	Miss Hit = iota
	HitPlain
	HitCheckTriggers
)

// A Slot is one TLB slot.
type Slot struct {
	Tag    Tag
	Window mem.Window

	// PTE holds the leaf bits the walker produced for the page.
	PTE uint64
}

// A Table is a direct-mapped translation table.
type Table [NumEntries]Slot

// Index returns the slot that a virtual page maps to.
func Index(vpn uint64) int {
	return int(vpn % NumEntries)
}

// A Cache holds the fetch, load and store tables. A Cache holds no pointers,
// so copying it by value produces an independent copy.
type Cache struct {
	Fetch Table
	Load  Table
	Store Table
}

// NewCache creates a Cache with all entries invalid.
func NewCache() *Cache {
	return new(Cache)
}

// Table returns the table that serves the access type.
func (c *Cache) Table(access vm.AccessType) *Table {
	switch access {
	case vm.Fetch:
		return &c.Fetch
	case vm.Load:
		return &c.Load
	default:
		return &c.Store
	}
}

// Lookup finds the entry that maps vaddr for the access type.
func (c *Cache) Lookup(vaddr uint64, access vm.AccessType) (Slot, Hit) {
	vpn := vm.VPN(vaddr)
	entry := c.Table(access)[Index(vpn)]

	return entry, entry.Tag.Match(vpn)
}

// Refill installs the translation of the page that contains vaddr into the
// table of the access type, replacing whatever the slot held.
func (c *Cache) Refill(
	vaddr uint64,
	window mem.Window,
	pte uint64,
	access vm.AccessType,
	checkTriggers bool,
) {
	vpn := vm.VPN(vaddr)

	tag := Tag{Kind: Valid, VPN: vpn}
	if checkTriggers {
		tag.Kind = ValidCheckTriggers
	}

	c.Table(access)[Index(vpn)] = Slot{
		Tag:    tag,
		Window: window,
		PTE:    pte,
	}
}

// Invalidate drops the translation of the page that contains vaddr from all
// tables.
func (c *Cache) Invalidate(vaddr uint64) {
	vpn := vm.VPN(vaddr)
	i := Index(vpn)

	for _, t := range []*Table{&c.Fetch, &c.Load, &c.Store} {
		if t[i].Tag.Match(vpn) != Miss {
			t[i] = Slot{}
		}
	}
}

// Flush invalidates every entry of every table.
func (c *Cache) Flush() {
	*c = Cache{}
}

// NumValid returns the number of valid entries in the table of the access
// type.
func (c *Cache) NumValid(access vm.AccessType) int {
	n := 0

	for _, e := range c.Table(access) {
		if e.Tag.Kind != Invalid {
			n++
		}
	}

	return n
}
