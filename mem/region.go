package mem

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoRegion is returned when a physical address is not backed by any
// region.
var ErrNoRegion = errors.New("no memory region at address")

// RegionID identifies a region in a RegionTable.
type RegionID int

// A Region places a Storage at a physical base address.
type Region struct {
	Base    uint64
	Storage *Storage
}

// End returns the first physical address after the region.
func (r Region) End() uint64 {
	return r.Base + r.Storage.Capacity()
}

// A Window is a handle to the host bytes of one physical page. Translation
// caches keep windows rather than slices or pointers; the window is resolved
// by the RegionTable on every access.
type Window struct {
	Region   RegionID
	PageBase uint64
}

// A RegionTable owns all the memory regions of a simulated system.
type RegionTable struct {
	regions []Region
	byBase  []RegionID
}

// NewRegionTable creates an empty RegionTable.
func NewRegionTable() *RegionTable {
	return &RegionTable{}
}

// Add places a storage at base and returns the ID of the new region. The
// base must be unit aligned and the region must not overlap an existing one.
func (t *RegionTable) Add(base uint64, s *Storage) RegionID {
	if base&(UnitSize-1) != 0 {
		panic(fmt.Sprintf("region base 0x%x is not page aligned", base))
	}

	r := Region{Base: base, Storage: s}
	t.regionMustNotOverlap(r)

	id := RegionID(len(t.regions))
	t.regions = append(t.regions, r)
	t.byBase = append(t.byBase, id)
	sort.Slice(t.byBase, func(i, j int) bool {
		return t.regions[t.byBase[i]].Base < t.regions[t.byBase[j]].Base
	})

	return id
}

func (t *RegionTable) regionMustNotOverlap(r Region) {
	for _, o := range t.regions {
		if r.Base < o.End() && o.Base < r.End() {
			panic(fmt.Sprintf(
				"region [0x%x, 0x%x) overlaps [0x%x, 0x%x)",
				r.Base, r.End(), o.Base, o.End()))
		}
	}
}

// Region returns the region with the given ID.
func (t *RegionTable) Region(id RegionID) Region {
	return t.regions[id]
}

// NumRegions returns the number of regions in the table.
func (t *RegionTable) NumRegions() int {
	return len(t.regions)
}

// Find returns the region that contains paddr.
func (t *RegionTable) Find(paddr uint64) (RegionID, bool) {
	i := sort.Search(len(t.byBase), func(i int) bool {
		return t.regions[t.byBase[i]].Base > paddr
	})
	if i == 0 {
		return 0, false
	}

	id := t.byBase[i-1]
	if paddr >= t.regions[id].End() {
		return 0, false
	}

	return id, true
}

// Contains tells if paddr is backed by memory.
func (t *RegionTable) Contains(paddr uint64) bool {
	_, ok := t.Find(paddr)
	return ok
}

// WindowFor returns the window of the page that contains paddr.
func (t *RegionTable) WindowFor(paddr uint64) (Window, bool) {
	id, ok := t.Find(paddr)
	if !ok {
		return Window{}, false
	}

	return Window{Region: id, PageBase: paddr &^ (UnitSize - 1)}, true
}

// Page resolves a window into the host bytes of its page.
func (t *RegionTable) Page(w Window) ([]byte, error) {
	if w.Region < 0 || int(w.Region) >= len(t.regions) {
		return nil, fmt.Errorf("window region %d: %w", w.Region, ErrNoRegion)
	}

	r := t.regions[w.Region]
	if w.PageBase < r.Base || w.PageBase >= r.End() {
		return nil, fmt.Errorf("window page 0x%x: %w", w.PageBase, ErrNoRegion)
	}

	return r.Storage.Unit(w.PageBase - r.Base)
}

// Read fills data with the bytes at paddr. The access must not leave the
// region that contains paddr.
func (t *RegionTable) Read(paddr uint64, data []byte) error {
	id, ok := t.Find(paddr)
	if !ok {
		return fmt.Errorf("read 0x%x: %w", paddr, ErrNoRegion)
	}

	r := t.regions[id]

	return r.Storage.ReadInto(paddr-r.Base, data)
}

// Write copies data to paddr. The access must not leave the region that
// contains paddr.
func (t *RegionTable) Write(paddr uint64, data []byte) error {
	id, ok := t.Find(paddr)
	if !ok {
		return fmt.Errorf("write 0x%x: %w", paddr, ErrNoRegion)
	}

	r := t.regions[id]

	return r.Storage.Write(paddr-r.Base, data)
}
