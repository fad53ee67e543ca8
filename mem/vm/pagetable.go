package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfPages is returned when a page allocator is exhausted.
var ErrOutOfPages = errors.New("out of physical pages")

// A Page is a leaf mapping in a page table.
type Page struct {
	VAddr uint64
	PAddr uint64

	// Flags holds the R, W, X, U, G, A and D bits of the leaf. The valid
	// bit is always set by the page table.
	Flags uint64

	// Level is the page table level of the leaf. Level 0 maps a 4 KiB page;
	// higher levels map superpages.
	Level int
}

// Size returns the number of bytes the page maps in the given mode.
func (p Page) Size(mode Mode) uint64 {
	return PageSize << uint(p.Level*mode.IndexBits)
}

// A PageAllocator provides zeroed physical pages for page table nodes.
type PageAllocator interface {
	AllocPage() (uint64, error)
}

// A BumpAllocator hands out consecutive pages from a physical range.
type BumpAllocator struct {
	next uint64
	end  uint64
}

// NewBumpAllocator creates an allocator over [begin, end). Begin must be page
// aligned.
func NewBumpAllocator(begin, end uint64) *BumpAllocator {
	if begin&PageOffsetMask != 0 {
		panic("allocator range is not page aligned")
	}

	return &BumpAllocator{next: begin, end: end}
}

// AllocPage returns the physical address of the next free page.
func (a *BumpAllocator) AllocPage() (uint64, error) {
	if a.next+PageSize > a.end {
		return 0, ErrOutOfPages
	}

	addr := a.next
	a.next += PageSize

	return addr, nil
}

// A PageTable builds and edits a radix page table that lives in guest
// physical memory, in the layout of one addressing mode. Callers must flush
// translation caches after updating or removing pages.
type PageTable struct {
	mode   Mode
	memory Memory
	alloc  PageAllocator
	root   uint64
}

// NewPageTable allocates the root node of a new page table.
func NewPageTable(
	mode Mode,
	memory Memory,
	alloc PageAllocator,
) (*PageTable, error) {
	if !mode.Paged() {
		return nil, fmt.Errorf("mode %s has no page table", mode.Name)
	}

	pt := &PageTable{
		mode:   mode,
		memory: memory,
		alloc:  alloc,
	}

	root, err := pt.newNode()
	if err != nil {
		return nil, err
	}

	pt.root = root

	return pt, nil
}

// Satp returns the translation state that activates this page table.
func (pt *PageTable) Satp() Satp {
	return Satp{Mode: pt.mode, RootPPN: pt.root >> Log2PageSize}
}

// Insert maps a page. Missing intermediate nodes are allocated.
func (pt *PageTable) Insert(page Page) error {
	pt.pageMustBeAligned(page)

	addr, err := pt.leafAddr(page.VAddr, page.Level, true)
	if err != nil {
		return err
	}

	return pt.writePTE(addr, pt.encode(page))
}

// Find returns the leaf mapping that covers vAddr. The returned page has the
// virtual and physical base of the whole leaf.
func (pt *PageTable) Find(vAddr uint64) (Page, bool) {
	base := pt.root
	for level := pt.mode.Levels - 1; level >= 0; level-- {
		pte, err := pt.readPTE(base + pt.mode.index(vAddr, level)*
			uint64(pt.mode.PTESize))
		if err != nil || pte&PTEValid == 0 {
			return Page{}, false
		}

		if IsTable(pte) {
			base = (pte >> PTEPPNShift) << Log2PageSize
			continue
		}

		page := Page{Level: level, Flags: pte & 0xfe}
		size := page.Size(pt.mode)
		page.VAddr = vAddr &^ (size - 1)
		page.PAddr = (pte >> PTEPPNShift) << Log2PageSize

		return page, true
	}

	return Page{}, false
}

// Update rewrites the leaf of an existing page. The VAddr and Level fields
// locate the page.
func (pt *PageTable) Update(page Page) error {
	pt.pageMustBeAligned(page)

	addr, err := pt.leafAddr(page.VAddr, page.Level, false)
	if err != nil {
		return err
	}

	pt.pageMustExist(addr, page.VAddr)

	return pt.writePTE(addr, pt.encode(page))
}

// Remove unmaps the page that contains vAddr.
func (pt *PageTable) Remove(vAddr uint64) error {
	page, found := pt.Find(vAddr)
	if !found {
		panic(fmt.Sprintf("page 0x%x does not exist", vAddr))
	}

	addr, err := pt.leafAddr(page.VAddr, page.Level, false)
	if err != nil {
		return err
	}

	return pt.writePTE(addr, 0)
}

func (pt *PageTable) leafAddr(vAddr uint64, leafLevel int, create bool) (
	uint64,
	error,
) {
	base := pt.root
	for level := pt.mode.Levels - 1; level > leafLevel; level-- {
		addr := base + pt.mode.index(vAddr, level)*uint64(pt.mode.PTESize)

		pte, err := pt.readPTE(addr)
		if err != nil {
			return 0, err
		}

		switch {
		case IsTable(pte):
			base = (pte >> PTEPPNShift) << Log2PageSize
		case pte&PTEValid != 0:
			return 0, fmt.Errorf(
				"address 0x%x is covered by a superpage", vAddr)
		case !create:
			return 0, fmt.Errorf("page 0x%x does not exist", vAddr)
		default:
			node, err := pt.newNode()
			if err != nil {
				return 0, err
			}

			err = pt.writePTE(addr, (node>>Log2PageSize)<<PTEPPNShift|PTEValid)
			if err != nil {
				return 0, err
			}

			base = node
		}
	}

	return base + pt.mode.index(vAddr, leafLevel)*uint64(pt.mode.PTESize), nil
}

func (pt *PageTable) newNode() (uint64, error) {
	node, err := pt.alloc.AllocPage()
	if err != nil {
		return 0, err
	}

	err = pt.memory.Write(node, make([]byte, PageSize))
	if err != nil {
		return 0, err
	}

	return node, nil
}

func (pt *PageTable) encode(page Page) uint64 {
	return (page.PAddr>>Log2PageSize)<<PTEPPNShift | page.Flags&0xfe | PTEValid
}

func (pt *PageTable) readPTE(addr uint64) (uint64, error) {
	buf := make([]byte, pt.mode.PTESize)

	err := pt.memory.Read(addr, buf)
	if err != nil {
		return 0, err
	}

	if pt.mode.PTESize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	}

	return binary.LittleEndian.Uint64(buf), nil
}

func (pt *PageTable) writePTE(addr uint64, pte uint64) error {
	buf := make([]byte, pt.mode.PTESize)

	if pt.mode.PTESize == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(pte))
	} else {
		binary.LittleEndian.PutUint64(buf, pte)
	}

	return pt.memory.Write(addr, buf)
}

func (pt *PageTable) pageMustBeAligned(page Page) {
	size := page.Size(pt.mode)
	if page.VAddr&(size-1) != 0 || page.PAddr&(size-1) != 0 {
		panic(fmt.Sprintf("page 0x%x -> 0x%x is not aligned", page.VAddr,
			page.PAddr))
	}

	if page.Level < 0 || page.Level >= pt.mode.Levels {
		panic(fmt.Sprintf("invalid page level %d", page.Level))
	}
}

func (pt *PageTable) pageMustExist(addr uint64, vAddr uint64) {
	pte, err := pt.readPTE(addr)
	if err != nil || pte&PTEValid == 0 || IsTable(pte) {
		panic(fmt.Sprintf("page 0x%x does not exist", vAddr))
	}
}
