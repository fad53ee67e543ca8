// Package vm implements guest virtual memory: the privilege and address
// translation state of a hart, the page table walker, and the permission
// policy shared by the walker and the translation cache.
package vm

// Page geometry.
const (
	Log2PageSize          = 12
	PageSize       uint64 = 1 << Log2PageSize
	PageOffsetMask uint64 = PageSize - 1
)

// PTE bits.
const (
	PTEValid    uint64 = 1 << 0
	PTERead     uint64 = 1 << 1
	PTEWrite    uint64 = 1 << 2
	PTEExec     uint64 = 1 << 3
	PTEUser     uint64 = 1 << 4
	PTEGlobal   uint64 = 1 << 5
	PTEAccessed uint64 = 1 << 6
	PTEDirty    uint64 = 1 << 7

	PTEPPNShift = 10
)

// IsTable tells if a PTE points to the next level of the page table.
func IsTable(pte uint64) bool {
	return pte&(PTEValid|PTERead|PTEWrite|PTEExec) == PTEValid
}

// VPN returns the virtual page number of an address.
func VPN(vaddr uint64) uint64 {
	return vaddr >> Log2PageSize
}

// AccessType is the kind of a memory access.
type AccessType int

// Access types.
const (
	Fetch AccessType = iota
	Load
	Store
)

func (a AccessType) String() string {
	switch a {
	case Fetch:
		return "fetch"
	case Load:
		return "load"
	case Store:
		return "store"
	default:
		return "unknown"
	}
}

// PrivMode is a privilege level.
type PrivMode int

// Privilege levels, encoded as in the mstatus MPP field.
const (
	PrivU PrivMode = 0
	PrivS PrivMode = 1
	PrivM PrivMode = 3
)

func (p PrivMode) String() string {
	switch p {
	case PrivU:
		return "U"
	case PrivS:
		return "S"
	case PrivM:
		return "M"
	default:
		return "?"
	}
}

// Privilege is the part of the hart state that decides how an access is
// checked.
type Privilege struct {
	Mode PrivMode

	// MPRV makes loads and stores use the MPP privilege.
	MPRV bool
	MPP  PrivMode

	// SUM permits supervisor loads and stores to user pages.
	SUM bool

	// MXR makes executable pages readable.
	MXR bool
}

// Effective returns the privilege level an access is performed at.
func (p Privilege) Effective(access AccessType) PrivMode {
	if access != Fetch && p.MPRV {
		return p.MPP
	}

	return p.Mode
}

// Satp selects the active addressing mode and page table root.
type Satp struct {
	Mode    Mode
	RootPPN uint64
}

// Translation is the result of a page table walk.
type Translation struct {
	PAddr uint64

	// PTE holds the permission bits of the leaf as updated by the walk.
	PTE uint64
}
