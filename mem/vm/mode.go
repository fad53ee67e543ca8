package vm

// A Mode describes the page table layout of an addressing mode.
type Mode struct {
	Name      string
	Levels    int
	IndexBits int
	PTESize   int
	XLen      int
}

// Supported addressing modes.
var (
	Bare = Mode{Name: "bare", XLen: 64}
	Sv32 = Mode{Name: "sv32", Levels: 2, IndexBits: 10, PTESize: 4, XLen: 32}
	Sv39 = Mode{Name: "sv39", Levels: 3, IndexBits: 9, PTESize: 8, XLen: 64}
	Sv48 = Mode{Name: "sv48", Levels: 4, IndexBits: 9, PTESize: 8, XLen: 64}
)

// ModeByName returns the addressing mode with the given name.
func ModeByName(name string) (Mode, bool) {
	for _, m := range []Mode{Bare, Sv32, Sv39, Sv48} {
		if m.Name == name {
			return m, true
		}
	}

	return Mode{}, false
}

// Paged tells if the mode translates addresses.
func (m Mode) Paged() bool {
	return m.Levels > 0
}

// VABits returns the width of a virtual address.
func (m Mode) VABits() int {
	return Log2PageSize + m.Levels*m.IndexBits
}

// Canonical tells if vaddr is a legal virtual address in the mode. The bits
// above the virtual address width must all equal its top bit.
func (m Mode) Canonical(vaddr uint64) bool {
	if !m.Paged() {
		return true
	}

	vaBits := m.VABits()
	if vaBits >= m.XLen {
		return m.XLen >= 64 || vaddr>>uint(m.XLen) == 0
	}

	hi := int64(vaddr) >> uint(vaBits-1)

	return hi == 0 || hi == -1
}

func (m Mode) index(vaddr uint64, level int) uint64 {
	shift := uint(Log2PageSize + level*m.IndexBits)
	return (vaddr >> shift) & (uint64(1)<<uint(m.IndexBits) - 1)
}
