package vm

import (
	"encoding/binary"
)

// Memory is the physical memory the walker reads page tables from.
type Memory interface {
	Read(paddr uint64, data []byte) error
	Write(paddr uint64, data []byte) error
}

// identityPTE is the leaf reported when paging is bypassed.
const identityPTE = PTEValid | PTERead | PTEWrite | PTEExec |
	PTEAccessed | PTEDirty

// A Walker resolves virtual addresses by walking the page table in physical
// memory. A successful walk sets the accessed bit of the leaf, and the dirty
// bit for stores.
type Walker struct {
	memory Memory
}

// NewWalker creates a walker that reads page tables from memory.
func NewWalker(memory Memory) *Walker {
	return &Walker{memory: memory}
}

// Walk translates vaddr for the given access.
func (w *Walker) Walk(
	vaddr uint64,
	access AccessType,
	priv Privilege,
	satp Satp,
) (Translation, error) {
	eff := priv.Effective(access)
	mode := satp.Mode

	if eff == PrivM || !mode.Paged() {
		return Translation{PAddr: vaddr, PTE: identityPTE}, nil
	}

	if !mode.Canonical(vaddr) {
		return Translation{}, AccessFault(access, vaddr)
	}

	base := satp.RootPPN << Log2PageSize
	for level := mode.Levels - 1; level >= 0; level-- {
		pteAddr := base + mode.index(vaddr, level)*uint64(mode.PTESize)

		pte, err := w.readPTE(pteAddr, mode.PTESize)
		if err != nil {
			break
		}

		ppn := pte >> PTEPPNShift
		if IsTable(pte) {
			base = ppn << Log2PageSize
			continue
		}

		if Permit(pte, access, eff, priv.SUM, priv.MXR) == Deny {
			break
		}

		levelMask := uint64(1)<<uint(level*mode.IndexBits) - 1
		if ppn&levelMask != 0 {
			break
		}

		ad := PTEAccessed
		if access == Store {
			ad |= PTEDirty
		}

		if pte&ad != ad {
			pte |= ad
			if w.writePTE(pteAddr, pte) != nil {
				break
			}
		}

		ppage := (ppn | VPN(vaddr)&levelMask) << Log2PageSize

		return Translation{
			PAddr: ppage | vaddr&PageOffsetMask,
			PTE:   pte,
		}, nil
	}

	return Translation{}, AccessFault(access, vaddr)
}

func (w *Walker) readPTE(addr uint64, size int) (uint64, error) {
	var buf [8]byte

	err := w.memory.Read(addr, buf[:size])
	if err != nil {
		return 0, err
	}

	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[:4])), nil
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writePTE only updates the low word, which holds all the flag bits.
func (w *Walker) writePTE(addr uint64, pte uint64) error {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], uint32(pte))

	return w.memory.Write(addr, buf[:])
}
