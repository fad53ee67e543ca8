package vm

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/twmmu/mem"
)

var _ = Describe("Walker", func() {
	const (
		ramBase  = uint64(0x8000_0000)
		userRW   = PTERead | PTEWrite | PTEUser
		kernelRW = PTERead | PTEWrite
	)

	var (
		memory *mem.RegionTable
		pt     *PageTable
		walker *Walker
		satp   Satp
		sPriv  Privilege
		uPriv  Privilege
	)

	leaf := func(vAddr uint64) uint64 {
		page, found := pt.Find(vAddr)
		Expect(found).To(BeTrue())

		return page.Flags
	}

	BeforeEach(func() {
		memory = mem.NewRegionTable()
		memory.Add(ramBase, mem.NewStorage(4*mem.MB))

		var err error
		pt, err = NewPageTable(Sv39, memory,
			NewBumpAllocator(ramBase+0x30_0000, ramBase+0x40_0000))
		Expect(err).NotTo(HaveOccurred())

		walker = NewWalker(memory)
		satp = pt.Satp()
		sPriv = Privilege{Mode: PrivS}
		uPriv = Privilege{Mode: PrivU}
	})

	It("should bypass paging in machine mode", func() {
		tr, err := walker.Walk(0x1234_5678, Load, Privilege{Mode: PrivM}, satp)

		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PAddr).To(Equal(uint64(0x1234_5678)))
		Expect(Permit(tr.PTE, Store, PrivS, false, false)).To(Equal(Allow))
	})

	It("should bypass paging in bare mode", func() {
		tr, err := walker.Walk(0x42, Fetch, uPriv, Satp{Mode: Bare})

		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PAddr).To(Equal(uint64(0x42)))
	})

	It("should translate a 4 KiB page", func() {
		Expect(pt.Insert(Page{
			VAddr: 0x4000, PAddr: ramBase + 0x1000, Flags: kernelRW,
		})).To(Succeed())

		tr, err := walker.Walk(0x4abc, Load, sPriv, satp)

		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PAddr).To(Equal(ramBase + 0x1abc))
	})

	It("should set the accessed bit on a load and the dirty bit on a store", func() {
		Expect(pt.Insert(Page{
			VAddr: 0x4000, PAddr: ramBase + 0x1000, Flags: kernelRW,
		})).To(Succeed())

		tr, err := walker.Walk(0x4000, Load, sPriv, satp)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PTE & PTEAccessed).NotTo(BeZero())
		Expect(tr.PTE & PTEDirty).To(BeZero())
		Expect(leaf(0x4000) & PTEAccessed).NotTo(BeZero())
		Expect(leaf(0x4000) & PTEDirty).To(BeZero())

		tr, err = walker.Walk(0x4008, Store, sPriv, satp)
		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PTE & PTEDirty).NotTo(BeZero())
		Expect(leaf(0x4000) & PTEDirty).NotTo(BeZero())
	})

	It("should fault on an unmapped address", func() {
		_, err := walker.Walk(0x9000, Load, sPriv, satp)

		Expect(err).To(Equal(&Fault{Kind: LoadAccessFault, Addr: 0x9000}))
	})

	It("should fault on a non-canonical address", func() {
		_, err := walker.Walk(0x0000_4000_0000_0000, Fetch, sPriv, satp)

		Expect(err).To(Equal(
			&Fault{Kind: InstructionAccessFault, Addr: 0x0000_4000_0000_0000}))
	})

	It("should fault when the page table is outside of memory", func() {
		_, err := walker.Walk(0x4000, Store, sPriv, Satp{Mode: Sv39, RootPPN: 0x10})

		Expect(err).To(Equal(&Fault{Kind: StoreAccessFault, Addr: 0x4000}))
	})

	Context("user pages", func() {
		BeforeEach(func() {
			Expect(pt.Insert(Page{
				VAddr: 0x10000, PAddr: ramBase + 0x2000,
				Flags: userRW | PTEExec,
			})).To(Succeed())
		})

		It("should allow user accesses", func() {
			_, err := walker.Walk(0x10000, Fetch, uPriv, satp)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject supervisor loads without SUM", func() {
			_, err := walker.Walk(0x10000, Load, sPriv, satp)
			Expect(err).To(Equal(&Fault{Kind: LoadAccessFault, Addr: 0x10000}))
		})

		It("should allow supervisor loads with SUM", func() {
			sPriv.SUM = true
			_, err := walker.Walk(0x10000, Load, sPriv, satp)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject supervisor fetches even with SUM", func() {
			sPriv.SUM = true
			_, err := walker.Walk(0x10000, Fetch, sPriv, satp)
			Expect(err).To(Equal(
				&Fault{Kind: InstructionAccessFault, Addr: 0x10000}))
		})

		It("should walk with the MPP privilege when MPRV is set", func() {
			priv := Privilege{Mode: PrivM, MPRV: true, MPP: PrivS}

			_, err := walker.Walk(0x10000, Store, priv, satp)
			Expect(err).To(Equal(&Fault{Kind: StoreAccessFault, Addr: 0x10000}))

			tr, err := walker.Walk(0x10000, Fetch, priv, satp)
			Expect(err).NotTo(HaveOccurred())
			Expect(tr.PAddr).To(Equal(uint64(0x10000)))
		})
	})

	It("should reject user accesses to supervisor pages", func() {
		Expect(pt.Insert(Page{
			VAddr: 0x4000, PAddr: ramBase + 0x1000, Flags: kernelRW,
		})).To(Succeed())

		_, err := walker.Walk(0x4000, Load, uPriv, satp)
		Expect(err).To(Equal(&Fault{Kind: LoadAccessFault, Addr: 0x4000}))
	})

	It("should honor MXR on execute-only pages", func() {
		Expect(pt.Insert(Page{
			VAddr: 0x4000, PAddr: ramBase + 0x1000, Flags: PTEExec,
		})).To(Succeed())

		_, err := walker.Walk(0x4000, Load, sPriv, satp)
		Expect(err).To(Equal(&Fault{Kind: LoadAccessFault, Addr: 0x4000}))

		sPriv.MXR = true
		_, err = walker.Walk(0x4000, Load, sPriv, satp)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject stores to read-only pages", func() {
		Expect(pt.Insert(Page{
			VAddr: 0x4000, PAddr: ramBase + 0x1000, Flags: PTERead,
		})).To(Succeed())

		_, err := walker.Walk(0x4000, Store, sPriv, satp)
		Expect(err).To(Equal(&Fault{Kind: StoreAccessFault, Addr: 0x4000}))
	})

	It("should translate through a superpage", func() {
		Expect(pt.Insert(Page{
			VAddr: 0x4020_0000, PAddr: ramBase + 0x20_0000,
			Flags: kernelRW, Level: 1,
		})).To(Succeed())

		tr, err := walker.Walk(0x4031_2345, Load, sPriv, satp)

		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PAddr).To(Equal(ramBase + 0x31_2345))
	})

	It("should reject a misaligned superpage", func() {
		root := satp.RootPPN << Log2PageSize
		buf := make([]byte, 8)
		pte := ((ramBase+0x1000)>>Log2PageSize)<<PTEPPNShift |
			kernelRW | PTEValid
		binary.LittleEndian.PutUint64(buf, pte)
		Expect(memory.Write(root+8*3, buf)).To(Succeed())

		_, err := walker.Walk(0xc000_0000, Load, sPriv, satp)
		Expect(err).To(Equal(&Fault{Kind: LoadAccessFault, Addr: 0xc000_0000}))
	})

	It("should walk Sv32 page tables", func() {
		pt32, err := NewPageTable(Sv32, memory,
			NewBumpAllocator(ramBase+0x20_0000, ramBase+0x30_0000))
		Expect(err).NotTo(HaveOccurred())
		Expect(pt32.Insert(Page{
			VAddr: 0x7fff_f000, PAddr: ramBase + 0x3000, Flags: kernelRW,
		})).To(Succeed())

		tr, err := walker.Walk(0x7fff_f010, Store, sPriv, pt32.Satp())

		Expect(err).NotTo(HaveOccurred())
		Expect(tr.PAddr).To(Equal(ramBase + 0x3010))

		_, err = walker.Walk(0x1_0000_0000, Load, sPriv, pt32.Satp())
		Expect(err).To(HaveOccurred())
	})
})
