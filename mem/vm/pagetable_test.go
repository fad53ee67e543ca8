package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/twmmu/mem"
)

var _ = Describe("PageTable", func() {
	var (
		memory *mem.RegionTable
		pt     *PageTable
	)

	BeforeEach(func() {
		memory = mem.NewRegionTable()
		memory.Add(0x8000_0000, mem.NewStorage(1*mem.MB))

		var err error
		pt, err = NewPageTable(Sv48, memory,
			NewBumpAllocator(0x8008_0000, 0x800a_0000))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should find an inserted page", func() {
		page := Page{
			VAddr: 0x7000_0000_1000,
			PAddr: 0x8000_3000,
			Flags: PTERead | PTEExec,
		}
		Expect(pt.Insert(page)).To(Succeed())

		found, ok := pt.Find(0x7000_0000_1ff0)
		Expect(ok).To(BeTrue())
		Expect(found).To(Equal(page))
	})

	It("should not find a missing page", func() {
		_, ok := pt.Find(0x1000)
		Expect(ok).To(BeFalse())
	})

	It("should update a page", func() {
		Expect(pt.Insert(Page{VAddr: 0x1000, PAddr: 0x8000_1000,
			Flags: PTERead})).To(Succeed())

		Expect(pt.Update(Page{VAddr: 0x1000, PAddr: 0x8000_2000,
			Flags: PTERead | PTEWrite})).To(Succeed())

		found, _ := pt.Find(0x1000)
		Expect(found.PAddr).To(Equal(uint64(0x8000_2000)))
		Expect(found.Flags).To(Equal(PTERead | PTEWrite))
	})

	It("should remove a page", func() {
		Expect(pt.Insert(Page{VAddr: 0x1000, PAddr: 0x8000_1000,
			Flags: PTERead})).To(Succeed())

		Expect(pt.Remove(0x1004)).To(Succeed())

		_, ok := pt.Find(0x1000)
		Expect(ok).To(BeFalse())
	})

	It("should panic when updating or removing a missing page", func() {
		Expect(pt.Insert(Page{VAddr: 0x1000, PAddr: 0x8000_1000,
			Flags: PTERead})).To(Succeed())

		Expect(func() {
			_ = pt.Update(Page{VAddr: 0x2000, PAddr: 0x8000_1000})
		}).To(Panic())
		Expect(func() { _ = pt.Remove(0x5000) }).To(Panic())
	})

	It("should panic on misaligned pages", func() {
		Expect(func() {
			_ = pt.Insert(Page{VAddr: 0x1000, PAddr: 0x8000_1000, Level: 1})
		}).To(Panic())
	})

	It("should report allocator exhaustion", func() {
		small, err := NewPageTable(Sv39, memory,
			NewBumpAllocator(0x800c_0000, 0x800c_1000))
		Expect(err).NotTo(HaveOccurred())

		err = small.Insert(Page{VAddr: 0x1000, PAddr: 0x8000_1000})
		Expect(err).To(MatchError(ErrOutOfPages))
	})

	It("should refuse bare mode", func() {
		_, err := NewPageTable(Bare, memory, NewBumpAllocator(0, 0))
		Expect(err).To(HaveOccurred())
	})
})
