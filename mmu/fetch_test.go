package mmu

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/twmmu/mem/vm"
	"github.com/sarchlab/twmmu/trigger"
)

var _ = Describe("Instruction fetch", func() {
	var (
		mockCtrl *gomock.Controller
		sys      *system
		decoder  *MockDecoder
		m        *MMU
		ctx      *AccessCtx
	)

	writeParcels := func(paddr uint64, parcels ...uint16) {
		buf := make([]byte, 2*len(parcels))
		for i, p := range parcels {
			binary.LittleEndian.PutUint16(buf[2*i:], p)
		}

		Expect(sys.regions.Write(paddr, buf)).To(Succeed())
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sys = newSystem()
		decoder = NewMockDecoder(mockCtrl)
		m = MakeBuilder().
			WithMemory(sys.regions).
			WithBus(sys.bus).
			WithDecoder(decoder).
			Build("MMU")
		ctx = &AccessCtx{Priv: vm.Privilege{Mode: vm.PrivM}}

		writeParcels(ramBase, 0x8082)
		writeParcels(ramBase+0x10, 0x0013, 0x0000)
		writeParcels(ramBase+0x20, 0x001f, 0x1234, 0x8765)
		writeParcels(ramBase+0x30, 0x003f, 0x1111, 0x2222, 0x3333)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	DescribeTable("should decode the same from the cache and from memory",
		func(offset uint64, length int, bits uint64) {
			decoder.EXPECT().Decode(bits).Return("insn").Times(2)

			addr := ramBase + offset

			refilled, err := m.AccessICache(ctx, addr)
			Expect(err).NotTo(HaveOccurred())

			cached, err := m.AccessICache(ctx, addr)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := m.LoadInsn(ctx, addr)
			Expect(err).NotTo(HaveOccurred())

			Expect(refilled.Length).To(Equal(length))
			Expect(refilled.Bits).To(Equal(bits))
			Expect(refilled.Insn).To(Equal("insn"))
			Expect(cached).To(Equal(refilled))
			Expect(loaded).To(Equal(refilled))
			Expect(m.Stats().ICacheHits).To(Equal(uint64(1)))
			Expect(m.Stats().ICacheMisses).To(Equal(uint64(1)))
		},
		Entry("2 bytes", uint64(0x00), 2, uint64(0xffffffffffff8082)),
		Entry("4 bytes", uint64(0x10), 4, uint64(0x13)),
		Entry("6 bytes", uint64(0x20), 6, uint64(0xffff87651234001f)),
		Entry("8 bytes", uint64(0x30), 8, uint64(0x333322221111003f)),
	)

	It("should not cache instructions loaded with LoadInsn", func() {
		decoder.EXPECT().Decode(uint64(0x13)).Return("nop")

		_, err := m.LoadInsn(ctx, ramBase+0x10)
		Expect(err).NotTo(HaveOccurred())

		_, ok := m.ICache().Lookup(ramBase + 0x10)
		Expect(ok).To(BeFalse())
	})

	It("should notify the tracer on every fetch", func() {
		tracer := NewMockMemTracer(mockCtrl)
		m.RegisterMemTracer(tracer)

		tracer.EXPECT().
			InterestedInRange(ramBase+0x10, ramBase+0x11, vm.Fetch).
			Return(true).
			Times(3)
		tracer.EXPECT().Trace(ramBase+0x10, uint64(4), vm.Fetch).Times(3)
		decoder.EXPECT().Decode(uint64(0x13)).Return("nop").Times(3)

		for i := 0; i < 2; i++ {
			_, err := m.AccessICache(ctx, ramBase+0x10)
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := m.LoadInsn(ctx, ramBase+0x10)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Stats().ICacheHits).To(BeZero())
		_, ok := m.ICache().Lookup(ramBase + 0x10)
		Expect(ok).To(BeFalse())
	})

	It("should flush the instruction cache with the TLB", func() {
		decoder.EXPECT().Decode(gomock.Any()).Return("insn")

		_, err := m.AccessICache(ctx, ramBase)
		Expect(err).NotTo(HaveOccurred())

		m.FlushTLB()

		_, ok := m.ICache().Lookup(ramBase)
		Expect(ok).To(BeFalse())
	})

	It("should fail a misaligned fetch", func() {
		_, err := m.AccessICache(ctx, ramBase+1)

		expectFault(err, vm.InstructionAddressMisaligned, ramBase+1)
	})

	It("should use the raw bits without a decoder", func() {
		m = MakeBuilder().WithMemory(sys.regions).Build("MMU")

		f, err := m.AccessICache(ctx, ramBase+0x10)

		Expect(err).NotTo(HaveOccurred())
		Expect(f.Insn).To(Equal(uint64(0x13)))
	})

	Context("with paging", func() {
		BeforeEach(func() {
			ctx = sys.supervisor()
		})

		It("should fault on a page that is not executable", func() {
			_, err := m.AccessICache(ctx, 0x3000)

			expectFault(err, vm.InstructionAccessFault, 0x3000)
		})

		It("should fault on the parcel that crosses into a bad page", func() {
			writeParcels(ramBase+0x1ffe, 0x0013)

			_, err := m.AccessICache(ctx, 0x1ffe)

			expectFault(err, vm.InstructionAccessFault, 0x2000)
		})

		It("should raise execute triggers immediately", func() {
			writeParcels(ramBase+0x1000, 0x0013, 0x0000)
			m.SetTrigger(0, trigger.Trigger{
				Execute: true,
				Match:   trigger.MatchEqual,
				Value:   0x1000,
				Timing:  trigger.After,
			})

			_, err := m.AccessICache(ctx, 0x1000)

			Expect(err).To(BeAssignableToTypeOf(&trigger.Match{}))
			Expect(err.(*trigger.Match).Op).To(Equal(trigger.Execute))
			Expect(ctx.Deferred()).To(BeNil())
		})

		It("should not cache while an execute trigger is armed", func() {
			writeParcels(ramBase+0x1010, 0x0013, 0x0000)
			m.SetTrigger(0, trigger.Trigger{
				Execute: true,
				Match:   trigger.MatchEqual,
				Value:   0x1000,
			})
			decoder.EXPECT().Decode(uint64(0x13)).Return("nop").Times(2)

			for i := 0; i < 2; i++ {
				_, err := m.AccessICache(ctx, 0x1010)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(m.Stats().ICacheHits).To(BeZero())
		})
	})
})
