package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Permit", func() {
	const rw = PTEValid | PTERead | PTEWrite | PTEAccessed

	DescribeTable("verdicts",
		func(pte uint64, access AccessType, eff PrivMode, sum, mxr bool,
			expected Verdict,
		) {
			Expect(Permit(pte, access, eff, sum, mxr)).To(Equal(expected))
		},
		Entry("machine mode", uint64(0), Store, PrivM, false, false, Allow),
		Entry("invalid", PTERead, Load, PrivS, false, false, Deny),
		Entry("write without read", PTEValid|PTEWrite, Store, PrivS, false,
			false, Deny),
		Entry("store to clean page", rw, Store, PrivS, false, false, Miss),
		Entry("store to dirty page", rw|PTEDirty, Store, PrivS, false, false,
			Allow),
		Entry("user page from supervisor", rw|PTEUser, Load, PrivS, false,
			false, Deny),
		Entry("user page from supervisor with SUM", rw|PTEUser, Load, PrivS,
			true, false, Allow),
		Entry("supervisor page from user", rw, Load, PrivU, false, false,
			Deny),
		Entry("fetch without exec", rw, Fetch, PrivS, false, false, Deny),
		Entry("exec-only load", PTEValid|PTEExec, Load, PrivS, false, false,
			Deny),
		Entry("exec-only load with MXR", PTEValid|PTEExec, Load, PrivS, false,
			true, Allow),
	)
})

var _ = Describe("Mode", func() {
	It("should check canonical Sv39 addresses", func() {
		Expect(Sv39.Canonical(0x0000_003f_ffff_ffff)).To(BeTrue())
		Expect(Sv39.Canonical(0xffff_ffc0_0000_0000)).To(BeTrue())
		Expect(Sv39.Canonical(0x0000_0040_0000_0000)).To(BeFalse())
	})

	It("should compute the virtual address width", func() {
		Expect(Sv32.VABits()).To(Equal(32))
		Expect(Sv39.VABits()).To(Equal(39))
		Expect(Sv48.VABits()).To(Equal(48))
	})

	It("should look up modes by name", func() {
		m, ok := ModeByName("sv48")
		Expect(ok).To(BeTrue())
		Expect(m).To(Equal(Sv48))

		_, ok = ModeByName("sv57")
		Expect(ok).To(BeFalse())
	})
})
