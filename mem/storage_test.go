package mem

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Storage", func() {
	It("should round capacity up to whole units", func() {
		storage := NewStorage(5000)
		Expect(storage.Capacity()).To(Equal(2 * UnitSize))
	})

	It("should read and write in single unit", func() {
		storage := NewStorage(4 * KB)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, err := storage.Read(0, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{1, 2}))

		res, err = storage.Read(1, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := NewStorage(8 * KB)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, err := storage.Read(4094, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should read zeros from untouched units", func() {
		storage := NewStorage(1 * MB)

		res, err := storage.Read(0x8000, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(make([]byte, 8)))
	})

	It("should return the same backing slice for a unit", func() {
		storage := NewStorage(8 * KB)

		unit, err := storage.Unit(0x1010)
		Expect(err).NotTo(HaveOccurred())
		Expect(unit).To(HaveLen(int(UnitSize)))

		unit[0x20] = 0xab

		res, _ := storage.Read(0x1020, 1)
		Expect(res).To(Equal([]byte{0xab}))
	})

	It("should return error if accessing over the capacity", func() {
		storage := NewStorage(4 * KB)

		err := storage.Write(4097, []byte{1})
		Expect(err).To(MatchError(ErrOutOfCapacity))

		_, err = storage.Read(4095, 2)
		Expect(err).To(MatchError(ErrOutOfCapacity))

		_, err = storage.Unit(4096)
		Expect(err).To(MatchError(ErrOutOfCapacity))
	})
})
