// Package mem provides the host-side memory of the simulated system.
//
// Guest physical memory lives in Storage objects. A RegionTable places each
// storage at a physical base address and hands out Window handles that the
// translation cache keeps instead of raw host pointers.
package mem

import (
	"errors"
	"fmt"
)

// For capacity
const (
	_        = iota
	KB uint64 = 1 << (10 * iota)
	MB
	GB
)

// Log2UnitSize is the log2 of the allocation unit of a Storage. It equals the
// guest page size so that a unit is exactly the host window of one page.
const Log2UnitSize = 12

// UnitSize is the number of bytes in one storage unit.
const UnitSize = uint64(1) << Log2UnitSize

// ErrOutOfCapacity is returned when an access falls outside of a storage.
var ErrOutOfCapacity = errors.New("address beyond storage capacity")

// A Storage keeps the bytes of a piece of guest physical memory.
//
// Storage is allocated in units. Units that are never touched do not take any
// host memory. Once allocated, a unit's backing slice never moves, so a slice
// returned by Unit stays valid for the lifetime of the storage.
type Storage struct {
	capacity uint64
	units    map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity. The
// capacity is rounded up to a whole number of units.
func NewStorage(capacity uint64) *Storage {
	s := new(Storage)

	s.capacity = (capacity + UnitSize - 1) &^ (UnitSize - 1)
	s.units = make(map[uint64][]byte)

	return s
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// Unit returns the backing slice of the unit that contains addr, allocating
// it if needed. The slice is UnitSize bytes long.
func (s *Storage) Unit(addr uint64) ([]byte, error) {
	if addr >= s.capacity {
		return nil, fmt.Errorf("unit 0x%x: %w", addr, ErrOutOfCapacity)
	}

	base := addr &^ (UnitSize - 1)

	unit, ok := s.units[base]
	if !ok {
		unit = make([]byte, UnitSize)
		s.units[base] = unit
	}

	return unit, nil
}

// Read copies n bytes starting from addr out of the storage.
func (s *Storage) Read(addr uint64, n uint64) ([]byte, error) {
	res := make([]byte, n)

	err := s.ReadInto(addr, res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ReadInto fills data with the bytes starting from addr.
func (s *Storage) ReadInto(addr uint64, data []byte) error {
	if !s.inRange(addr, uint64(len(data))) {
		return fmt.Errorf("read 0x%x+%d: %w", addr, len(data), ErrOutOfCapacity)
	}

	done := uint64(0)
	for done < uint64(len(data)) {
		curr := addr + done

		unit, err := s.Unit(curr)
		if err != nil {
			return err
		}

		offset := curr & (UnitSize - 1)
		done += uint64(copy(data[done:], unit[offset:]))
	}

	return nil
}

// Write copies data into the storage starting from addr.
func (s *Storage) Write(addr uint64, data []byte) error {
	if !s.inRange(addr, uint64(len(data))) {
		return fmt.Errorf("write 0x%x+%d: %w", addr, len(data), ErrOutOfCapacity)
	}

	done := uint64(0)
	for done < uint64(len(data)) {
		curr := addr + done

		unit, err := s.Unit(curr)
		if err != nil {
			return err
		}

		offset := curr & (UnitSize - 1)
		done += uint64(copy(unit[offset:], data[done:]))
	}

	return nil
}

func (s *Storage) inRange(addr, n uint64) bool {
	end := addr + n
	return end >= addr && end <= s.capacity
}
