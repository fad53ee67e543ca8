// Package bus routes physical accesses that are not backed by memory to
// memory-mapped devices.
package bus

import (
	"sort"
)

// A Device is a memory-mapped device. Addresses passed to a device are
// relative to the base the device is registered at. A device returns false if
// it does not handle the address.
type Device interface {
	Load(addr uint64, data []byte) bool
	Store(addr uint64, data []byte) bool
}

// A Bus finds the device that owns a physical address. The device with the
// greatest base that does not exceed the address owns it. Ranges are not
// checked for overlap.
type Bus struct {
	bases   []uint64
	devices map[uint64]Device
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		devices: make(map[uint64]Device),
	}
}

// AddDevice registers a device at base. Registering another device at the
// same base replaces the earlier one.
func (b *Bus) AddDevice(base uint64, dev Device) {
	if _, found := b.devices[base]; !found {
		i := sort.Search(len(b.bases), func(i int) bool {
			return b.bases[i] >= base
		})
		b.bases = append(b.bases, 0)
		copy(b.bases[i+1:], b.bases[i:])
		b.bases[i] = base
	}

	b.devices[base] = dev
}

// Find returns the device that owns addr and the base it is registered at.
func (b *Bus) Find(addr uint64) (base uint64, dev Device, found bool) {
	i := sort.Search(len(b.bases), func(i int) bool {
		return b.bases[i] > addr
	})
	if i == 0 {
		return 0, nil, false
	}

	base = b.bases[i-1]

	return base, b.devices[base], true
}

// Load reads len(data) bytes at addr from the owning device.
func (b *Bus) Load(addr uint64, data []byte) bool {
	base, dev, found := b.Find(addr)
	if !found {
		return false
	}

	return dev.Load(addr-base, data)
}

// Store writes data at addr to the owning device.
func (b *Bus) Store(addr uint64, data []byte) bool {
	base, dev, found := b.Find(addr)
	if !found {
		return false
	}

	return dev.Store(addr-base, data)
}
