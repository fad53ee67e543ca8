package mmu

import (
	"github.com/sarchlab/twmmu/mem"
	"github.com/sarchlab/twmmu/mem/bus"
	"github.com/sarchlab/twmmu/mem/icache"
	"github.com/sarchlab/twmmu/mem/vm"
	"github.com/sarchlab/twmmu/mem/vm/tlb"
	"github.com/sarchlab/twmmu/timewarp"
	"github.com/sarchlab/twmmu/trigger"
)

// A Builder can build MMUs.
type Builder struct {
	memory             *mem.RegionTable
	bus                *bus.Bus
	decoder            icache.Decoder
	numTriggers        int
	timeWarp           bool
	hitPermissionCheck bool
}

// MakeBuilder returns a Builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numTriggers: 4,
	}
}

// WithMemory sets the memory regions the MMU accesses. Required.
func (b Builder) WithMemory(memory *mem.RegionTable) Builder {
	b.memory = memory
	return b
}

// WithBus sets the bus that serves physical addresses outside of memory.
// Without a bus, such accesses fault.
func (b Builder) WithBus(bus *bus.Bus) Builder {
	b.bus = bus
	return b
}

// WithDecoder sets the decoder the instruction cache uses. Without a
// decoder, the decoded instruction is the raw bits.
func (b Builder) WithDecoder(decoder icache.Decoder) Builder {
	b.decoder = decoder
	return b
}

// WithNumTriggers sets the number of trigger slots.
func (b Builder) WithNumTriggers(n int) Builder {
	b.numTriggers = n
	return b
}

// WithTimeWarp sets whether stores are recorded from the start.
func (b Builder) WithTimeWarp(enabled bool) Builder {
	b.timeWarp = enabled
	return b
}

// WithHitPermissionCheck makes the MMU check the page permissions on every
// TLB hit, and not only when the page is walked. A store that hits a page
// whose dirty bit is clear is then handled as a miss.
func (b Builder) WithHitPermissionCheck(enabled bool) Builder {
	b.hitPermissionCheck = enabled
	return b
}

// Build creates a new MMU.
func (b Builder) Build(name string) *MMU {
	b.mustBeValid()

	m := &MMU{
		name:               name,
		regions:            b.memory,
		bus:                b.bus,
		decoder:            b.decoder,
		tlb:                tlb.NewCache(),
		icache:             icache.New(),
		triggers:           trigger.NewModule(b.numTriggers),
		log:                timewarp.NewLog(),
		timeWarp:           b.timeWarp,
		hitPermissionCheck: b.hitPermissionCheck,
	}

	if m.bus == nil {
		m.bus = bus.New()
	}

	if m.decoder == nil {
		m.decoder = rawDecoder{}
	}

	m.walker = vm.NewWalker(walkMemory{mmu: m})

	return m
}

func (b Builder) mustBeValid() {
	if b.memory == nil {
		panic("memory is not set")
	}

	if b.numTriggers < 0 {
		panic("number of triggers must not be negative")
	}
}

type rawDecoder struct{}

func (rawDecoder) Decode(bits uint64) icache.Insn {
	return bits
}
