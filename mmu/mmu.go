// Package mmu implements the memory management unit of a hart. It turns the
// virtual addresses of loads, stores and instruction fetches into accesses
// to host memory or to devices, caching translations and decoded
// instructions, evaluating triggers, and recording stores so that the
// memory state can be rolled back in time.
package mmu

import (
	"encoding/binary"
	"errors"

	"github.com/sarchlab/twmmu/hooking"
	"github.com/sarchlab/twmmu/mem"
	"github.com/sarchlab/twmmu/mem/bus"
	"github.com/sarchlab/twmmu/mem/icache"
	"github.com/sarchlab/twmmu/mem/trace"
	"github.com/sarchlab/twmmu/mem/vm"
	"github.com/sarchlab/twmmu/mem/vm/tlb"
	"github.com/sarchlab/twmmu/timewarp"
	"github.com/sarchlab/twmmu/trigger"
)

// An AccessCtx carries the hart state an access depends on. The caller owns it
// for the duration of one instruction.
type AccessCtx struct {
	Priv vm.Privilege
	Satp vm.Satp

	// Now is the logical time stores are recorded at.
	Now uint64

	deferred *trigger.Match
}

// Deferred returns the pending trigger match, if any.
func (c *AccessCtx) Deferred() *trigger.Match {
	return c.deferred
}

// TakeDeferred returns the pending trigger match and clears it. The caller
// raises the match once the access that caused it completes.
func (c *AccessCtx) TakeDeferred() *trigger.Match {
	m := c.deferred
	c.deferred = nil

	return m
}

// Stats counts the events of an MMU.
type Stats struct {
	TLBHits      uint64
	TLBMisses    uint64
	ICacheHits   uint64
	ICacheMisses uint64
	MMIOAccesses uint64
	Faults       uint64
}

// MMU is the memory management unit of one hart. It is not safe for
// concurrent use.
type MMU struct {
	hooking.HookableBase

	name    string
	regions *mem.RegionTable
	bus     *bus.Bus
	decoder icache.Decoder
	walker  *vm.Walker

	tlb      *tlb.Cache
	icache   *icache.Cache
	triggers *trigger.Module
	tracers  trace.List

	log                *timewarp.Log
	timeWarp           bool
	hitPermissionCheck bool

	// now is the time of the access in flight, used to record the page
	// table updates of a walk.
	now uint64

	// inAMO turns the load access faults of an AMO into store access
	// faults.
	inAMO bool

	stats Stats
}

// Name returns the name of the MMU.
func (m *MMU) Name() string {
	return m.name
}

// TLB returns the translation caches.
func (m *MMU) TLB() *tlb.Cache {
	return m.tlb
}

// ICache returns the instruction cache.
func (m *MMU) ICache() *icache.Cache {
	return m.icache
}

// Triggers returns the trigger module. Use SetTrigger and ClearTrigger to
// change triggers.
func (m *MMU) Triggers() *trigger.Module {
	return m.triggers
}

// Log returns the time-warp log.
func (m *MMU) Log() *timewarp.Log {
	return m.log
}

// Stats returns the event counters.
func (m *MMU) Stats() Stats {
	return m.stats
}

// FlushTLB invalidates all the translation caches and the instruction
// cache. It must be called whenever the addressing mode, the page table or
// the privilege changes.
func (m *MMU) FlushTLB() {
	m.tlb.Flush()
	m.icache.Flush()

	m.invoke(HookPosTLBFlush, nil, nil)
}

// FlushTLBPage invalidates the translations of the page that contains
// vaddr, and the whole instruction cache. The item of the hook is vaddr.
func (m *MMU) FlushTLBPage(vaddr uint64) {
	m.tlb.Invalidate(vaddr)
	m.icache.Flush()

	m.invoke(HookPosTLBFlush, vaddr, nil)
}

// FlushICache invalidates the instruction cache.
func (m *MMU) FlushICache() {
	m.icache.Flush()

	m.invoke(HookPosICacheFlush, nil, nil)
}

// RegisterMemTracer adds a tracer. Pages and instructions the tracer is
// interested in are no longer cached.
func (m *MMU) RegisterMemTracer(t trace.MemTracer) {
	m.tracers.Hook(t)
	m.FlushTLB()
}

// SetTrigger configures a trigger slot.
func (m *MMU) SetTrigger(index int, t trigger.Trigger) {
	m.triggers.Set(index, t)
	m.FlushTLB()
}

// ClearTrigger disables a trigger slot.
func (m *MMU) ClearTrigger(index int) {
	m.triggers.Clear(index)
	m.FlushTLB()
}

func (m *MMU) invoke(pos *hooking.HookPos, item, detail any) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

func (m *MMU) fail(err error, ctx *AccessCtx) error {
	var fault *vm.Fault
	if m.inAMO && errors.As(err, &fault) && fault.Kind == vm.LoadAccessFault {
		err = vm.AccessFault(vm.Store, fault.Addr)
	}

	m.stats.Faults++
	m.invoke(HookPosFault, err, ctx)

	return err
}

// walkMemory is the memory the page table walker sees. Page table updates
// are recorded like any other store.
type walkMemory struct {
	mmu *MMU
}

func (w walkMemory) Read(paddr uint64, data []byte) error {
	return w.mmu.regions.Read(paddr, data)
}

func (w walkMemory) Write(paddr uint64, data []byte) error {
	m := w.mmu

	if m.timeWarp {
		var old [8]byte

		err := m.regions.Read(paddr, old[:len(data)])
		if err != nil {
			return err
		}

		m.log.Record(len(data), paddr, binary.LittleEndian.Uint64(old[:]),
			m.now)
	}

	return m.regions.Write(paddr, data)
}
