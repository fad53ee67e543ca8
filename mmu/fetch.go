package mmu

import (
	"encoding/binary"

	"github.com/sarchlab/twmmu/mem/icache"
	"github.com/sarchlab/twmmu/mem/vm"
	"github.com/sarchlab/twmmu/mem/vm/tlb"
	"github.com/sarchlab/twmmu/trigger"
)

// AccessICache returns the decoded instruction at addr. A miss fetches and
// decodes the instruction and caches it, unless a tracer is interested in
// its physical address or an execute trigger is armed.
func (m *MMU) AccessICache(ctx *AccessCtx, addr uint64) (icache.Fetch, error) {
	if f, ok := m.icache.Lookup(addr); ok {
		m.stats.ICacheHits++
		return f, nil
	}

	m.stats.ICacheMisses++

	return m.refillICache(ctx, addr, true)
}

// LoadInsn fetches and decodes the instruction at addr without touching the
// instruction cache.
func (m *MMU) LoadInsn(ctx *AccessCtx, addr uint64) (icache.Fetch, error) {
	return m.refillICache(ctx, addr, false)
}

func (m *MMU) refillICache(
	ctx *AccessCtx,
	addr uint64,
	fill bool,
) (icache.Fetch, error) {
	if addr%icache.Alignment != 0 {
		return icache.Fetch{}, m.fail(vm.MisalignedFault(vm.Fetch, addr), ctx)
	}

	first, paddr, err := m.fetchParcel(ctx, addr)
	if err != nil {
		return icache.Fetch{}, err
	}

	length := icache.Length(uint64(first))

	bits, err := m.assemble(ctx, addr, first, length)
	if err != nil {
		return icache.Fetch{}, err
	}

	f := icache.Fetch{
		Insn:   m.decoder.Decode(bits),
		Bits:   bits,
		Length: length,
	}

	traced := m.tracers.InterestedInRange(paddr, paddr+1, vm.Fetch)
	if traced {
		m.tracers.Trace(paddr, uint64(length), vm.Fetch)
	}

	if !fill {
		return f, nil
	}

	if traced || m.triggers.Armed(trigger.Execute) {
		m.icache.Invalidate(addr)
	} else {
		m.icache.Fill(addr, f)
	}

	return f, nil
}

// assemble reads the parcels after the first one. The topmost parcel is
// sign extended.
func (m *MMU) assemble(
	ctx *AccessCtx,
	addr uint64,
	first uint16,
	length int,
) (uint64, error) {
	if length == 2 {
		return signExtend(first), nil
	}

	top, _, err := m.fetchParcel(ctx, addr+uint64(length)-2)
	if err != nil {
		return 0, err
	}

	bits := uint64(first) | signExtend(top)<<(8*(length-2))

	for offset := length - 4; offset >= 2; offset -= 2 {
		p, _, err := m.fetchParcel(ctx, addr+uint64(offset))
		if err != nil {
			return 0, err
		}

		bits |= uint64(p) << (8 * offset)
	}

	return bits, nil
}

func signExtend(p uint16) uint64 {
	return uint64(int64(int16(p)))
}

// fetchParcel reads the 16 bits at addr through the fetch translation path
// and returns them with their physical address.
func (m *MMU) fetchParcel(ctx *AccessCtx, addr uint64) (uint16, uint64, error) {
	entry, hit := m.tlb.Lookup(addr, vm.Fetch)
	if hit != tlb.Miss {
		ok, err := m.checkHit(ctx, entry, vm.Fetch, addr)
		if err != nil {
			return 0, 0, err
		}

		if ok {
			host, err := m.hostBytes(ctx, entry.Window, addr, 2, vm.Fetch)
			if err != nil {
				return 0, 0, err
			}

			m.stats.TLBHits++
			p := binary.LittleEndian.Uint16(host)

			if hit == tlb.HitCheckTriggers {
				err = m.checkExecute(ctx, addr, p)
				if err != nil {
					return 0, 0, err
				}
			}

			return p, entry.Window.PageBase | addr&vm.PageOffsetMask, nil
		}
	}

	m.stats.TLBMisses++

	return m.fetchSlowPath(ctx, addr)
}

func (m *MMU) fetchSlowPath(ctx *AccessCtx, addr uint64) (uint16, uint64, error) {
	tr, err := m.translate(ctx, addr, vm.Fetch)
	if err != nil {
		return 0, 0, m.fail(err, ctx)
	}

	var buf [2]byte

	paddr := tr.PAddr
	if w, ok := m.regions.WindowFor(paddr); ok {
		host, err := m.hostBytes(ctx, w, paddr, 2, vm.Fetch)
		if err != nil {
			return 0, 0, err
		}

		copy(buf[:], host)
		m.refill(addr, w, tr.PTE, vm.Fetch)
	} else if !m.mmioLoad(paddr, buf[:]) {
		return 0, 0, m.fail(vm.AccessFault(vm.Fetch, addr), ctx)
	}

	p := binary.LittleEndian.Uint16(buf[:])

	if m.triggers.Armed(trigger.Execute) {
		err = m.checkExecute(ctx, addr, p)
		if err != nil {
			return 0, 0, err
		}
	}

	return p, paddr, nil
}

// checkExecute evaluates the execute triggers. They fire immediately
// whatever their timing.
func (m *MMU) checkExecute(ctx *AccessCtx, addr uint64, parcel uint16) error {
	res := m.triggers.Match(trigger.Execute, addr, uint64(parcel))
	if res.Kind == trigger.NoMatch {
		return nil
	}

	m.invoke(HookPosTrigger, res.Match, ctx)

	return res.Match
}
