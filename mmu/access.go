package mmu

import (
	"encoding/binary"

	"github.com/sarchlab/twmmu/mem"
	"github.com/sarchlab/twmmu/mem/vm"
	"github.com/sarchlab/twmmu/mem/vm/tlb"
	"github.com/sarchlab/twmmu/trigger"
)

// LoadUint8 loads a byte.
func (m *MMU) LoadUint8(ctx *AccessCtx, addr uint64) (uint8, error) {
	v, err := m.load(ctx, addr, 1)
	return uint8(v), err
}

// LoadUint16 loads a half word.
func (m *MMU) LoadUint16(ctx *AccessCtx, addr uint64) (uint16, error) {
	v, err := m.load(ctx, addr, 2)
	return uint16(v), err
}

// LoadUint32 loads a word.
func (m *MMU) LoadUint32(ctx *AccessCtx, addr uint64) (uint32, error) {
	v, err := m.load(ctx, addr, 4)
	return uint32(v), err
}

// LoadUint64 loads a double word.
func (m *MMU) LoadUint64(ctx *AccessCtx, addr uint64) (uint64, error) {
	return m.load(ctx, addr, 8)
}

// LoadInt8 loads a signed byte.
func (m *MMU) LoadInt8(ctx *AccessCtx, addr uint64) (int8, error) {
	v, err := m.load(ctx, addr, 1)
	return int8(v), err
}

// LoadInt16 loads a signed half word.
func (m *MMU) LoadInt16(ctx *AccessCtx, addr uint64) (int16, error) {
	v, err := m.load(ctx, addr, 2)
	return int16(v), err
}

// LoadInt32 loads a signed word.
func (m *MMU) LoadInt32(ctx *AccessCtx, addr uint64) (int32, error) {
	v, err := m.load(ctx, addr, 4)
	return int32(v), err
}

// LoadInt64 loads a signed double word.
func (m *MMU) LoadInt64(ctx *AccessCtx, addr uint64) (int64, error) {
	v, err := m.load(ctx, addr, 8)
	return int64(v), err
}

// StoreUint8 stores a byte.
func (m *MMU) StoreUint8(ctx *AccessCtx, addr uint64, v uint8) error {
	return m.store(ctx, addr, 1, uint64(v))
}

// StoreUint16 stores a half word.
func (m *MMU) StoreUint16(ctx *AccessCtx, addr uint64, v uint16) error {
	return m.store(ctx, addr, 2, uint64(v))
}

// StoreUint32 stores a word.
func (m *MMU) StoreUint32(ctx *AccessCtx, addr uint64, v uint32) error {
	return m.store(ctx, addr, 4, uint64(v))
}

// StoreUint64 stores a double word.
func (m *MMU) StoreUint64(ctx *AccessCtx, addr uint64, v uint64) error {
	return m.store(ctx, addr, 8, v)
}

// AMOUint32 atomically replaces the word at addr with f of its value and
// returns the old value. The access faults as a store.
func (m *MMU) AMOUint32(
	ctx *AccessCtx,
	addr uint64,
	f func(uint32) uint32,
) (uint32, error) {
	v, err := m.amo(ctx, addr, 4, func(old uint64) uint64 {
		return uint64(f(uint32(old)))
	})

	return uint32(v), err
}

// AMOUint64 atomically replaces the double word at addr with f of its value
// and returns the old value. The access faults as a store.
func (m *MMU) AMOUint64(
	ctx *AccessCtx,
	addr uint64,
	f func(uint64) uint64,
) (uint64, error) {
	return m.amo(ctx, addr, 8, f)
}

func (m *MMU) amo(
	ctx *AccessCtx,
	addr uint64,
	size int,
	f func(uint64) uint64,
) (uint64, error) {
	if addr&uint64(size-1) != 0 {
		return 0, m.fail(vm.MisalignedFault(vm.Store, addr), ctx)
	}

	m.inAMO = true
	old, err := m.load(ctx, addr, size)
	m.inAMO = false

	if err != nil {
		return 0, err
	}

	err = m.store(ctx, addr, size, f(old))
	if err != nil {
		return 0, err
	}

	return old, nil
}

func (m *MMU) load(ctx *AccessCtx, addr uint64, size int) (uint64, error) {
	if addr&uint64(size-1) != 0 {
		return 0, m.fail(vm.MisalignedFault(vm.Load, addr), ctx)
	}

	entry, hit := m.tlb.Lookup(addr, vm.Load)
	if hit != tlb.Miss {
		ok, err := m.checkHit(ctx, entry, vm.Load, addr)
		if err != nil {
			return 0, err
		}

		if ok {
			host, err := m.hostBytes(ctx, entry.Window, addr, size, vm.Load)
			if err != nil {
				return 0, err
			}

			m.stats.TLBHits++
			data := getLE(host)

			if hit == tlb.HitCheckTriggers {
				err = m.checkTrigger(ctx, trigger.Load, addr, data)
				if err != nil {
					return 0, err
				}
			}

			return data, nil
		}
	}

	m.stats.TLBMisses++

	return m.loadSlowPath(ctx, addr, size)
}

func (m *MMU) loadSlowPath(ctx *AccessCtx, addr uint64, size int) (uint64, error) {
	tr, err := m.translate(ctx, addr, vm.Load)
	if err != nil {
		return 0, m.fail(err, ctx)
	}

	var buf [8]byte

	paddr := tr.PAddr
	if w, ok := m.regions.WindowFor(paddr); ok {
		host, err := m.hostBytes(ctx, w, paddr, size, vm.Load)
		if err != nil {
			return 0, err
		}

		copy(buf[:size], host)

		if m.tracedPage(paddr, vm.Load) {
			m.tracers.Trace(paddr, uint64(size), vm.Load)
		} else {
			m.refill(addr, w, tr.PTE, vm.Load)
		}
	} else if !m.mmioLoad(paddr, buf[:size]) {
		return 0, m.fail(vm.AccessFault(vm.Load, addr), ctx)
	}

	data := getLE(buf[:size])

	err = m.checkTrigger(ctx, trigger.Load, addr, data)
	if err != nil {
		return 0, err
	}

	return data, nil
}

func (m *MMU) store(ctx *AccessCtx, addr uint64, size int, val uint64) error {
	if addr&uint64(size-1) != 0 {
		return m.fail(vm.MisalignedFault(vm.Store, addr), ctx)
	}

	entry, hit := m.tlb.Lookup(addr, vm.Store)
	if hit != tlb.Miss {
		ok, err := m.checkHit(ctx, entry, vm.Store, addr)
		if err != nil {
			return err
		}

		if ok {
			if hit == tlb.HitCheckTriggers {
				err = m.checkTrigger(ctx, trigger.Store, addr, val)
				if err != nil {
					return err
				}
			}

			host, err := m.hostBytes(ctx, entry.Window, addr, size, vm.Store)
			if err != nil {
				return err
			}

			m.stats.TLBHits++
			m.write(ctx, entry.Window.PageBase|addr&vm.PageOffsetMask, host, val)

			return nil
		}
	}

	m.stats.TLBMisses++

	return m.storeSlowPath(ctx, addr, size, val)
}

func (m *MMU) storeSlowPath(
	ctx *AccessCtx,
	addr uint64,
	size int,
	val uint64,
) error {
	tr, err := m.translate(ctx, addr, vm.Store)
	if err != nil {
		return m.fail(err, ctx)
	}

	err = m.checkTrigger(ctx, trigger.Store, addr, val)
	if err != nil {
		return err
	}

	paddr := tr.PAddr
	if w, ok := m.regions.WindowFor(paddr); ok {
		host, err := m.hostBytes(ctx, w, paddr, size, vm.Store)
		if err != nil {
			return err
		}

		m.write(ctx, paddr, host, val)

		if m.tracedPage(paddr, vm.Store) {
			m.tracers.Trace(paddr, uint64(size), vm.Store)
		} else {
			m.refill(addr, w, tr.PTE, vm.Store)
		}

		return nil
	}

	var buf [8]byte
	putLE(buf[:size], val)

	if !m.mmioStore(paddr, buf[:size]) {
		return m.fail(vm.AccessFault(vm.Store, addr), ctx)
	}

	return nil
}

// write stores val into host, recording the old value first.
func (m *MMU) write(ctx *AccessCtx, paddr uint64, host []byte, val uint64) {
	if m.timeWarp {
		m.log.Record(len(host), paddr, getLE(host), ctx.Now)
	}

	putLE(host, val)
}

func (m *MMU) translate(
	ctx *AccessCtx,
	addr uint64,
	access vm.AccessType,
) (vm.Translation, error) {
	m.now = ctx.Now

	return m.walker.Walk(addr, access, ctx.Priv, ctx.Satp)
}

// tracedPage tells if a tracer is interested in any byte of the page of
// paddr. Such a page is never cached.
func (m *MMU) tracedPage(paddr uint64, access vm.AccessType) bool {
	base := paddr &^ vm.PageOffsetMask
	return m.tracers.InterestedInRange(base, base+vm.PageSize, access)
}

func (m *MMU) refill(
	vaddr uint64,
	w mem.Window,
	pte uint64,
	access vm.AccessType,
) {
	checkTriggers := m.triggers.Armed(operationOf(access))
	m.tlb.Refill(vaddr, w, pte, access, checkTriggers)
}

// checkHit applies the permission check on a TLB hit. It reports false if
// the access must take the slow path.
func (m *MMU) checkHit(
	ctx *AccessCtx,
	entry tlb.Slot,
	access vm.AccessType,
	addr uint64,
) (bool, error) {
	if !m.hitPermissionCheck {
		return true, nil
	}

	eff := ctx.Priv.Effective(access)
	if eff == vm.PrivM || !ctx.Satp.Mode.Paged() {
		return true, nil
	}

	switch vm.Permit(entry.PTE, access, eff, ctx.Priv.SUM, ctx.Priv.MXR) {
	case vm.Deny:
		return false, m.fail(vm.AccessFault(access, addr), ctx)
	case vm.Miss:
		return false, nil
	default:
		return true, nil
	}
}

// hostBytes returns the host bytes of an access that lies in the page of
// window w.
func (m *MMU) hostBytes(
	ctx *AccessCtx,
	w mem.Window,
	addr uint64,
	size int,
	access vm.AccessType,
) ([]byte, error) {
	page, err := m.regions.Page(w)
	if err != nil {
		return nil, m.fail(vm.AccessFault(access, addr), ctx)
	}

	offset := addr & vm.PageOffsetMask

	return page[offset : offset+uint64(size)], nil
}

func (m *MMU) checkTrigger(
	ctx *AccessCtx,
	op trigger.Operation,
	addr, data uint64,
) error {
	if ctx.deferred != nil {
		return nil
	}

	res := m.triggers.Match(op, addr, data)
	switch res.Kind {
	case trigger.Fault:
		m.invoke(HookPosTrigger, res.Match, ctx)
		return res.Match
	case trigger.Deferred:
		m.invoke(HookPosTrigger, res.Match, ctx)
		ctx.deferred = res.Match
	}

	return nil
}

func (m *MMU) mmioLoad(paddr uint64, data []byte) bool {
	m.stats.MMIOAccesses++
	return m.bus.Load(paddr, data)
}

func (m *MMU) mmioStore(paddr uint64, data []byte) bool {
	m.stats.MMIOAccesses++
	return m.bus.Store(paddr, data)
}

func operationOf(access vm.AccessType) trigger.Operation {
	switch access {
	case vm.Fetch:
		return trigger.Execute
	case vm.Load:
		return trigger.Load
	default:
		return trigger.Store
	}
}

func getLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func putLE(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
