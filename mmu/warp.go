package mmu

import "github.com/sarchlab/twmmu/trigger"

// SetTimeWarp turns store recording on or off.
func (m *MMU) SetTimeWarp(enabled bool) {
	m.timeWarp = enabled
}

// TimeWarp tells if stores are recorded.
func (m *MMU) TimeWarp() bool {
	return m.timeWarp
}

// Snapshot saves the translation caches at time ts.
func (m *MMU) Snapshot(ts uint64) {
	m.log.Snapshot(ts, m.tlb)

	m.invoke(HookPosSnapshot, ts, nil)
}

// Rollback restores the memory and the translation caches as of time ts.
// No access may be in flight.
func (m *MMU) Rollback(ts uint64) error {
	err := m.log.Rollback(ts, m.tlb, m.regions)
	if err != nil {
		return err
	}

	// A restored entry may predate the current triggers and tracers.
	if m.anyTriggerArmed() || !m.tracers.Empty() {
		m.tlb.Flush()
	}

	m.icache.Flush()

	m.invoke(HookPosRollback, ts, nil)

	return nil
}

// CollectFossils drops the history before gvt. Rollbacks to a time before
// gvt fail afterwards.
func (m *MMU) CollectFossils(gvt uint64) {
	m.log.CollectFossils(gvt)

	m.invoke(HookPosFossil, gvt, nil)
}

func (m *MMU) anyTriggerArmed() bool {
	return m.triggers.Armed(trigger.Execute) ||
		m.triggers.Armed(trigger.Load) ||
		m.triggers.Armed(trigger.Store)
}
