// Package timewarp keeps the history that lets a hart roll its memory and
// translation state back to an earlier logical time.
//
// The log holds the pre-image of every store and snapshots of the
// translation caches, both ordered by timestamp. Fossil collection drops the
// history that lies before the global virtual time, after which no rollback
// may go before that time.
package timewarp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/sarchlab/twmmu/mem/vm/tlb"
)

// ErrBeyondHorizon is returned when a rollback targets a time whose history
// has already been collected.
var ErrBeyondHorizon = errors.New("rollback beyond the fossil horizon")

// A Record is the value a store overwrote.
type Record struct {
	Len  int
	Addr uint64
	Data uint64
	Time uint64
}

// A Snapshot is a copy of the translation caches.
type Snapshot struct {
	Time uint64
	TLB  tlb.Cache
}

// Memory is the physical memory that rollbacks write pre-images back to.
type Memory interface {
	Write(paddr uint64, data []byte) error
}

// A Log is the time-warp history of one hart.
type Log struct {
	records   []Record
	snapshots []Snapshot
	horizon   uint64
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Len returns the number of store records.
func (l *Log) Len() int {
	return len(l.records)
}

// NumSnapshots returns the number of snapshots.
func (l *Log) NumSnapshots() int {
	return len(l.snapshots)
}

// Horizon returns the earliest time a rollback may target.
func (l *Log) Horizon() uint64 {
	return l.horizon
}

// Records returns the store records, oldest first. The slice must not be
// modified.
func (l *Log) Records() []Record {
	return l.records
}

// Record appends the pre-image of a store of length bytes at addr.
func (l *Log) Record(length int, addr, old, ts uint64) {
	if length <= 0 || length > 8 {
		panic(fmt.Sprintf("invalid record length %d", length))
	}

	l.timeMustNotGoBack(ts, len(l.records) > 0, func() uint64 {
		return l.records[len(l.records)-1].Time
	})

	l.records = append(l.records, Record{
		Len:  length,
		Addr: addr,
		Data: old,
		Time: ts,
	})
}

// Snapshot appends a copy of the translation caches.
func (l *Log) Snapshot(ts uint64, cache *tlb.Cache) {
	l.timeMustNotGoBack(ts, len(l.snapshots) > 0, func() uint64 {
		return l.snapshots[len(l.snapshots)-1].Time
	})

	l.snapshots = append(l.snapshots, Snapshot{Time: ts, TLB: *cache})
}

func (l *Log) timeMustNotGoBack(ts uint64, hasLast bool, last func() uint64) {
	if ts < l.horizon {
		panic(fmt.Sprintf("time %d is before the horizon %d", ts, l.horizon))
	}

	if hasLast && ts < last() {
		panic(fmt.Sprintf("time %d is before the last entry at %d",
			ts, last()))
	}
}

// Rollback restores the state as of time ts. The caches are restored from
// the latest snapshot taken at or before ts, or flushed if there is none.
// Every store after ts is undone, newest first, and all the history after ts
// is dropped.
func (l *Log) Rollback(ts uint64, cache *tlb.Cache, memory Memory) error {
	if ts < l.horizon {
		return fmt.Errorf("rollback to %d, horizon %d: %w",
			ts, l.horizon, ErrBeyondHorizon)
	}

	s := sort.Search(len(l.snapshots), func(i int) bool {
		return l.snapshots[i].Time > ts
	})
	if s > 0 {
		*cache = l.snapshots[s-1].TLB
	} else {
		cache.Flush()
	}

	r := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].Time > ts
	})

	buf := make([]byte, 8)
	for i := len(l.records) - 1; i >= r; i-- {
		rec := l.records[i]
		binary.LittleEndian.PutUint64(buf, rec.Data)

		err := memory.Write(rec.Addr, buf[:rec.Len])
		if err != nil {
			l.records = l.records[:i+1]
			return fmt.Errorf("undo store at 0x%x: %w", rec.Addr, err)
		}
	}

	l.records = l.records[:r]
	l.snapshots = l.snapshots[:s]

	return nil
}

// CollectFossils drops the history before gvt and moves the horizon to gvt.
// A gvt at or before the current horizon changes nothing.
func (l *Log) CollectFossils(gvt uint64) {
	if gvt <= l.horizon {
		return
	}

	r := sort.Search(len(l.records), func(i int) bool {
		return l.records[i].Time >= gvt
	})
	l.records = slices.Clone(l.records[r:])

	s := sort.Search(len(l.snapshots), func(i int) bool {
		return l.snapshots[i].Time >= gvt
	})
	l.snapshots = slices.Clone(l.snapshots[s:])

	l.horizon = gvt
}
