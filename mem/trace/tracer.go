// Package trace provides tracers that observe the physical memory accesses
// the MMU performs on its slow path.
package trace

import (
	"log"

	"github.com/rs/xid"
	"github.com/sarchlab/twmmu/datarecording"
	"github.com/sarchlab/twmmu/mem/vm"
)

// A MemTracer observes physical memory accesses. The MMU never caches a
// translation or an instruction whose physical range a tracer is interested
// in, so every such access reaches Trace.
type MemTracer interface {
	InterestedInRange(begin, end uint64, kind vm.AccessType) bool
	Trace(addr, size uint64, kind vm.AccessType)
}

// A List fans accesses out to a group of tracers.
type List struct {
	tracers []MemTracer
}

// Hook adds a tracer to the list.
func (l *List) Hook(t MemTracer) {
	l.tracers = append(l.tracers, t)
}

// Empty tells if no tracer is registered.
func (l *List) Empty() bool {
	return len(l.tracers) == 0
}

// InterestedInRange tells if any tracer is interested in [begin, end).
func (l *List) InterestedInRange(begin, end uint64, kind vm.AccessType) bool {
	for _, t := range l.tracers {
		if t.InterestedInRange(begin, end, kind) {
			return true
		}
	}

	return false
}

// Trace passes the access to every tracer. Tracers filter the accesses they
// are not interested in themselves.
func (l *List) Trace(addr, size uint64, kind vm.AccessType) {
	for _, t := range l.tracers {
		t.Trace(addr, size, kind)
	}
}

// A logTracer prints the accesses that fall in a physical range.
type logTracer struct {
	logger     *log.Logger
	begin, end uint64
}

// NewLogTracer creates a tracer that prints every access overlapping
// [begin, end).
func NewLogTracer(logger *log.Logger, begin, end uint64) MemTracer {
	return &logTracer{logger: logger, begin: begin, end: end}
}

func (t *logTracer) InterestedInRange(
	begin, end uint64,
	_ vm.AccessType,
) bool {
	return begin < t.end && t.begin < end
}

func (t *logTracer) Trace(addr, size uint64, kind vm.AccessType) {
	if !t.InterestedInRange(addr, addr+size, kind) {
		return
	}

	t.logger.Printf("%s, 0x%x, %d\n", kind, addr, size)
}

// memoryAccessEntry represents a traced access in the database.
type memoryAccessEntry struct {
	ID      string
	Seq     uint64
	Kind    string
	Address uint64
	Size    uint64
}

// A dbTracer records every access into a database using the data recorder.
type dbTracer struct {
	dataRecorder datarecording.DataRecorder
	seq          uint64
}

// NewDBTracer creates a tracer that records all accesses into the
// memory_accesses table.
func NewDBTracer(dataRecorder datarecording.DataRecorder) MemTracer {
	t := &dbTracer{dataRecorder: dataRecorder}

	t.dataRecorder.CreateTable("memory_accesses", memoryAccessEntry{})

	return t
}

func (t *dbTracer) InterestedInRange(_, _ uint64, _ vm.AccessType) bool {
	return true
}

func (t *dbTracer) Trace(addr, size uint64, kind vm.AccessType) {
	entry := memoryAccessEntry{
		ID:      xid.New().String(),
		Seq:     t.seq,
		Kind:    kind.String(),
		Address: addr,
		Size:    size,
	}
	t.seq++

	t.dataRecorder.InsertData("memory_accesses", entry)
}
