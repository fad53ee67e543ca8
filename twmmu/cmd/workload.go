package cmd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"

	"github.com/sarchlab/twmmu/datarecording"
	"github.com/sarchlab/twmmu/mem"
	"github.com/sarchlab/twmmu/mem/bus"
	"github.com/sarchlab/twmmu/mem/trace"
	"github.com/sarchlab/twmmu/mem/vm"
	"github.com/sarchlab/twmmu/mmu"
	"github.com/sarchlab/twmmu/trigger"
)

// Physical and virtual layout of the stress system.
const (
	ramBase    = uint64(0x80000000)
	uartBase   = uint64(0x10000000)
	dataVBase  = uint64(0x40000000)
	uartVAddr  = dataVBase - vm.PageSize
	tablePages = 64

	// Fetches mostly go to a few hot instructions so that the instruction
	// cache hits.
	numHotPCs      = 8
	hotFetchWeight = 8

	// Rollbacks go back at most this many snapshots.
	maxRollbackDepth = 4
)

// stressConfig configures one stress run.
type stressConfig struct {
	Seed             int64
	Ops              int
	Mode             string
	Pages            int
	SnapshotInterval int
	RollbackProb     float64
	FossilInterval   int
	FossilWindow     int
	TraceDB          string
	TraceLog         bool
	Verbose          bool
	UARTEcho         bool
	TriggerScript    string
}

func defaultStressConfig() stressConfig {
	return stressConfig{
		Seed:             1,
		Ops:              100000,
		Mode:             "sv39",
		Pages:            64,
		SnapshotInterval: 64,
		RollbackProb:     0.001,
		FossilInterval:   1024,
		FossilWindow:     4096,
	}
}

// stressReport counts what a stress run did.
type stressReport struct {
	Loads      uint64
	Stores     uint64
	AMOs       uint64
	Fetches    uint64
	UARTWrites uint64
	Fences     uint64
	Misaligned uint64
	Snapshots  uint64
	Rollbacks  uint64
	Fossils    uint64
	Deferred   uint64
	Stats      mmu.Stats
}

type ramImage struct {
	time uint64
	data []byte
}

// A workload drives an MMU with random accesses and checks every load and
// every rollback against a shadow copy of memory.
type workload struct {
	cfg stressConfig
	rng *rand.Rand

	regions *mem.RegionTable
	mmu     *mmu.MMU
	ctx     *mmu.AccessCtx

	ramSize uint64
	shadow  []byte
	hotPCs  []uint64
	images  []ramImage
	clock   uint64

	recorder datarecording.DataRecorder
	exec     *datarecording.ExecRecorder
	script   *trigger.ScriptCondition

	report stressReport
}

// runStress runs one stress workload. UART output and log lines go to out.
func runStress(cfg stressConfig, out io.Writer) (stressReport, error) {
	err := validateStressConfig(cfg)
	if err != nil {
		return stressReport{}, err
	}

	w := &workload{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		regions: mem.NewRegionTable(),
	}
	defer w.close()

	err = w.setup(out)
	if err != nil {
		return stressReport{}, err
	}

	err = w.run()
	w.report.Stats = w.mmu.Stats()

	if w.exec != nil {
		w.recordReport()
	}

	return w.report, err
}

func validateStressConfig(cfg stressConfig) error {
	switch {
	case cfg.Ops < 0:
		return fmt.Errorf("invalid number of operations %d", cfg.Ops)
	case cfg.Pages <= 0:
		return fmt.Errorf("invalid number of pages %d", cfg.Pages)
	case cfg.SnapshotInterval <= 0:
		return fmt.Errorf("invalid snapshot interval %d", cfg.SnapshotInterval)
	case cfg.FossilInterval <= 0:
		return fmt.Errorf("invalid fossil interval %d", cfg.FossilInterval)
	case cfg.FossilWindow < 0:
		return fmt.Errorf("invalid fossil window %d", cfg.FossilWindow)
	case cfg.RollbackProb < 0 || cfg.RollbackProb > 1:
		return fmt.Errorf("invalid rollback probability %g", cfg.RollbackProb)
	}

	if _, ok := vm.ModeByName(cfg.Mode); !ok {
		return fmt.Errorf("unknown addressing mode %q", cfg.Mode)
	}

	return nil
}

func (w *workload) setup(out io.Writer) error {
	w.ramSize = uint64(w.cfg.Pages+tablePages) * vm.PageSize
	w.regions.Add(ramBase, mem.NewStorage(w.ramSize))

	w.shadow = make([]byte, uint64(w.cfg.Pages)*vm.PageSize)
	w.rng.Read(w.shadow)

	err := w.regions.Write(ramBase, w.shadow)
	if err != nil {
		return err
	}

	var uartOut io.Writer
	if w.cfg.UARTEcho {
		uartOut = out
	}

	b := bus.New()
	b.AddDevice(uartBase, bus.NewUART(uartOut))

	w.mmu = mmu.MakeBuilder().
		WithMemory(w.regions).
		WithBus(b).
		WithTimeWarp(true).
		Build("MMU")

	if w.cfg.Verbose {
		w.mmu.AcceptHook(mmu.NewLogHook(log.New(out, "", 0)))
	}

	err = w.setupTranslation()
	if err != nil {
		return err
	}

	for i := 0; i < numHotPCs; i++ {
		w.hotPCs = append(w.hotPCs, w.vaddrOf(w.pickFetchOffset()))
	}

	w.setupTracers(out)

	return w.setupTrigger()
}

func (w *workload) setupTranslation() error {
	mode, _ := vm.ModeByName(w.cfg.Mode)

	w.ctx = &mmu.AccessCtx{Priv: vm.Privilege{Mode: vm.PrivS}}

	if !mode.Paged() {
		w.ctx.Satp = vm.Satp{Mode: mode}
		return nil
	}

	dataEnd := ramBase + uint64(w.cfg.Pages)*vm.PageSize
	pt, err := vm.NewPageTable(mode, w.regions,
		vm.NewBumpAllocator(dataEnd, ramBase+w.ramSize))
	if err != nil {
		return err
	}

	for i := 0; i < w.cfg.Pages; i++ {
		// Odd pages start without A and D so the walker has to set them.
		flags := vm.PTERead | vm.PTEWrite | vm.PTEExec
		if i%2 == 0 {
			flags |= vm.PTEAccessed | vm.PTEDirty
		}

		err = pt.Insert(vm.Page{
			VAddr: dataVBase + uint64(i)*vm.PageSize,
			PAddr: ramBase + uint64(i)*vm.PageSize,
			Flags: flags,
		})
		if err != nil {
			return err
		}
	}

	err = pt.Insert(vm.Page{
		VAddr: uartVAddr,
		PAddr: uartBase,
		Flags: vm.PTERead | vm.PTEWrite | vm.PTEAccessed | vm.PTEDirty,
	})
	if err != nil {
		return err
	}

	w.ctx.Satp = pt.Satp()

	return nil
}

func (w *workload) setupTracers(out io.Writer) {
	if w.cfg.TraceLog {
		w.mmu.RegisterMemTracer(trace.NewLogTracer(
			log.New(out, "", 0), ramBase, ramBase+vm.PageSize))
	}

	if w.cfg.TraceDB == "" {
		return
	}

	w.recorder = datarecording.New(w.cfg.TraceDB)
	w.exec = datarecording.NewExecRecorder(w.recorder)
	w.exec.Start()
	w.exec.Set("Seed", fmt.Sprint(w.cfg.Seed))
	w.exec.Set("Mode", w.cfg.Mode)

	w.mmu.RegisterMemTracer(trace.NewDBTracer(w.recorder))
}

func (w *workload) setupTrigger() error {
	if w.cfg.TriggerScript == "" {
		return nil
	}

	cond, err := trigger.NewScriptCondition(w.cfg.TriggerScript)
	if err != nil {
		return err
	}

	w.script = cond
	w.mmu.SetTrigger(0, trigger.Trigger{
		Store:     true,
		Select:    trigger.Data,
		Match:     trigger.MatchGreaterEqual,
		Value:     0,
		Timing:    trigger.After,
		Condition: cond,
	})

	return nil
}

func (w *workload) close() {
	if w.script != nil {
		w.script.Close()
	}

	if w.recorder != nil {
		w.exec.End()
		_ = w.recorder.Close()
	}
}

func (w *workload) recordReport() {
	r := w.report
	w.exec.Set("Loads", fmt.Sprint(r.Loads))
	w.exec.Set("Stores", fmt.Sprint(r.Stores))
	w.exec.Set("Rollbacks", fmt.Sprint(r.Rollbacks))
	w.exec.Set("TLB Hits", fmt.Sprint(r.Stats.TLBHits))
	w.exec.Set("TLB Misses", fmt.Sprint(r.Stats.TLBMisses))
}

func (w *workload) run() error {
	for i := 0; i < w.cfg.Ops; i++ {
		w.clock++
		w.ctx.Now = w.clock

		err := w.step()
		if err != nil {
			return fmt.Errorf("time %d: %w", w.clock, err)
		}

		if w.ctx.TakeDeferred() != nil {
			w.report.Deferred++
		}

		err = w.maintain()
		if err != nil {
			return fmt.Errorf("time %d: %w", w.clock, err)
		}
	}

	return nil
}

func (w *workload) step() error {
	n := w.rng.Intn(100)

	switch {
	case n < 35:
		return w.load()
	case n < 60:
		return w.store()
	case n < 70:
		return w.amo()
	case n < 85:
		return w.fetch()
	case n < 89:
		return w.uart()
	case n < 90:
		return w.fence()
	default:
		return w.misaligned()
	}
}

func (w *workload) maintain() error {
	if w.clock%uint64(w.cfg.SnapshotInterval) == 0 {
		w.snapshot()
	}

	if len(w.images) > 0 && w.rng.Float64() < w.cfg.RollbackProb {
		err := w.rollback()
		if err != nil {
			return err
		}
	}

	if w.clock%uint64(w.cfg.FossilInterval) == 0 &&
		w.clock > uint64(w.cfg.FossilWindow) {
		w.collectFossils(w.clock - uint64(w.cfg.FossilWindow))
	}

	return nil
}

// pick returns a random aligned location in the data pages.
func (w *workload) pick(size int) (vaddr uint64, offset int) {
	page := w.rng.Intn(w.cfg.Pages)
	offset = page*int(vm.PageSize) + w.rng.Intn(int(vm.PageSize)/size)*size

	return w.vaddrOf(offset), offset
}

func (w *workload) vaddrOf(offset int) uint64 {
	if !w.ctx.Satp.Mode.Paged() {
		return ramBase + uint64(offset)
	}

	return dataVBase + uint64(offset)
}

func (w *workload) uartAddr() uint64 {
	if !w.ctx.Satp.Mode.Paged() {
		return uartBase
	}

	return uartVAddr
}

func randomSize(rng *rand.Rand) int {
	return 1 << rng.Intn(4)
}

func (w *workload) load() error {
	size := randomSize(w.rng)
	vaddr, offset := w.pick(size)

	got, err := w.loadSized(vaddr, size)
	if err != nil {
		return err
	}

	want := getLE(w.shadow[offset : offset+size])
	if got != want {
		return fmt.Errorf("load %d bytes at 0x%x: got 0x%x, want 0x%x",
			size, vaddr, got, want)
	}

	w.report.Loads++

	return nil
}

func (w *workload) loadSized(vaddr uint64, size int) (uint64, error) {
	switch size {
	case 1:
		v, err := w.mmu.LoadUint8(w.ctx, vaddr)
		return uint64(v), err
	case 2:
		v, err := w.mmu.LoadUint16(w.ctx, vaddr)
		return uint64(v), err
	case 4:
		v, err := w.mmu.LoadUint32(w.ctx, vaddr)
		return uint64(v), err
	default:
		return w.mmu.LoadUint64(w.ctx, vaddr)
	}
}

func (w *workload) store() error {
	size := randomSize(w.rng)
	vaddr, offset := w.pick(size)
	val := w.rng.Uint64()

	var err error
	switch size {
	case 1:
		err = w.mmu.StoreUint8(w.ctx, vaddr, uint8(val))
	case 2:
		err = w.mmu.StoreUint16(w.ctx, vaddr, uint16(val))
	case 4:
		err = w.mmu.StoreUint32(w.ctx, vaddr, uint32(val))
	default:
		err = w.mmu.StoreUint64(w.ctx, vaddr, val)
	}

	if err != nil {
		return err
	}

	putLE(w.shadow[offset:offset+size], val)
	w.report.Stores++

	return nil
}

func (w *workload) amo() error {
	size := 4 << w.rng.Intn(2)
	vaddr, offset := w.pick(size)
	addend := w.rng.Uint64()

	var (
		old uint64
		err error
	)

	if size == 4 {
		var v uint32
		v, err = w.mmu.AMOUint32(w.ctx, vaddr, func(x uint32) uint32 {
			return x + uint32(addend)
		})
		old = uint64(v)
	} else {
		old, err = w.mmu.AMOUint64(w.ctx, vaddr, func(x uint64) uint64 {
			return x + addend
		})
	}

	if err != nil {
		return err
	}

	cell := w.shadow[offset : offset+size]
	if want := getLE(cell); old != want {
		return fmt.Errorf("amo %d bytes at 0x%x: got 0x%x, want 0x%x",
			size, vaddr, old, want)
	}

	putLE(cell, old+addend)
	w.report.AMOs++

	return nil
}

// fetch reads an instruction. Stores do not invalidate the instruction cache,
// so the fetched bits are not checked against the shadow.
func (w *workload) fetch() error {
	pc := w.hotPCs[w.rng.Intn(len(w.hotPCs))]
	if w.rng.Intn(hotFetchWeight+1) == 0 {
		pc = w.vaddrOf(w.pickFetchOffset())
	}

	_, err := w.mmu.AccessICache(w.ctx, pc)
	if err != nil {
		return err
	}

	w.report.Fetches++

	return nil
}

// pickFetchOffset returns a parcel-aligned offset whose longest instruction
// stays within its page.
func (w *workload) pickFetchOffset() int {
	page := w.rng.Intn(w.cfg.Pages)
	return page*int(vm.PageSize) + w.rng.Intn((int(vm.PageSize)-8)/2)*2
}

// fence flushes the translations of one data page.
func (w *workload) fence() error {
	vaddr, _ := w.pick(int(vm.PageSize))
	w.mmu.FlushTLBPage(vaddr)
	w.report.Fences++

	return nil
}

func (w *workload) uart() error {
	c := byte('a' + w.rng.Intn(26))

	err := w.mmu.StoreUint8(w.ctx, w.uartAddr()+bus.UARTRegTxFIFO, c)
	if err != nil {
		return err
	}

	w.report.UARTWrites++

	return nil
}

func (w *workload) misaligned() error {
	size := 2 << w.rng.Intn(3)
	vaddr, _ := w.pick(size)
	vaddr++

	_, err := w.loadSized(vaddr, size)

	var fault *vm.Fault
	if !errors.As(err, &fault) || fault.Kind != vm.LoadAddressMisaligned {
		return fmt.Errorf("load %d bytes at 0x%x: want misaligned fault, got %v",
			size, vaddr, err)
	}

	w.report.Misaligned++

	return nil
}

func (w *workload) snapshot() {
	w.mmu.Snapshot(w.clock)

	w.images = append(w.images, ramImage{time: w.clock, data: w.readRAM()})
	w.report.Snapshots++
}

func (w *workload) readRAM() []byte {
	data := make([]byte, w.ramSize)

	err := w.regions.Read(ramBase, data)
	if err != nil {
		panic(err)
	}

	return data
}

func (w *workload) rollback() error {
	i := len(w.images) - 1 - w.rng.Intn(min(len(w.images), maxRollbackDepth))
	img := w.images[i]

	err := w.mmu.Rollback(img.time)
	if err != nil {
		return err
	}

	if !bytes.Equal(w.readRAM(), img.data) {
		return fmt.Errorf("memory differs after rollback to %d", img.time)
	}

	w.images = w.images[:i+1]
	copy(w.shadow, img.data)
	w.clock = img.time
	w.ctx.TakeDeferred()
	w.report.Rollbacks++

	return nil
}

func (w *workload) collectFossils(gvt uint64) {
	w.mmu.CollectFossils(gvt)

	kept := w.images[:0]
	for _, img := range w.images {
		if img.time >= gvt {
			kept = append(kept, img)
		}
	}

	w.images = kept
	w.report.Fossils++
}

func getLE(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)

	return binary.LittleEndian.Uint64(buf[:])
}

func putLE(b []byte, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(b, buf[:])
}
