package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"
)

var stressFlags = defaultStressConfig()

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run a random workload against the MMU and check every result.",
	Long: `Run a seeded random workload of loads, stores, AMOs, fetches and ` +
		`UART writes against one MMU, with occasional page flushes. Loads ` +
		`are checked against a shadow copy of memory. Snapshots are taken ` +
		`periodically and random rollbacks are checked byte for byte.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		report, err := runStress(stressFlags, out)
		printReport(out, report)

		if err != nil {
			return err
		}

		printHostMemory(out)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(stressCmd)

	f := stressCmd.Flags()
	f.Int64Var(&stressFlags.Seed, "seed",
		envInt64("TWMMU_SEED", stressFlags.Seed), "Random seed.")
	f.IntVar(&stressFlags.Ops, "ops",
		int(envInt64("TWMMU_OPS", int64(stressFlags.Ops))),
		"Number of operations.")
	f.StringVar(&stressFlags.Mode, "mode",
		envString("TWMMU_MODE", stressFlags.Mode),
		"Addressing mode: bare, sv32, sv39 or sv48.")
	f.IntVar(&stressFlags.Pages, "pages", stressFlags.Pages,
		"Number of data pages.")
	f.IntVar(&stressFlags.SnapshotInterval, "snapshot-interval",
		stressFlags.SnapshotInterval, "Operations between snapshots.")
	f.Float64Var(&stressFlags.RollbackProb, "rollback-prob",
		stressFlags.RollbackProb, "Probability of a rollback after each operation.")
	f.IntVar(&stressFlags.FossilInterval, "fossil-interval",
		stressFlags.FossilInterval, "Operations between fossil collections.")
	f.IntVar(&stressFlags.FossilWindow, "fossil-window",
		stressFlags.FossilWindow, "Distance between the clock and the GVT.")
	f.StringVar(&stressFlags.TraceDB, "trace-db",
		envString("TWMMU_TRACE_DB", ""),
		"Record memory accesses into this SQLite database.")
	f.BoolVar(&stressFlags.TraceLog, "trace-log", false,
		"Print the accesses to the first data page.")
	f.BoolVar(&stressFlags.Verbose, "verbose", false, "Print MMU events.")
	f.BoolVar(&stressFlags.UARTEcho, "uart-echo", false,
		"Print the bytes written to the UART.")
	f.StringVar(&stressFlags.TriggerScript, "trigger-script", "",
		"Lua source of a store trigger condition. It must define "+
			"match(op, addr, data).")
}

func printReport(out io.Writer, r stressReport) {
	fmt.Fprintf(out, "\nLoads: %d\n", r.Loads)
	fmt.Fprintf(out, "Stores: %d\n", r.Stores)
	fmt.Fprintf(out, "AMOs: %d\n", r.AMOs)
	fmt.Fprintf(out, "Fetches: %d\n", r.Fetches)
	fmt.Fprintf(out, "UART writes: %d\n", r.UARTWrites)
	fmt.Fprintf(out, "TLB page flushes: %d\n", r.Fences)
	fmt.Fprintf(out, "Misaligned loads: %d\n", r.Misaligned)
	fmt.Fprintf(out, "Snapshots: %d\n", r.Snapshots)
	fmt.Fprintf(out, "Rollbacks: %d\n", r.Rollbacks)
	fmt.Fprintf(out, "Fossil collections: %d\n", r.Fossils)
	fmt.Fprintf(out, "Deferred trigger matches: %d\n", r.Deferred)
	fmt.Fprintf(out, "TLB hits: %d, misses: %d\n",
		r.Stats.TLBHits, r.Stats.TLBMisses)
	fmt.Fprintf(out, "ICache hits: %d, misses: %d\n",
		r.Stats.ICacheHits, r.Stats.ICacheMisses)
	fmt.Fprintf(out, "MMIO accesses: %d\n", r.Stats.MMIOAccesses)
	fmt.Fprintf(out, "Faults: %d\n", r.Stats.Faults)
}

func printHostMemory(out io.Writer) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return
	}

	fmt.Fprintf(out, "Host RSS: %d KB\n", memInfo.RSS/1024)
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}

	return def
}

func envInt64(name string, def int64) int64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ignoring %s=%q: %v\n", name, v, err)
		return def
	}

	return n
}
