package mmu

import (
	"log"

	"github.com/sarchlab/twmmu/hooking"
)

// Hook positions of an MMU. The item of a fault or trigger hook is the
// error, and the detail is the AccessCtx. The item of a snapshot,
// rollback or fossil hook is the timestamp.
var (
	HookPosFault       = &hooking.HookPos{Name: "MMU Fault"}
	HookPosTrigger     = &hooking.HookPos{Name: "MMU Trigger"}
	HookPosTLBFlush    = &hooking.HookPos{Name: "MMU TLB Flush"}
	HookPosICacheFlush = &hooking.HookPos{Name: "MMU ICache Flush"}
	HookPosSnapshot    = &hooking.HookPos{Name: "MMU Snapshot"}
	HookPosRollback    = &hooking.HookPos{Name: "MMU Rollback"}
	HookPosFossil      = &hooking.HookPos{Name: "MMU Fossil Collection"}
)

// LogHook prints the events of MMUs.
type LogHook struct {
	hooking.LogHookBase
}

// NewLogHook creates a LogHook that prints to logger.
func NewLogHook(logger *log.Logger) *LogHook {
	h := new(LogHook)
	h.Logger = logger

	return h
}

// Func prints one line for the event.
func (h *LogHook) Func(ctx hooking.HookCtx) {
	name := ""
	if m, ok := ctx.Domain.(*MMU); ok {
		name = m.Name()
	}

	switch ctx.Pos {
	case HookPosFault, HookPosTrigger:
		h.Printf("%s, %s, %v\n", name, ctx.Pos.Name, ctx.Item)
	case HookPosSnapshot, HookPosRollback, HookPosFossil:
		h.Printf("%s, %s, %d\n", name, ctx.Pos.Name, ctx.Item)
	default:
		h.Printf("%s, %s\n", name, ctx.Pos.Name)
	}
}
