// Package hooking lets observers attach to the events of a component.
package hooking

import "log"

// HookPos names a place where a component invokes its hooks.
type HookPos struct {
	Name string
}

// HookCtx is what a hook receives when it is invoked.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos

	// Item is the main object of the event, such as a fault or a match.
	Item any

	// Detail holds extra information that depends on the position.
	Detail any
}

// Hookable is a component that accepts hooks.
type Hookable interface {
	AcceptHook(hook Hook)
	RemoveHook(hook Hook)
	NumHooks() int
	Hooks() []Hook
}

// A Hook is invoked by a Hookable at its hook positions.
type Hook interface {
	Func(ctx HookCtx)
}

// HookableBase implements Hookable. Components embed it and call InvokeHook.
type HookableBase struct {
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	return h.hookList
}

// AcceptHook registers a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	for _, existing := range h.hookList {
		if existing == hook {
			panic("duplicated hook")
		}
	}

	h.hookList = append(h.hookList, hook)
}

// RemoveHook unregisters a hook. Removing a hook that is not registered
// does nothing.
func (h *HookableBase) RemoveHook(hook Hook) {
	for i, existing := range h.hookList {
		if existing == hook {
			h.hookList = append(h.hookList[:i], h.hookList[i+1:]...)
			return
		}
	}
}

// InvokeHook calls every registered hook in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hookList {
		hook.Func(ctx)
	}
}

// LogHookBase is the base of hooks that print events.
type LogHookBase struct {
	*log.Logger
}
