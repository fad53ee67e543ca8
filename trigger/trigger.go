// Package trigger implements the hardware triggers of a hart. Triggers are
// breakpoints and watchpoints that are evaluated against the address or the
// data of a memory access.
package trigger

import "fmt"

// Operation is the kind of access a trigger is evaluated against.
type Operation int

// Operations.
const (
	Execute Operation = iota
	Load
	Store
)

func (o Operation) String() string {
	switch o {
	case Execute:
		return "execute"
	case Load:
		return "load"
	case Store:
		return "store"
	default:
		return "unknown"
	}
}

// Timing tells when a matching trigger fires.
type Timing int

// Timings.
const (
	// Before triggers fire before the access completes.
	Before Timing = iota
	// After triggers fire once the accessed value is known.
	After
)

// Select picks the value a trigger compares.
type Select int

// Selects.
const (
	Address Select = iota
	Data
)

// MatchMode is the comparison a trigger performs.
type MatchMode int

// Match modes.
const (
	MatchEqual MatchMode = iota
	// MatchNAPOT matches a naturally aligned power-of-two range. A value with n
	// trailing ones covers 2^(n+1) bytes.
	MatchNAPOT
	MatchGreaterEqual
	MatchLess
)

// A Condition is an extra predicate a trigger must satisfy to match.
type Condition interface {
	Holds(op Operation, addr, data uint64) bool
}

// A Trigger is the configuration of one trigger slot.
type Trigger struct {
	Execute bool
	Load    bool
	Store   bool

	Select Select
	Match  MatchMode
	Value  uint64
	Timing Timing

	// Condition is optional.
	Condition Condition
}

func (t *Trigger) watches(op Operation) bool {
	switch op {
	case Execute:
		return t.Execute
	case Load:
		return t.Load
	case Store:
		return t.Store
	default:
		return false
	}
}

func (t *Trigger) matches(op Operation, addr, data uint64) bool {
	if !t.watches(op) {
		return false
	}

	value := addr
	if t.Select == Data {
		value = data
	}

	if !compare(t.Match, value, t.Value) {
		return false
	}

	return t.Condition == nil || t.Condition.Holds(op, addr, data)
}

func compare(mode MatchMode, value, target uint64) bool {
	switch mode {
	case MatchEqual:
		return value == target
	case MatchNAPOT:
		mask := ^(uint64(1)<<(trailingOnes(target)+1) - 1)
		return value&mask == target&mask
	case MatchGreaterEqual:
		return value >= target
	case MatchLess:
		return value < target
	default:
		panic(fmt.Sprintf("unknown match mode %d", mode))
	}
}

func trailingOnes(v uint64) uint {
	n := uint(0)
	for v&1 == 1 {
		v >>= 1
		n++
	}

	return n
}

// A Match records a trigger that matched an access. A Match is the error an
// access fails with when the trigger fires.
type Match struct {
	Index int
	Op    Operation
	Addr  uint64
	Data  uint64
}

func (m *Match) Error() string {
	return fmt.Sprintf("trigger %d matched %s at 0x%x, data 0x%x",
		m.Index, m.Op, m.Addr, m.Data)
}

// ResultKind tells what the caller must do with a match.
type ResultKind int

// Result kinds.
const (
	NoMatch ResultKind = iota
	// Fault means the access must fail with the match.
	Fault
	// Deferred means the access completes and the match is raised after
	// it.
	Deferred
)

// A Result is the outcome of evaluating the triggers against an access.
type Result struct {
	Kind  ResultKind
	Match *Match
}

// A Module holds the trigger slots of a hart.
type Module struct {
	triggers []Trigger
	enabled  []bool
}

// NewModule creates a module with n empty slots.
func NewModule(n int) *Module {
	return &Module{
		triggers: make([]Trigger, n),
		enabled:  make([]bool, n),
	}
}

// NumTriggers returns the number of slots.
func (m *Module) NumTriggers() int {
	return len(m.triggers)
}

// Set configures the slot at index.
func (m *Module) Set(index int, t Trigger) {
	m.slotMustExist(index)

	m.triggers[index] = t
	m.enabled[index] = true
}

// Clear disables the slot at index.
func (m *Module) Clear(index int) {
	m.slotMustExist(index)

	m.triggers[index] = Trigger{}
	m.enabled[index] = false
}

// Get returns the configuration of the slot at index.
func (m *Module) Get(index int) (Trigger, bool) {
	m.slotMustExist(index)

	return m.triggers[index], m.enabled[index]
}

// Armed tells if any enabled trigger watches the operation.
func (m *Module) Armed(op Operation) bool {
	for i := range m.triggers {
		if m.enabled[i] && m.triggers[i].watches(op) {
			return true
		}
	}

	return false
}

// Match evaluates the triggers against an access. The lowest matching slot
// wins.
func (m *Module) Match(op Operation, addr, data uint64) Result {
	for i := range m.triggers {
		t := &m.triggers[i]
		if !m.enabled[i] || !t.matches(op, addr, data) {
			continue
		}

		match := &Match{Index: i, Op: op, Addr: addr, Data: data}
		if t.Timing == Before {
			return Result{Kind: Fault, Match: match}
		}

		return Result{Kind: Deferred, Match: match}
	}

	return Result{Kind: NoMatch}
}

func (m *Module) slotMustExist(index int) {
	if index < 0 || index >= len(m.triggers) {
		panic(fmt.Sprintf("trigger %d does not exist", index))
	}
}
