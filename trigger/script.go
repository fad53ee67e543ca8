package trigger

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// A ScriptCondition evaluates a Lua predicate. The script must define a
// global function match(op, addr, data) that returns a boolean. The op is
// passed as "execute", "load" or "store"; addr and data are Lua numbers, so
// values above 2^53 lose precision.
type ScriptCondition struct {
	state *lua.LState
	fn    lua.LValue
}

// NewScriptCondition compiles a script.
func NewScriptCondition(src string) (*ScriptCondition, error) {
	L := lua.NewState()

	err := L.DoString(src)
	if err != nil {
		L.Close()
		return nil, err
	}

	fn := L.GetGlobal("match")
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("script does not define function match")
	}

	return &ScriptCondition{state: L, fn: fn}, nil
}

// Holds calls the predicate. A script error counts as false.
func (c *ScriptCondition) Holds(op Operation, addr, data uint64) bool {
	L := c.state

	err := L.CallByParam(
		lua.P{Fn: c.fn, NRet: 1, Protect: true},
		lua.LString(op.String()),
		lua.LNumber(addr),
		lua.LNumber(data),
	)
	if err != nil {
		return false
	}

	ret := L.Get(-1)
	L.Pop(1)

	return lua.LVAsBool(ret)
}

// Close releases the Lua state.
func (c *ScriptCondition) Close() {
	c.state.Close()
}
