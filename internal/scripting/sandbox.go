// Package scripting provides a sandboxed GopherLua execution environment
// for encounter scripts. It has no dependency on game domain packages;
// all game interactions are injected via Manager callback fields.
package scripting

import (
	"context"
	"errors"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// hook call when no zone-specific override is configured.
const DefaultInstructionLimit = 100_000

// ErrInstructionLimit is reported when a call exhausts its opcode budget.
var ErrInstructionLimit = errors.New("scripting: instruction limit exceeded")

// countingContext is a context.Context that cancels itself after Done() has
// been called limit times. GopherLua's mainLoopWithContext calls Done() once
// per opcode, making this an exact instruction-count limit.
type countingContext struct {
	context.Context
	cancel    context.CancelFunc
	remaining *atomic.Int64
}

// Done returns the underlying cancellation channel. Each call decrements the
// remaining counter; when it reaches zero the cancel function fires,
// terminating the Lua VM on the next opcode boundary.
func (c *countingContext) Done() <-chan struct{} {
	if c.remaining.Add(-1) <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

func (c *countingContext) exhausted() bool {
	return c.remaining.Load() <= 0
}

// newCountingContext returns a context that cancels after limit calls to Done().
// Precondition: limit > 0.
func newCountingContext(limit int) *countingContext {
	base, cancel := context.WithCancel(context.Background())
	rem := &atomic.Int64{}
	rem.Store(int64(limit))
	return &countingContext{
		Context:   base,
		cancel:    cancel,
		remaining: rem,
	}
}

// NewSandboxedState creates a GopherLua LState with:
//   - Only safe stdlib loaded: base, table, string, math
//   - Dangerous globals removed: dofile, loadfile, load, collectgarbage, require
//
// The instruction budget is not attached to the state; wrap each call in
// RunLimited so every hook gets a fresh budget.
//
// Postcondition: Returns a non-nil LState ready for RegisterModules and DoFile.
// The caller owns the LState and must call L.Close() when done.
func NewSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// RunLimited runs fn with at most limit opcodes available to L.
//
// A nested RunLimited on the same state (a hook calling back into Go which
// calls another hook) shares the outer budget.
//
// Precondition: limit >= 0; 0 uses DefaultInstructionLimit.
// Postcondition: returns an error wrapping ErrInstructionLimit when the budget
// ran out, otherwise the error of fn.
func RunLimited(L *lua.LState, limit int, fn func() error) error {
	if L.Context() != nil {
		return fn()
	}
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	ctx := newCountingContext(limit)
	L.SetContext(ctx)
	defer func() {
		L.RemoveContext()
		ctx.cancel()
	}()
	err := fn()
	if err != nil && ctx.exhausted() {
		return errors.Join(ErrInstructionLimit, err)
	}
	return err
}
