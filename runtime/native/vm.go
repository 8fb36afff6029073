// Package native is the in-process implementation of the contract runtime
// side of the Host Interface (spec §6.4, §9 "Dynamic method dispatch →
// explicit schema"). It plays the role the teacher's LightVM/SuperLightVM
// play in virtual_machine.go: a small interpreter executing over a value
// stack, consuming gas-free opcodes instead of byte-addressed bytecode
// since contract programs here carry typed calldata values rather than raw
// words. Programs are assembled in Go (via the builder in program.go) the
// way a contract compiler would emit them; this package never parses a
// textual contract language — that decoder is explicitly out of scope
// (spec §1).
package native

import (
	"fmt"

	"gensim/runtime"
)

// execCtx is the per-call interpreter state: a value stack, the contract's
// positional/named arguments, and the Host the current call is bound to.
type execCtx struct {
	host   runtime.Host
	args   []any
	kwargs map[string]any
	stack  []any
	result any
}

func (c *execCtx) push(v any) { c.stack = append(c.stack, v) }

func (c *execCtx) pop() (any, error) {
	if len(c.stack) == 0 {
		return nil, fmt.Errorf("native: stack underflow")
	}
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return v, nil
}

func (c *execCtx) popN(n int) ([]any, error) {
	out := make([]any, n)
	for i := n - 1; i >= 0; i-- {
		v, err := c.pop()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Instr is one interpreter step. exec returns the next program counter (-1
// meaning "fall through to pc+1"), whether execution halted with a result,
// and any error (which aborts the call — spec §7 ContractException).
type Instr interface {
	exec(pc int, c *execCtx) (next int, halted bool, err error)
}

// run executes body starting at pc 0 until a Return instruction halts it or
// the body falls off the end (implicit nil return).
func run(host runtime.Host, args []any, kwargs map[string]any, body []Instr) (any, error) {
	c := &execCtx{host: host, args: args, kwargs: kwargs}
	pc := 0
	for pc < len(body) {
		next, halted, err := body[pc].exec(pc, c)
		if err != nil {
			return nil, err
		}
		if halted {
			return c.result, nil
		}
		if next < 0 {
			pc++
		} else {
			pc = next
		}
	}
	return nil, nil
}
