package native

import (
	"crypto/sha256"
	"fmt"
	"reflect"

	"gensim/addr"
	"gensim/codec"
	"gensim/runtime"
	"gensim/storage"
)

// namedSlot derives a stable SlotID for a named storage variable: contracts
// built with this package address storage by name rather than by raw
// SlotID, the way a higher-level language would compile field names to
// slots. The derivation itself is unrelated to the parent/offset indirect
// scheme of storage.DeriveIndirectSlot (spec §3) — that one is for runtimes
// that need child slots of a given parent; this one is native's own
// variable→slot convention.
func namedSlot(name string) storage.SlotID {
	return storage.SlotID(sha256.Sum256([]byte("native:var:" + name)))
}

// --- stack / literal ops ---

type pushConst struct{ v any }

func (o pushConst) exec(pc int, c *execCtx) (int, bool, error) {
	c.push(o.v)
	return -1, false, nil
}

// PushConst pushes a compile-time literal value.
func PushConst(v any) Instr { return pushConst{v} }

type loadArg struct{ index int }

func (o loadArg) exec(pc int, c *execCtx) (int, bool, error) {
	if o.index >= len(c.args) {
		c.push(nil)
		return -1, false, nil
	}
	c.push(c.args[o.index])
	return -1, false, nil
}

// LoadArg pushes positional argument index (nil if absent).
func LoadArg(index int) Instr { return loadArg{index} }

type loadKwarg struct{ name string }

func (o loadKwarg) exec(pc int, c *execCtx) (int, bool, error) {
	c.push(c.kwargs[o.name])
	return -1, false, nil
}

// LoadKwarg pushes named argument name (nil if absent).
func LoadKwarg(name string) Instr { return loadKwarg{name} }

type pop struct{}

func (pop) exec(pc int, c *execCtx) (int, bool, error) {
	_, err := c.pop()
	return -1, false, err
}

// Pop discards the top of stack.
func Pop() Instr { return pop{} }

type dup struct{}

func (dup) exec(pc int, c *execCtx) (int, bool, error) {
	v, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	c.push(v)
	c.push(v)
	return -1, false, nil
}

// Dup duplicates the top of stack.
func Dup() Instr { return dup{} }

// --- storage ops ---

type storeVar struct{ name string }

func (o storeVar) exec(pc int, c *execCtx) (int, bool, error) {
	v, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	enc := codec.EncodeValue(v)
	slot := namedSlot(o.name)
	var lenBuf [4]byte
	lenBuf[0] = byte(len(enc))
	lenBuf[1] = byte(len(enc) >> 8)
	lenBuf[2] = byte(len(enc) >> 16)
	lenBuf[3] = byte(len(enc) >> 24)
	c.host.StorageWrite(slot, 0, lenBuf[:])
	c.host.StorageWrite(slot, 4, enc)
	return -1, false, nil
}

// StoreVar pops the top of stack and persists it under name in the current
// contract's storage partition.
func StoreVar(name string) Instr { return storeVar{name} }

type loadVar struct{ name string }

func (o loadVar) exec(pc int, c *execCtx) (int, bool, error) {
	slot := namedSlot(o.name)
	lenBuf := c.host.StorageRead(slot, 0, 4)
	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	if n == 0 {
		c.push(nil)
		return -1, false, nil
	}
	enc := c.host.StorageRead(slot, 4, uint32(n))
	v, _, err := codec.DecodeValue(enc)
	if err != nil {
		return 0, false, fmt.Errorf("native: decode stored var %q: %w", o.name, err)
	}
	c.push(v)
	return -1, false, nil
}

// LoadVar pushes the value previously stored under name (nil if unset).
func LoadVar(name string) Instr { return loadVar{name} }

// --- arithmetic / comparison ---

type addOp struct{}

func (addOp) exec(pc int, c *execCtx) (int, bool, error) {
	vals, err := c.popN(2)
	if err != nil {
		return 0, false, err
	}
	a, err := asInt64(vals[0])
	if err != nil {
		return 0, false, err
	}
	b, err := asInt64(vals[1])
	if err != nil {
		return 0, false, err
	}
	c.push(a + b)
	return -1, false, nil
}

// Add pops two numeric values and pushes their sum.
func Add() Instr { return addOp{} }

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("native: expected int, got %T", v)
	}
}

type concatOp struct{}

func (concatOp) exec(pc int, c *execCtx) (int, bool, error) {
	vals, err := c.popN(2)
	if err != nil {
		return 0, false, err
	}
	a, _ := vals[0].(string)
	b, _ := vals[1].(string)
	c.push(a + b)
	return -1, false, nil
}

// Concat pops two strings and pushes their concatenation.
func Concat() Instr { return concatOp{} }

type eqOp struct{}

func (eqOp) exec(pc int, c *execCtx) (int, bool, error) {
	vals, err := c.popN(2)
	if err != nil {
		return 0, false, err
	}
	c.push(reflect.DeepEqual(vals[0], vals[1]))
	return -1, false, nil
}

// Eq pops two values and pushes whether they're equal.
func Eq() Instr { return eqOp{} }

// --- control flow ---

type jump struct{ target int }

func (o jump) exec(pc int, c *execCtx) (int, bool, error) { return o.target, false, nil }

// Jump unconditionally transfers control to target.
func Jump(target int) Instr { return jump{target} }

type jumpIfFalse struct{ target int }

func (o jumpIfFalse) exec(pc int, c *execCtx) (int, bool, error) {
	v, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	b, _ := v.(bool)
	if !b {
		return o.target, false, nil
	}
	return -1, false, nil
}

// JumpIfFalse pops a bool and, if false, jumps to target.
func JumpIfFalse(target int) Instr { return jumpIfFalse{target} }

type ret struct{}

func (ret) exec(pc int, c *execCtx) (int, bool, error) {
	v, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	c.result = v
	return 0, true, nil
}

// Return pops the top of stack as the method's return value and halts.
func Return() Instr { return ret{} }

type haltNil struct{}

func (haltNil) exec(pc int, c *execCtx) (int, bool, error) {
	c.result = nil
	return 0, true, nil
}

// Halt stops execution with a nil return value.
func Halt() Instr { return haltNil{} }

// --- nondeterministic / cross-contract ops ---

type deployContract struct {
	code   []byte
	nargs  int
}

func (o deployContract) exec(pc int, c *execCtx) (int, bool, error) {
	ctorArgs, err := c.popN(o.nargs)
	if err != nil {
		return 0, false, err
	}
	resp, err := c.host.Nondet(runtime.NondetRequest{
		Kind:     runtime.NondetDeployContract,
		Code:     o.code,
		CtorArgs: codec.EncodeMethodCall(nil, ctorArgs, nil),
	})
	if err != nil {
		return 0, false, err
	}
	c.push(resp.DeployedAddress)
	return -1, false, nil
}

// DeployContract pops nargs constructor arguments (bottom-to-top order) and
// deploys code, pushing the new contract's address.
func DeployContract(code []byte, nargs int) Instr { return deployContract{code, nargs} }

type callContract struct {
	method string
	nargs  int
}

func (o callContract) exec(pc int, c *execCtx) (int, bool, error) {
	args, err := c.popN(o.nargs)
	if err != nil {
		return 0, false, err
	}
	target, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	targetAddr, ok := target.(addr.Address)
	if !ok {
		return 0, false, fmt.Errorf("native: CallContract target is not an address")
	}
	method := o.method
	resp, err := c.host.Nondet(runtime.NondetRequest{
		Kind:    runtime.NondetCallContract,
		Address: targetAddr,
		Call:    codec.EncodeMethodCall(&method, args, nil),
	})
	if err != nil {
		return 0, false, err
	}
	ok2, value, _, derr := codec.DecodeResult(resp.ResultBytes)
	if derr != nil {
		return 0, false, derr
	}
	c.push(value)
	c.push(ok2)
	return -1, false, nil
}

// CallContract pops a target address and nargs arguments, invokes method on
// it, and pushes (value, ok) — ok is false if the callee rolled back (spec
// §7 CrossContractError: not propagated, the caller inspects it).
func CallContract(method string, nargs int) Instr { return callContract{method, nargs} }

type postMessage struct {
	method string
	nargs  int
}

func (o postMessage) exec(pc int, c *execCtx) (int, bool, error) {
	args, err := c.popN(o.nargs)
	if err != nil {
		return 0, false, err
	}
	target, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	targetAddr, ok := target.(addr.Address)
	if !ok {
		return 0, false, fmt.Errorf("native: PostMessage target is not an address")
	}
	kwargs := make(map[string]any, len(args))
	_, err = c.host.Nondet(runtime.NondetRequest{
		Kind:    runtime.NondetPostMessage,
		Address: targetAddr,
		Method:  o.method,
		Args:    args,
		Kwargs:  kwargs,
	})
	return -1, false, err
}

// PostMessage pops a target address and nargs arguments, enqueuing a
// fire-and-forget call (spec §3 PostMessageQueue).
func PostMessage(method string, nargs int) Instr { return postMessage{method, nargs} }

type webRequest struct{ nargs int }

func (o webRequest) exec(pc int, c *execCtx) (int, bool, error) {
	vals, err := c.popN(1)
	if err != nil {
		return 0, false, err
	}
	url, _ := vals[0].(string)
	resp, err := c.host.Nondet(runtime.NondetRequest{
		Kind:      runtime.NondetWebRequest,
		WebURL:    url,
		WebMethod: "GET",
	})
	if err != nil {
		return 0, false, err
	}
	m := codec.NewMap()
	m.Set("status", int64(resp.WebStatus))
	m.Set("body", resp.WebBody)
	c.push(m)
	return -1, false, nil
}

// WebRequest pops a URL and issues a GET through LiveIO's web handler,
// pushing a {status, body} map.
func WebRequest() Instr { return webRequest{} }

type execPrompt struct{}

func (execPrompt) exec(pc int, c *execCtx) (int, bool, error) {
	v, err := c.pop()
	if err != nil {
		return 0, false, err
	}
	prompt, _ := v.(string)
	resp, err := c.host.Nondet(runtime.NondetRequest{Kind: runtime.NondetExecPrompt, Prompt: prompt})
	if err != nil {
		return 0, false, err
	}
	c.push(resp.Text)
	return -1, false, nil
}

// ExecPrompt pops a prompt string and pushes the language-model handler's
// text response.
func ExecPrompt() Instr { return execPrompt{} }

type trace struct{ message string }

func (o trace) exec(pc int, c *execCtx) (int, bool, error) {
	_, err := c.host.Nondet(runtime.NondetRequest{Kind: runtime.NondetTrace, Message: o.message})
	return -1, false, err
}

// Trace emits a diagnostic message through the host (spec §6.4 Trace).
func Trace(message string) Instr { return trace{message} }
