// Package wasmhost is the sandboxed Host Interface implementation for
// contract code shipped as a WebAssembly module (spec §6.4's "runtime" side
// of the boundary, for the case where `code` begins with the wasm magic
// number rather than being a native.Program digest). It mirrors the
// teacher's HeavyVM in virtual_machine.go: one wasmer-go engine per Loader
// and one store per loaded class, host functions registered under the "env" namespace, and a
// linear-memory read/write helper pair, generalized from the teacher's
// gas/log/storage opcodes to this simulator's storage_read/storage_write/
// get_balance/nondet_call Host Interface (spec §6.4).
package wasmhost

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"gensim/runtime"
	"gensim/storage"
)

// Loader instantiates wasm contract modules. One Loader is shared process-
// wide; wasmer.Module compilation is cached by content hash the same way
// the engine's native class cache works, since recompiling a module per
// call would be wasteful (spec §4.3 "Caching").
type Loader struct {
	engine  *wasmer.Engine
	modules map[[32]byte]*wasmer.Module
}

// NewLoader returns a Loader backed by a fresh Wasmer engine.
func NewLoader() *Loader {
	return &Loader{engine: wasmer.NewEngine(), modules: make(map[[32]byte]*wasmer.Module)}
}

// Load compiles (or reuses a cached compilation of) the wasm module in code
// and returns a Class bound to it.
func (l *Loader) Load(digest [32]byte, code []byte) (runtime.Class, error) {
	store := wasmer.NewStore(l.engine)
	mod, ok := l.modules[digest]
	if !ok {
		var err error
		mod, err = wasmer.NewModule(store, code)
		if err != nil {
			return nil, fmt.Errorf("wasmhost: compile module: %w", err)
		}
		l.modules[digest] = mod
	}
	return &class{store: store, module: mod}, nil
}

type class struct {
	store  *wasmer.Store
	module *wasmer.Module
}

// Schema for a wasm module is always empty: the module's exports are not
// inspected, so no constructor and no methods are listed.
func (c *class) Schema() runtime.Schema {
	return runtime.Schema{Methods: map[string]runtime.MethodSchema{}}
}

func (c *class) Construct(h runtime.Host, args []any, kwargs map[string]any) (runtime.Instance, error) {
	inst, hctx, err := instantiate(c.store, c.module, h)
	if err != nil {
		return nil, err
	}
	if ctor, err := inst.Exports.GetFunction("construct"); err == nil {
		if _, err := ctor(); err != nil {
			return nil, fmt.Errorf("wasmhost: constructor trap: %w", err)
		}
	}
	return &wasmInstance{instance: inst, hctx: hctx}, nil
}

type wasmInstance struct {
	instance *wasmer.Instance
	hctx     *hostCtx
}

// Call invokes a named export. Per spec §9 the runtime — not the Engine —
// performs name-to-export dispatch. args and kwargs are not passed: the
// export is called with no parameters and its raw return value is returned.
func (w *wasmInstance) Call(h runtime.Host, method string, args []any, kwargs map[string]any) (any, error) {
	w.hctx.host = h
	fn, err := w.instance.Exports.GetFunction(method)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: unknown export %q: %w", method, err)
	}
	ret, err := fn()
	if err != nil {
		return nil, fmt.Errorf("wasmhost: %s trap: %w", method, err)
	}
	return ret, nil
}

// hostCtx is the closure state bound into every "env" import function.
type hostCtx struct {
	host runtime.Host
	mem  *wasmer.Memory
}

func instantiate(store *wasmer.Store, module *wasmer.Module, h runtime.Host) (*wasmer.Instance, *hostCtx, error) {
	hctx := &hostCtx{host: h}
	imports := wasmer.NewImportObject()

	i32 := wasmer.NewValueTypes(wasmer.I32)
	i32i32 := wasmer.NewValueTypes(wasmer.I32, wasmer.I32)
	i32x3 := wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32)
	i32x4 := wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32)
	retI32 := wasmer.NewValueTypes(wasmer.I32)
	retI64 := wasmer.NewValueTypes(wasmer.I64)
	noRet := wasmer.NewValueTypes()

	read := func(ptr, ln int32) []byte {
		data := hctx.mem.Data()
		return append([]byte(nil), data[ptr:ptr+ln]...)
	}
	write := func(ptr int32, data []byte) { copy(hctx.mem.Data()[ptr:], data) }

	storageRead := wasmer.NewFunction(store, wasmer.NewFunctionType(i32x4, retI32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			slotPtr, offset, length, dstPtr := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			var slot storage.SlotID
			copy(slot[:], read(slotPtr, 32))
			out := hctx.host.StorageRead(slot, uint32(offset), uint32(length))
			write(dstPtr, out)
			return []wasmer.Value{wasmer.NewI32(int32(len(out)))}, nil
		})

	storageWrite := wasmer.NewFunction(store, wasmer.NewFunctionType(i32x4, noRet),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			slotPtr, offset, dataPtr, dataLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			var slot storage.SlotID
			copy(slot[:], read(slotPtr, 32))
			hctx.host.StorageWrite(slot, uint32(offset), read(dataPtr, dataLen))
			return nil, nil
		})

	getBalance := wasmer.NewFunction(store, wasmer.NewFunctionType(i32, retI64),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr := args[0].I32()
			var a [20]byte
			copy(a[:], read(addrPtr, 20))
			return []wasmer.Value{wasmer.NewI64(int64(hctx.host.GetBalance(a)))}, nil
		})

	getSelfBalance := wasmer.NewFunction(store, wasmer.NewFunctionType(noRet, retI64),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI64(int64(hctx.host.GetSelfBalance()))}, nil
		})

	nondetCall := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, retI32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			reqPtr, reqLen := args[0].I32(), args[1].I32()
			req := read(reqPtr, reqLen)
			kind := runtime.NondetTrace
			if len(req) > 0 {
				kind = runtime.NondetKind(req)
			}
			resp, err := hctx.host.Nondet(runtime.NondetRequest{Kind: kind})
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			write(reqPtr, resp.ResultBytes)
			return []wasmer.Value{wasmer.NewI32(int32(len(resp.ResultBytes)))}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"storage_read":     storageRead,
		"storage_write":    storageWrite,
		"get_balance":      getBalance,
		"get_self_balance": getSelfBalance,
		"nondet_call":      nondetCall,
	})

	inst, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return nil, nil, fmt.Errorf("wasmhost: instantiate: %w", err)
	}
	mem, err := inst.Exports.GetMemory("memory")
	if err != nil {
		return nil, nil, fmt.Errorf("wasmhost: module has no exported memory: %w", err)
	}
	hctx.mem = mem
	return inst, hctx, nil
}
