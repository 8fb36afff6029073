// Package engine is the persistent host for contract instances: per-contract
// isolated storage, snapshot/restore, cross-contract call orchestration
// (synchronous invoke, asynchronous post-message queue), and the
// non-deterministic side-effect dispatch a contract reaches through the
// Host Interface (spec §4.3). It is grounded in the teacher's
// virtual_machine.go (per-contract code/state maps, VM selection by code
// signature) and contracts.go (ContractRegistry's address→instance
// bookkeeping), generalized from a single coin-ledger VM to the simulator's
// deploy/call/snapshot/cross-contract surface.
package engine

import (
	"crypto/sha256"
	"fmt"

	"github.com/sirupsen/logrus"

	"gensim/addr"
	"gensim/codec"
	"gensim/runtime"
	"gensim/statestore"
	"gensim/storage"
)

// Errors surfaced to the Dispatcher / JSON-RPC layer (spec §7).
var (
	ErrUnknownContract       = fmt.Errorf("engine: unknown contract")
	ErrUnknownMethodOnContract = fmt.Errorf("engine: unknown method on contract")
)

// Loader resolves code bytes to a runtime.Class. runtime/native implements
// it (runtime/wasmhost implements WasmLoader instead); archives resolve
// recursively through whichever loader their extracted entry point needs.
type Loader interface {
	Load(code []byte) (runtime.Class, error)
}

// WasmLoader is the subset of wasmhost.Loader the engine needs; kept as an
// interface here so engine never imports wasmer-go directly (spec §1 keeps
// the contract runtime external to the core).
type WasmLoader interface {
	Load(digest [32]byte, code []byte) (runtime.Class, error)
}

// WebHandler is LiveIO's web side-effect handler (spec §4.6), consumed
// structurally — liveio.WebHandler satisfies this without either package
// importing the other.
type WebHandler interface {
	Do(req runtime.NondetRequest) runtime.NondetResponse
}

// LLMHandler is LiveIO's language-model side-effect handler (spec §4.6).
type LLMHandler interface {
	Exec(req runtime.NondetRequest) runtime.NondetResponse
}

// WebMock is one per-submission web mock entry (spec §6.1 simConfig
// "mock_web_response"), keyed by the caller at the URL-regex that matches
// it.
type WebMock struct {
	Method string
	Status int
	Body   string
}

// SubmissionMocks is the per-submission override table the Dispatcher
// installs before Consensus and clears after (spec §4.5, §6.1). It is
// always consulted ahead of the configured LiveIO handlers.
type SubmissionMocks struct {
	Web map[string]WebMock // URL regex -> mock
	LLM map[string]string  // prompt regex -> response text
}

type postMessage struct {
	Target addr.Address
	Method string
	Args   []any
	Kwargs map[string]any
	Sender addr.Address
}

type snapshotData struct {
	store      statestore.Snapshot
	partitions *storage.Set
	instances  map[addr.Address]runtime.Instance
	classes    map[addr.Address]runtime.Class
	schemas    map[addr.Address]runtime.Schema
}

// Engine is the component described in spec §4.3. Every exported method
// assumes the caller (Consensus, or the Dispatcher for read-only calls)
// holds the process-wide lock spec §5 requires — Engine applies no locking
// of its own, matching the "single big lock around the world" model.
type Engine struct {
	store      *statestore.Store
	partitions *storage.Set

	instances map[addr.Address]runtime.Instance
	classes   map[addr.Address]runtime.Class
	schemas   map[addr.Address]runtime.Schema

	pathCache    map[string]runtime.Class
	contentCache map[[32]byte]runtime.Class
	archiveFS    map[[32]byte]map[string][]byte

	nativeLoader Loader
	wasmLoader   WasmLoader

	webHandler WebHandler
	llmHandler LLMHandler
	mocks      SubmissionMocks

	chainID uint64

	currentPartition *storage.Partition
	currentAddr      addr.Address
	msgCtx           runtime.MessageContext
	callDepth        int
	draining         bool
	postQueue        []postMessage
	witnesses        []runtime.Witness
	triggered        []statestore.TriggeredOp

	snapshots  map[uint64]snapshotData
	nextSnapID uint64

	logger *logrus.Logger
}

// Config bundles Engine's construction-time dependencies.
type Config struct {
	Store        *statestore.Store
	ChainID      uint64
	NativeLoader Loader
	WasmLoader   WasmLoader
	WebHandler   WebHandler
	LLMHandler   LLMHandler
	Logger       *logrus.Logger
}

// New constructs an Engine over an existing StateStore.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		store:        cfg.Store,
		partitions:   storage.NewSet(),
		instances:    make(map[addr.Address]runtime.Instance),
		classes:      make(map[addr.Address]runtime.Class),
		schemas:      make(map[addr.Address]runtime.Schema),
		pathCache:    make(map[string]runtime.Class),
		contentCache: make(map[[32]byte]runtime.Class),
		archiveFS:    make(map[[32]byte]map[string][]byte),
		nativeLoader: cfg.NativeLoader,
		wasmLoader:   cfg.WasmLoader,
		webHandler:   cfg.WebHandler,
		llmHandler:   cfg.LLMHandler,
		chainID:      cfg.ChainID,
		snapshots:    make(map[uint64]snapshotData),
		logger:       logger,
	}
}

// InstallSubmissionMocks installs the per-submission override table
// (spec §4.5 step (iii)).
func (e *Engine) InstallSubmissionMocks(m SubmissionMocks) { e.mocks = m }

// ClearSubmissionMocks removes any installed per-submission overrides
// (spec §4.5 step (vi)) — they are never persisted.
func (e *Engine) ClearSubmissionMocks() { e.mocks = SubmissionMocks{} }

// ClearWitnesses resets the per-attempt ephemeral state Consensus clears at
// the start of every rotation attempt (spec §4.4 "Engine.clear_witnesses()"):
// the witness list, the triggered-ops list, and the post-message queue.
// All three are scoped to a single consensus attempt, so they're reset
// together.
func (e *Engine) ClearWitnesses() {
	e.witnesses = nil
	e.triggered = nil
	e.postQueue = nil
}

// Witnesses returns the witnesses captured so far in the current attempt.
func (e *Engine) Witnesses() []runtime.Witness { return append([]runtime.Witness(nil), e.witnesses...) }

// Triggered returns the cross-contract operations recorded so far in the
// current attempt (spec §3 "triggered-transaction list").
func (e *Engine) Triggered() []statestore.TriggeredOp {
	return append([]statestore.TriggeredOp(nil), e.triggered...)
}

// Deploy constructs a new contract from source code, per spec §4.3.
// source is a locator (file path, or "" for code arriving only as bytes);
// it seeds the resolved-path cache so a later deploy from the same path
// reuses the same class.
func (e *Engine) Deploy(source string, code []byte, positional []any, kwargs map[string]any, sender addr.Address) (addr.Address, runtime.Instance, error) {
	return e.deployInternal(source, code, positional, kwargs, sender, sender)
}

func (e *Engine) deployInternal(source string, code []byte, positional []any, kwargs map[string]any, sender, origin addr.Address) (addr.Address, runtime.Instance, error) {
	nonce := e.store.Nonce(sender)
	contractAddr := statestore.GenerateContractAddress(sender, nonce)
	e.store.IncrementNonce(sender)

	class, err := e.resolveClass(code, source)
	if err != nil {
		return addr.Address{}, nil, err
	}

	part := storage.NewPartition()
	e.partitions.Install(contractAddr, part)

	parentPartition, parentAddr, parentCtx := e.currentPartition, e.currentAddr, e.msgCtx
	e.currentPartition = part
	e.currentAddr = contractAddr
	e.msgCtx = runtime.MessageContext{
		Contract: contractAddr, Sender: sender, Origin: origin,
		ChainID: e.chainID, EntryKind: "deploy",
	}

	inst, err := class.Construct(e.host(), positional, kwargs)

	e.currentPartition, e.currentAddr, e.msgCtx = parentPartition, parentAddr, parentCtx

	if err != nil {
		return addr.Address{}, nil, fmt.Errorf("engine: construct %s: %w", contractAddr, err)
	}

	schema := class.Schema()
	e.instances[contractAddr] = inst
	e.classes[contractAddr] = class
	e.schemas[contractAddr] = schema
	e.store.RegisterContract(&statestore.Contract{Address: contractAddr, Source: source, Instance: inst, Schema: schema})

	e.logger.WithFields(logrus.Fields{"address": contractAddr.Hex(), "sender": sender.Hex()}).Debug("engine: deployed contract")
	return contractAddr, inst, nil
}

// Call invokes method on a deployed contract, per spec §4.3.
func (e *Engine) Call(a addr.Address, method string, positional []any, kwargs map[string]any, sender addr.Address) (any, error) {
	return e.callInternal(a, method, positional, kwargs, sender, sender)
}

func (e *Engine) callInternal(a addr.Address, method string, positional []any, kwargs map[string]any, sender, origin addr.Address) (any, error) {
	inst, ok := e.instances[a]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, a.Hex())
	}
	part := e.partitions.Get(a)

	parentPartition, parentAddr, parentCtx := e.currentPartition, e.currentAddr, e.msgCtx
	e.currentPartition = part
	e.currentAddr = a
	e.msgCtx = runtime.MessageContext{
		Contract: a, Sender: sender, Origin: origin,
		ChainID: e.chainID, EntryKind: "call",
	}

	e.callDepth++
	result, err := inst.Call(e.host(), method, positional, kwargs)
	e.callDepth--

	e.currentPartition, e.currentAddr, e.msgCtx = parentPartition, parentAddr, parentCtx

	if e.callDepth == 0 && !e.draining && len(e.postQueue) > 0 {
		e.drainOne()
	}

	return result, err
}

// drainOne pops the head of the post-message queue, discards the rest, and
// delivers it (spec §3 PostMessageQueue invariant). Errors from the drained
// call are logged, never propagated (spec §4.3).
func (e *Engine) drainOne() {
	head := e.postQueue[0]
	dropped := len(e.postQueue) - 1
	e.postQueue = nil
	if dropped > 0 {
		e.logger.WithField("dropped", dropped).Debug("engine: discarding extra queued post-messages")
	}

	e.draining = true
	_, err := e.Call(head.Target, head.Method, head.Args, head.Kwargs, head.Sender)
	e.draining = false
	if err != nil {
		e.logger.WithError(err).WithField("address", head.Target.Hex()).Trace("engine: post-message delivery failed")
	}
}

// DeployFromCodebytes materializes code (an archive, a single file, or a
// native-loader digest) and delegates to Deploy with the decoded
// constructor calldata (spec §4.3).
func (e *Engine) DeployFromCodebytes(code, calldataBlob []byte, sender addr.Address) (addr.Address, error) {
	mc, err := codec.DecodeMethodCall(calldataBlob)
	if err != nil {
		return addr.Address{}, err
	}
	kwargs := mapToGo(mc.Kwargs)
	a, _, err := e.Deploy("", code, mc.Args, kwargs, sender)
	return a, err
}

// CallFromCalldata decodes a method-call calldata blob and delegates to
// Call, wrapping the result with the success status prefix (spec §4.3).
func (e *Engine) CallFromCalldata(a addr.Address, calldataBlob []byte, sender addr.Address) (any, []byte, error) {
	mc, err := codec.DecodeMethodCall(calldataBlob)
	if err != nil {
		return nil, nil, err
	}
	method := ""
	if mc.Method != nil {
		method = *mc.Method
	}
	kwargs := mapToGo(mc.Kwargs)
	result, err := e.Call(a, method, mc.Args, kwargs, sender)
	if err != nil {
		return nil, nil, err
	}
	return result, codec.EncodeSuccessResult(result), nil
}

// Snapshot captures a deep copy of all engine and state-store state
// (spec §4.3 "snapshot() → id").
func (e *Engine) Snapshot() uint64 {
	e.nextSnapID++
	id := e.nextSnapID
	e.snapshots[id] = snapshotData{
		store:      e.store.Snapshot(),
		partitions: e.partitions.Clone(),
		instances:  cloneInstanceMap(e.instances),
		classes:    cloneClassMap(e.classes),
		schemas:    cloneSchemaMap(e.schemas),
	}
	return id
}

// Restore reverts to a previously captured snapshot, discarding any
// snapshots taken after it (spec §4.3 "removes all higher ids").
func (e *Engine) Restore(id uint64) bool {
	snap, ok := e.snapshots[id]
	if !ok {
		return false
	}
	e.store.Restore(snap.store)
	e.partitions.Restore(snap.partitions)
	e.instances = cloneInstanceMap(snap.instances)
	e.classes = cloneClassMap(snap.classes)
	e.schemas = cloneSchemaMap(snap.schemas)

	for sid := range e.snapshots {
		if sid > id {
			delete(e.snapshots, sid)
		}
	}
	return true
}

// Schema returns the extracted schema for a deployed contract.
func (e *Engine) Schema(a addr.Address) (runtime.Schema, bool) {
	s, ok := e.schemas[a]
	return s, ok
}

// SchemaForCode resolves (or loads) the class for code without deploying
// it, and returns its schema — used by gen_getContractSchemaForCode, which
// the spec explicitly allows to arrive before any deploy of the same bytes
// (spec §4.3 "Caching").
func (e *Engine) SchemaForCode(code []byte) (runtime.Schema, error) {
	class, err := e.resolveClass(code, "")
	if err != nil {
		return runtime.Schema{}, err
	}
	return class.Schema(), nil
}

// resolveClass loads (or reuses a cached load of) the class for code,
// dispatching by signature: zip archive, wasm module, or a native-loader
// digest (spec §4.3 "Archive virtual filesystem", §9 "Class cache").
func (e *Engine) resolveClass(code []byte, source string) (runtime.Class, error) {
	digest := sha256.Sum256(code)
	if c, ok := e.contentCache[digest]; ok {
		if source != "" {
			e.pathCache[source] = c
		}
		return c, nil
	}
	if source != "" {
		if c, ok := e.pathCache[source]; ok {
			e.contentCache[digest] = c
			return c, nil
		}
	}

	class, err := e.load(digest, code)
	if err != nil {
		return nil, err
	}
	e.contentCache[digest] = class
	if source != "" {
		e.pathCache[source] = class
	}
	return class, nil
}

func (e *Engine) load(digest [32]byte, code []byte) (runtime.Class, error) {
	switch {
	case len(code) >= 2 && code[0] == 0x50 && code[1] == 0x4B: // zip archive signature
		return e.loadArchive(digest, code)
	case len(code) >= 4 && code[0] == 0x00 && code[1] == 'a' && code[2] == 's' && code[3] == 'm':
		if e.wasmLoader == nil {
			return nil, fmt.Errorf("engine: no wasm loader configured")
		}
		return e.wasmLoader.Load(digest, code)
	default:
		if e.nativeLoader == nil {
			return nil, fmt.Errorf("engine: no native loader configured")
		}
		return e.nativeLoader.Load(code)
	}
}

func mapToGo(m *codec.Map) map[string]any {
	out := make(map[string]any)
	if m == nil {
		return out
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out[k] = v
	}
	return out
}

func cloneInstanceMap(m map[addr.Address]runtime.Instance) map[addr.Address]runtime.Instance {
	out := make(map[addr.Address]runtime.Instance, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneClassMap(m map[addr.Address]runtime.Class) map[addr.Address]runtime.Class {
	out := make(map[addr.Address]runtime.Class, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSchemaMap(m map[addr.Address]runtime.Schema) map[addr.Address]runtime.Schema {
	out := make(map[addr.Address]runtime.Schema, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
