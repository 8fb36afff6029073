// Package runtime defines the narrow Host Interface the contract runtime
// exports to the Engine (spec §6.4), and the types that cross that
// boundary: message context, non-deterministic request/response pairs, and
// validator witnesses. It is the seam the spec calls out as external to the
// core ("the contract runtime ... is also external; the core invokes it via
// a narrow Host Interface") — this package is the contract both sides
// honor, grounded in the teacher's VM/StateRW split in virtual_machine.go
// (core.VM, core.StateRW) generalized from a bytecode interpreter's needs to
// the simulator's cross-contract/non-determinism needs.
package runtime

import (
	"gensim/addr"
	"gensim/storage"
)

// MessageContext is injected before every top-level call and swapped around
// cross-contract calls (spec §3, §4.3, §6.4).
type MessageContext struct {
	Contract  addr.Address
	Sender    addr.Address
	Origin    addr.Address
	Value     uint64
	ChainID   uint64
	EntryKind string // "deploy" | "call"
}

// Host is the capability surface the Engine offers to a running contract
// instance (spec §6.4). A Class's Instance receives a Host at construction
// and method-invocation time and must not retain it across calls — the
// Engine may swap the backing partition/context between invocations.
type Host interface {
	StorageRead(slot storage.SlotID, offset, length uint32) []byte
	StorageWrite(slot storage.SlotID, offset uint32, data []byte)
	GetBalance(a addr.Address) uint64
	GetSelfBalance() uint64
	Context() MessageContext

	// Nondet dispatches a single non-deterministic request and returns its
	// response (for CallContract, ResultBytes is calldata-encoded). The Engine is the only implementer; it
	// routes DeployContract/CallContract/PostMessage to cross-contract
	// logic and WebRequest/ExecPrompt to LiveIO (spec §4.3, §6.4).
	Nondet(req NondetRequest) (NondetResponse, error)
}

// NondetKind tags the tagged-union request a contract issues through
// Host.Nondet (spec §6.4 enumerates DeployContract | CallContract |
// PostMessage | WebRequest | ExecPrompt | RunNondet | Trace | Rollback |
// Return | Sandbox; this simulator wires the first five plus Trace).
type NondetKind string

const (
	NondetDeployContract NondetKind = "DeployContract"
	NondetCallContract   NondetKind = "CallContract"
	NondetPostMessage    NondetKind = "PostMessage"
	NondetWebRequest     NondetKind = "WebRequest"
	NondetExecPrompt     NondetKind = "ExecPrompt"
	NondetTrace          NondetKind = "Trace"
)

// NondetRequest is the decoded tagged-union payload of a Host.Nondet call.
type NondetRequest struct {
	Kind NondetKind

	// DeployContract
	Code     []byte
	CtorArgs []byte // calldata-encoded constructor call

	// CallContract
	Address addr.Address
	Call    []byte // calldata-encoded method call

	// PostMessage
	Method string
	Args   []any
	Kwargs map[string]any

	// WebRequest
	WebURL     string
	WebMethod  string
	WebHeaders map[string]string
	WebBody    []byte

	// ExecPrompt
	Prompt     string
	PromptCfg  map[string]any

	// Trace
	Message string
}

// NondetResponse is the result handed back across Host.Nondet.
type NondetResponse struct {
	// DeployContract
	DeployedAddress addr.Address

	// CallContract: status-prefixed calldata bytes (spec §4.1).
	ResultBytes []byte

	// WebRequest
	WebStatus  int
	WebHeaders map[string]string
	WebBody    []byte

	// ExecPrompt
	Text   string
	Struct any
}

// Witness is captured once per non-deterministic operation the leader
// performs during a call (spec §3 "ValidatorWitness"). LeaderResult is the
// response the leader observed; Validate re-runs the
// operation (e.g. replays a mocked web/LLM call, or simply compares against
// LeaderResult for operations with no genuine validator-side replay) and
// reports whether this validator agrees.
type Witness struct {
	LeaderResult NondetResponse
	Validate     func(leaderResult NondetResponse) (bool, error)
}

// Class is a loaded, callable contract class: the runtime's in-memory
// representation of one deployed program (spec §4.3 "Caching ... map to the
// same contract-class object").
type Class interface {
	// Construct runs the constructor against a fresh Host/partition and
	// returns the resulting Instance.
	Construct(h Host, args []any, kwargs map[string]any) (Instance, error)
	// Schema describes the class's constructor and externally-visible
	// methods (spec §4.3 "Schema extraction").
	Schema() Schema
}

// Instance is one deployed contract's live state handle.
type Instance interface {
	// Call invokes a named method against h's storage/context.
	Call(h Host, method string, args []any, kwargs map[string]any) (any, error)
}

// Schema is the structure produced by schema extraction (spec §4.3), kept
// in the internal shape; rpc projects it into the SDK-compatible shape
// (SPEC_FULL.md §4 "Dual schema formats").
type Schema struct {
	ClassName string         `json:"class_name"`
	Ctor      MethodSchema   `json:"constructor"`
	Methods   map[string]MethodSchema `json:"methods"`
}

// MethodSchema describes one callable member's parameter/return shape.
type MethodSchema struct {
	Positional []ParamSchema `json:"positional"`
	Named      []ParamSchema `json:"named"`
	Return     string        `json:"return,omitempty"`
	ReadOnly   bool          `json:"readonly,omitempty"`
}

// ParamSchema names one constructor/method parameter and its declared type.
type ParamSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
