// Package statestore holds the world-state container: accounts, nonces,
// deployed-contract records, the transaction map with its three indexes, the
// block counter, and the deterministic hash generators the rest of the
// simulator depends on. It is grounded in the teacher's
// account_and_balance_operations.go (AccountManager) and contracts.go
// (ContractRegistry), generalized from "coin ledger" semantics to the
// spec's account/contract/transaction bookkeeping.
package statestore

import (
	"fmt"
	"time"

	"gensim/addr"
)

// TxStatus is the lifecycle state of a submitted transaction (spec §3).
type TxStatus string

const (
	StatusPending      TxStatus = "PENDING"
	StatusAccepted     TxStatus = "ACCEPTED"
	StatusFinalized    TxStatus = "FINALIZED"
	StatusUndetermined TxStatus = "UNDETERMINED"
	StatusFailed       TxStatus = "FAILED"
)

// TxType distinguishes a contract deployment from a method call.
type TxType string

const (
	TxDeploy TxType = "deploy"
	TxCall   TxType = "call"
)

// Account is an address-keyed balance/nonce pair, created lazily.
type Account struct {
	Address addr.Address
	Balance uint64
	Nonce   uint64
}

// Contract is a deployed contract's bookkeeping record. Instance and Schema
// are opaque to the state store — they're whatever the engine's runtime
// produced.
type Contract struct {
	Address  addr.Address
	Source   string // source locator (file path, or content-hash scratch path)
	Instance any
	Schema   any
}

// Transaction is the full record of a submission, per spec §3. Hash fields
// are [32]byte; a zero value means "not yet assigned".
type Transaction struct {
	InternalHash [32]byte
	ExternalHash [32]byte
	SeqID        uint64

	Sender    addr.Address
	Recipient *addr.Address // nil for deploy
	Type      TxType
	Status    TxStatus

	Input  []byte
	Result []byte

	NumValidators uint64
	Votes         map[addr.Address]string // "agree" | "disagree"
	Rotation      int

	BlockNumber uint64
	Error       string

	Triggered []TriggeredOp

	CreatedAt time.Time
}

// TriggeredOp records a cross-contract deploy or post-message emitted during
// the handling of a transaction (spec §3 "triggered-transaction list").
type TriggeredOp struct {
	Type    string // "deploy" | "post"
	Address addr.Address
	Method  string
}

// errNotFound is returned by lookups that find nothing; callers generally
// treat a (nil, false)/(zero, false) pair rather than propagating this, but
// it's handy for %w wrapping at call sites that do want to surface it.
var errNotFound = fmt.Errorf("statestore: not found")
