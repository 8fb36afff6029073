package statestore

import (
	"crypto/sha256"
	"strconv"
	"sync"
	"time"

	"gensim/addr"
)

// Store is the world-state container described in spec §4.2. All mutation
// is guarded by a single mutex; per spec §5 the caller (engine/consensus) is
// expected to hold a coarser process-wide lock around the whole request, but
// Store remains safe to call directly for the pieces that don't need that
// (balance/nonce reads used outside a submission).
type Store struct {
	mu sync.Mutex

	accounts  map[addr.Address]*Account
	contracts map[addr.Address]*Contract

	txBySeq      map[uint64]*Transaction
	txByInternal map[[32]byte]*Transaction
	txByExternal map[[32]byte]*Transaction

	nextSeqID   uint64
	blockNumber uint64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		accounts:     make(map[addr.Address]*Account),
		contracts:    make(map[addr.Address]*Contract),
		txBySeq:      make(map[uint64]*Transaction),
		txByInternal: make(map[[32]byte]*Transaction),
		txByExternal: make(map[[32]byte]*Transaction),
		nextSeqID:    1,
	}
}

// GetOrCreateAccount returns the account for addr, creating a zero-balance
// entry on first reference (spec §3 "created lazily").
func (s *Store) GetOrCreateAccount(a addr.Address) *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateAccountLocked(a)
}

func (s *Store) getOrCreateAccountLocked(a addr.Address) *Account {
	acc, ok := s.accounts[a]
	if !ok {
		acc = &Account{Address: a}
		s.accounts[a] = acc
	}
	return acc
}

// Fund adds amount to addr's balance. amount must be non-negative; since the
// type is unsigned this is enforced by the compiler, matching spec §4.2.
func (s *Store) Fund(a addr.Address, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.getOrCreateAccountLocked(a)
	acc.Balance += amount
}

// Balance returns addr's current balance (0 if the account doesn't exist).
func (s *Store) Balance(a addr.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[a]; ok {
		return acc.Balance
	}
	return 0
}

// Nonce returns addr's current nonce (0 if the account doesn't exist).
func (s *Store) Nonce(a addr.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[a]; ok {
		return acc.Nonce
	}
	return 0
}

// IncrementNonce bumps addr's nonce (creating the account if needed) and
// returns the new value.
func (s *Store) IncrementNonce(a addr.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.getOrCreateAccountLocked(a)
	acc.Nonce++
	return acc.Nonce
}

// AllocateSequentialID returns the next monotone sequential transaction id,
// starting from 1.
func (s *Store) AllocateSequentialID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSeqID
	s.nextSeqID++
	return id
}

// GenerateInternalHash derives a 32-byte, intentionally non-reproducible
// hash from seed and the current wall-clock time, per spec §4.2.
func GenerateInternalHash(seed []byte) [32]byte {
	h := sha256.New()
	h.Write(seed)
	var ts [8]byte
	now := time.Now().UnixNano()
	for i := 0; i < 8; i++ {
		ts[i] = byte(now >> (8 * uint(i)))
	}
	h.Write(ts[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GenerateContractAddress derives a contract address from its deployer and
// the deployer's nonce at deploy time: the low 20 bytes of
// SHA-256(deployer || ":" || nonce-decimal). This is *not* Ethereum's
// RLP-keccak scheme — it's the definition spec §4.2 mandates for this
// simulator.
func GenerateContractAddress(deployer addr.Address, nonce uint64) addr.Address {
	seed := append([]byte(nil), deployer.Bytes()...)
	seed = append(seed, ':')
	seed = append(seed, []byte(strconv.FormatUint(nonce, 10))...)
	sum := sha256.Sum256(seed)
	return addr.FromBytes(sum[:20])
}

// RegisterContract records a newly deployed contract.
func (s *Store) RegisterContract(c *Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.Address] = c
}

// GetContract looks up a contract record by address.
func (s *Store) GetContract(a addr.Address) (*Contract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[a]
	return c, ok
}

// PutTransaction inserts tx and updates all three indexes atomically (spec
// §4.2 "the three indexes are updated atomically with the primary map").
func (s *Store) PutTransaction(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txBySeq[tx.SeqID] = tx
	s.txByInternal[tx.InternalHash] = tx
	s.txByExternal[tx.ExternalHash] = tx
}

// TxByInternalHash looks up a transaction by its internal hash.
func (s *Store) TxByInternalHash(h [32]byte) (*Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txByInternal[h]
	return tx, ok
}

// TxByExternalHash looks up a transaction by its external (signed-envelope)
// hash.
func (s *Store) TxByExternalHash(h [32]byte) (*Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txByExternal[h]
	return tx, ok
}

// TxBySequentialID looks up a transaction by its sequential identifier.
func (s *Store) TxBySequentialID(id uint64) (*Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txBySeq[id]
	return tx, ok
}

// AdvanceBlock increments and returns the block counter.
func (s *Store) AdvanceBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber++
	return s.blockNumber
}

// BlockNumber returns the current block counter without advancing it.
func (s *Store) BlockNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockNumber
}

// Snapshot is a deep copy of every piece of Store's mutable state, keyed by
// a numeric id assigned by the caller (the engine owns id allocation so that
// its own structures snapshot under the same id — spec §3 "Snapshot").
type Snapshot struct {
	Accounts     map[addr.Address]Account
	Contracts    map[addr.Address]Contract
	TxBySeq      map[uint64]Transaction
	NextSeqID    uint64
	BlockNumber  uint64
}

// Snapshot captures a deep copy of all Store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make(map[addr.Address]Account, len(s.accounts))
	for k, v := range s.accounts {
		accounts[k] = *v
	}
	contracts := make(map[addr.Address]Contract, len(s.contracts))
	for k, v := range s.contracts {
		contracts[k] = *v
	}
	txs := make(map[uint64]Transaction, len(s.txBySeq))
	for k, v := range s.txBySeq {
		cp := *v
		cp.Votes = make(map[addr.Address]string, len(v.Votes))
		for va, vv := range v.Votes {
			cp.Votes[va] = vv
		}
		cp.Triggered = append([]TriggeredOp(nil), v.Triggered...)
		txs[k] = cp
	}

	return Snapshot{
		Accounts:    accounts,
		Contracts:   contracts,
		TxBySeq:     txs,
		NextSeqID:   s.nextSeqID,
		BlockNumber: s.blockNumber,
	}
}

// Restore replaces all Store state with a previously captured Snapshot,
// rebuilding the external/internal hash indexes from the sequential map.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[addr.Address]*Account, len(snap.Accounts))
	for k, v := range snap.Accounts {
		cp := v
		s.accounts[k] = &cp
	}
	s.contracts = make(map[addr.Address]*Contract, len(snap.Contracts))
	for k, v := range snap.Contracts {
		cp := v
		s.contracts[k] = &cp
	}
	s.txBySeq = make(map[uint64]*Transaction, len(snap.TxBySeq))
	s.txByInternal = make(map[[32]byte]*Transaction, len(snap.TxBySeq))
	s.txByExternal = make(map[[32]byte]*Transaction, len(snap.TxBySeq))
	for k, v := range snap.TxBySeq {
		cp := v
		s.txBySeq[k] = &cp
		s.txByInternal[cp.InternalHash] = &cp
		s.txByExternal[cp.ExternalHash] = &cp
	}
	s.nextSeqID = snap.NextSeqID
	s.blockNumber = snap.BlockNumber
}
