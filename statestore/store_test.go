package statestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gensim/addr"
)

func TestAccountLifecycle(t *testing.T) {
	s := New()
	a, err := addr.Parse("0x1122334455667788990011223344556677889900")
	require.NoError(t, err)

	require.Equal(t, uint64(0), s.Balance(a))
	s.Fund(a, 100)
	require.Equal(t, uint64(100), s.Balance(a))

	require.Equal(t, uint64(0), s.Nonce(a))
	require.Equal(t, uint64(1), s.IncrementNonce(a))
	require.Equal(t, uint64(1), s.Nonce(a))
}

func TestSequentialIDsAreDenseAndIncreasing(t *testing.T) {
	s := New()
	first := s.AllocateSequentialID()
	second := s.AllocateSequentialID()
	require.Equal(t, uint64(1), first)
	require.Equal(t, second, first+1)
}

func TestTransactionTripleIndexConsistency(t *testing.T) {
	s := New()
	tx := &Transaction{
		SeqID:        s.AllocateSequentialID(),
		InternalHash: [32]byte{1, 2, 3},
		ExternalHash: [32]byte{4, 5, 6},
		Status:       StatusPending,
	}
	s.PutTransaction(tx)

	byInternal, ok := s.TxByInternalHash(tx.InternalHash)
	require.True(t, ok)
	byExternal, ok := s.TxByExternalHash(tx.ExternalHash)
	require.True(t, ok)
	bySeq, ok := s.TxBySequentialID(tx.SeqID)
	require.True(t, ok)

	require.Same(t, byInternal, byExternal)
	require.Same(t, byInternal, bySeq)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	a, _ := addr.Parse("0x1111111111111111111111111111111111111111")
	s.Fund(a, 50)
	snap := s.Snapshot()

	s.Fund(a, 999)
	s.AdvanceBlock()
	require.Equal(t, uint64(1049), s.Balance(a))

	s.Restore(snap)
	require.Equal(t, uint64(50), s.Balance(a))
	require.Equal(t, uint64(0), s.BlockNumber())
}

func TestGenerateContractAddressIsDeterministic(t *testing.T) {
	deployer, _ := addr.Parse("0x2222222222222222222222222222222222222222")
	a1 := GenerateContractAddress(deployer, 0)
	a2 := GenerateContractAddress(deployer, 0)
	a3 := GenerateContractAddress(deployer, 1)
	require.Equal(t, a1, a2)
	require.NotEqual(t, a1, a3)
}
