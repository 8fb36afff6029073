package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	p := NewPartition()
	var id SlotID
	id[0] = 0xAB

	p.Write(id, 0, []byte("hello"))
	require.Equal(t, []byte("hello"), p.Read(id, 0, 5))
}

func TestReadPastHighWaterMarkZeroExtends(t *testing.T) {
	p := NewPartition()
	var id SlotID
	p.Write(id, 0, []byte("ab"))

	got := p.Read(id, 0, 6)
	require.Equal(t, []byte{'a', 'b', 0, 0, 0, 0}, got)
}

func TestDeriveIndirectSlotIsDeterministic(t *testing.T) {
	var parent SlotID
	parent[1] = 7

	a := DeriveIndirectSlot(parent, 4)
	b := DeriveIndirectSlot(parent, 4)
	c := DeriveIndirectSlot(parent, 5)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestCloneIsIndependent(t *testing.T) {
	p := NewPartition()
	var id SlotID
	p.Write(id, 0, []byte("original"))

	clone := p.Clone()
	p.Write(id, 0, []byte("mutated!"))

	require.Equal(t, []byte("original"), clone.Read(id, 0, 8))
}
