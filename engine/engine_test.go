package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gensim/addr"
	"gensim/runtime/native"
	"gensim/statestore"
)

func counterProgram() *native.Program {
	return native.NewProgram("Counter").
		WithCtor(nil, native.PushConst(int64(0)), native.StoreVar("count")).
		WithMethod("increment", false, nil, "int",
			native.LoadVar("count"), native.PushConst(int64(1)), native.Add(), native.Dup(),
			native.StoreVar("count"), native.Return()).
		WithMethod("get", true, nil, "int",
			native.LoadVar("count"), native.Return())
}

func newTestEngine() (*Engine, *native.Loader) {
	loader := native.NewLoader()
	eng := New(Config{Store: statestore.New(), ChainID: 61999, NativeLoader: loader})
	return eng, loader
}

func TestDeployAndCallRoundTrip(t *testing.T) {
	eng, loader := newTestEngine()
	code := loader.Register(counterProgram())
	sender, _ := addr.Parse("0x1111111111111111111111111111111111111111")

	contractAddr, _, err := eng.Deploy("", code, nil, nil, sender)
	require.NoError(t, err)

	result, err := eng.Call(contractAddr, "get", nil, nil, sender)
	require.NoError(t, err)
	require.Equal(t, int64(0), result)

	result, err = eng.Call(contractAddr, "increment", nil, nil, sender)
	require.NoError(t, err)
	require.Equal(t, int64(1), result)

	result, err = eng.Call(contractAddr, "get", nil, nil, sender)
	require.NoError(t, err)
	require.Equal(t, int64(1), result)
}

func TestCallUnknownContractReturnsSentinelError(t *testing.T) {
	eng, _ := newTestEngine()
	sender, _ := addr.Parse("0x2222222222222222222222222222222222222222")
	_, err := eng.Call(sender, "get", nil, nil, sender)
	require.ErrorIs(t, err, ErrUnknownContract)
}

func TestSnapshotRestoreUndoesContractState(t *testing.T) {
	eng, loader := newTestEngine()
	code := loader.Register(counterProgram())
	sender, _ := addr.Parse("0x3333333333333333333333333333333333333333")

	contractAddr, _, err := eng.Deploy("", code, nil, nil, sender)
	require.NoError(t, err)

	snap := eng.Snapshot()

	_, err = eng.Call(contractAddr, "increment", nil, nil, sender)
	require.NoError(t, err)
	result, _ := eng.Call(contractAddr, "get", nil, nil, sender)
	require.Equal(t, int64(1), result)

	require.True(t, eng.Restore(snap))
	result, err = eng.Call(contractAddr, "get", nil, nil, sender)
	require.NoError(t, err)
	require.Equal(t, int64(0), result)
}

func TestResolveClassCachesByContentAndPath(t *testing.T) {
	eng, loader := newTestEngine()
	code := loader.Register(counterProgram())
	sender, _ := addr.Parse("0x4444444444444444444444444444444444444444")

	a1, _, err := eng.Deploy("/contracts/counter.native", code, nil, nil, sender)
	require.NoError(t, err)
	a2, _, err := eng.Deploy("/contracts/counter.native", code, nil, nil, sender)
	require.NoError(t, err)
	require.NotEqual(t, a1, a2, "two deploys still produce distinct contract addresses")

	schema, err := eng.SchemaForCode(code)
	require.NoError(t, err)
	require.Equal(t, "Counter", schema.ClassName)
}

func crossCallerProgram(calleeCode []byte) *native.Program {
	return native.NewProgram("Caller").
		WithCtor(nil).
		WithMethod("bump", false, nil, "int",
			native.LoadArg(0), native.CallContract("increment", 0), native.Pop(), native.Return())
}

func TestCrossContractCallIsNotRecordedAsTriggeredOp(t *testing.T) {
	eng, loader := newTestEngine()
	counterCode := loader.Register(counterProgram())
	callerCode := loader.Register(crossCallerProgram(counterCode))
	sender, _ := addr.Parse("0x5555555555555555555555555555555555555555")

	counterAddr, _, err := eng.Deploy("", counterCode, nil, nil, sender)
	require.NoError(t, err)
	callerAddr, _, err := eng.Deploy("", callerCode, nil, nil, sender)
	require.NoError(t, err)

	bumped, err := eng.Call(callerAddr, "bump", []any{counterAddr}, nil, sender)
	require.NoError(t, err)
	require.Equal(t, int64(1), bumped)

	require.Empty(t, eng.Triggered())

	result, err := eng.Call(counterAddr, "get", nil, nil, sender)
	require.NoError(t, err)
	require.Equal(t, int64(1), result)
}
