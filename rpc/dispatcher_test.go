package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"gensim/addr"
	"gensim/codec"
	"gensim/engine"
	"gensim/runtime/native"
	"gensim/rpcerr"
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

func newTestDispatcher() (*Dispatcher, []byte) {
	loader := native.NewLoader()
	code := loader.Register(counterProgram())
	store := statestore.New()
	eng := engine.New(engine.Config{Store: store, ChainID: 61999, NativeLoader: loader})
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	d := &Dispatcher{Eng: eng, Store: store, ChainID: 61999, DefaultValidators: 1, MaxRotations: 1, Logger: logger}
	return d, code
}

// rawParams encodes v as a positional params array, except that a single
// map argument is sent as a by-name params object.
func rawParams(t *testing.T, v ...any) json.RawMessage {
	t.Helper()
	var payload any = v
	if len(v) == 1 {
		if obj, ok := v[0].(map[string]any); ok {
			payload = obj
		}
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return b
}

func TestDispatchPing(t *testing.T) {
	d, _ := newTestDispatcher()
	result, rerr := d.Dispatch(context.Background(), "ping", nil)
	require.Nil(t, rerr)
	require.Equal(t, "pong", result)
}

func TestDispatchUnknownMethod(t *testing.T) {
	d, _ := newTestDispatcher()
	_, rerr := d.Dispatch(context.Background(), "sim_doesNotExist", nil)
	require.NotNil(t, rerr)
	require.Equal(t, rpcerr.CodeMethodNotFound, rpcerr.CodeOf(rerr))
}

func TestDispatchDeployCallReadRoundTrip(t *testing.T) {
	d, code := newTestDispatcher()
	sender := addr.MustParse("0x1111111111111111111111111111111111111111")

	deployParams := rawParams(t, map[string]any{"code": "0x" + hex.EncodeToString(code), "sender": sender.Hex()})
	result, rerr := d.Dispatch(context.Background(), "sim_deploy", deployParams)
	require.Nil(t, rerr)
	deployed := result.(map[string]any)
	require.Equal(t, string(statestore.StatusFinalized), deployed["status"])
	contractAddr := deployed["address"].(string)

	callParams := rawParams(t, map[string]any{"address": contractAddr, "method": "increment", "sender": sender.Hex()})
	_, rerr = d.Dispatch(context.Background(), "sim_call", callParams)
	require.Nil(t, rerr)

	readParams := rawParams(t, map[string]any{"address": contractAddr, "method": "get", "sender": sender.Hex()})
	result, rerr = d.Dispatch(context.Background(), "sim_read", readParams)
	require.Nil(t, rerr)
	read := result.(map[string]any)
	require.Equal(t, int64(1), read["result"])
}

func TestDispatchSimReadUnknownContract(t *testing.T) {
	d, _ := newTestDispatcher()
	absent := addr.MustParse("0x2222222222222222222222222222222222222222")
	params := rawParams(t, map[string]any{"address": absent.Hex(), "method": "get"})
	_, rerr := d.Dispatch(context.Background(), "sim_read", params)
	require.NotNil(t, rerr)
	require.Equal(t, rpcerr.CodeAppError, rpcerr.CodeOf(rerr))
}

func TestDispatchFundAndGetBalance(t *testing.T) {
	d, _ := newTestDispatcher()
	a := addr.MustParse("0x3333333333333333333333333333333333333333")
	_, rerr := d.Dispatch(context.Background(), "sim_fundAccount", rawParams(t, map[string]any{"address": a.Hex(), "amount": float64(500)}))
	require.Nil(t, rerr)

	result, rerr := d.Dispatch(context.Background(), "eth_getBalance", rawParams(t, map[string]any{"address": a.Hex()}))
	require.Nil(t, rerr)
	require.Equal(t, "0x1f4", result)
}

func TestDispatchGenCallRoundTrip(t *testing.T) {
	d, code := newTestDispatcher()
	sender := addr.MustParse("0x1111111111111111111111111111111111111111")

	deployParams := rawParams(t, map[string]any{"code": "0x" + hex.EncodeToString(code), "sender": sender.Hex()})
	result, rerr := d.Dispatch(context.Background(), "sim_deploy", deployParams)
	require.Nil(t, rerr)
	contractAddr := result.(map[string]any)["address"].(string)

	method := "get"
	calldata := codec.EncodeMethodCall(&method, nil, nil)
	data, err := codec.EncodeGenCallData(calldata, false)
	require.NoError(t, err)

	genCallParams, err := json.Marshal([]any{map[string]any{
		"type": "read",
		"to":   contractAddr,
		"from": sender.Hex(),
		"data": "0x" + hex.EncodeToString(data),
	}})
	require.NoError(t, err)
	result, rerr = d.Dispatch(context.Background(), "gen_call", genCallParams)
	require.Nil(t, rerr)
	resultHex := result.(string)
	require.False(t, strings.HasPrefix(resultHex, "0x"))

	resultBytes, err := hex.DecodeString(resultHex)
	require.NoError(t, err)
	ok, value, _, err := codec.DecodeResult(resultBytes)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), value)
}

func TestDispatchEthGetTransactionByHashBySequentialID(t *testing.T) {
	d, code := newTestDispatcher()
	sender := addr.MustParse("0x5555555555555555555555555555555555555555")

	deployParams := rawParams(t, map[string]any{"code": "0x" + hex.EncodeToString(code), "sender": sender.Hex()})
	result, rerr := d.Dispatch(context.Background(), "sim_deploy", deployParams)
	require.Nil(t, rerr)
	deployed := result.(map[string]any)
	internalHash := deployed["tx_hash"].(string)
	rawHash, err := hex.DecodeString(strings.TrimPrefix(internalHash, "0x"))
	require.NoError(t, err)
	tx, ok := d.Store.TxByInternalHash([32]byte(rawHash))
	require.True(t, ok)

	seqIDHex := "0x" + hex.EncodeToString(pad32(uint64ToBytes(tx.SeqID))[:])
	result, rerr = d.Dispatch(context.Background(), "eth_getTransactionByHash", rawParams(t, seqIDHex))
	require.Nil(t, rerr)
	projected := result.(map[string]any)
	require.Equal(t, string(statestore.StatusFinalized), projected["status"])
}

func TestDispatchSnapshotRestore(t *testing.T) {
	d, _ := newTestDispatcher()
	a := addr.MustParse("0x4444444444444444444444444444444444444444")
	d.Store.Fund(a, 10)

	result, rerr := d.Dispatch(context.Background(), "sim_createSnapshot", nil)
	require.Nil(t, rerr)
	snapID := result.(map[string]any)["snapshot_id"]

	d.Store.Fund(a, 90)
	require.Equal(t, uint64(100), d.Store.Balance(a))

	_, rerr = d.Dispatch(context.Background(), "sim_restoreSnapshot", rawParams(t, map[string]any{"snapshot_id": snapID}))
	require.Nil(t, rerr)
	require.Equal(t, uint64(10), d.Store.Balance(a))
}
