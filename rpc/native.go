package rpc

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gensim/addr"
	"gensim/codec"
	"gensim/engine"
	"gensim/rpcerr"
	"gensim/statestore"
)

func encodeResultBytes(result any) []byte { return codec.EncodeSuccessResult(result) }

var noMocks = engine.SubmissionMocks{}

// loadCode resolves contract bytes either from a local "code_path" (a
// legitimate local file read, not networking) or an inline "code" hex blob
// — a convenience for tests that want to inject bytes without a fixture
// file on disk.
func loadCode(p Params) ([]byte, string, error) {
	if path, err := p.String(0, "code_path"); err == nil {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("rpc: reading code_path: %w", err)
		}
		return b, path, nil
	}
	if hexCode, err := p.HexBytes(0, "code"); err == nil {
		return hexCode, "", nil
	}
	return nil, "", fmt.Errorf("rpc: missing code_path or code parameter")
}

func argsAndKwargs(p Params) ([]any, map[string]any) {
	var args []any
	if v, ok := p.Any(1, "args"); ok {
		if arr, ok := v.([]any); ok {
			args = normalizeArgs(arr)
		}
	}
	kwargs := map[string]any{}
	if v, ok := p.Any(2, "kwargs"); ok {
		if obj, ok := v.(map[string]any); ok {
			kwargs = normalizeKwargs(obj)
		}
	}
	return args, kwargs
}

// handleSimDeploy is sim_deploy(code_path|code, args?, kwargs?, sender,
// num_validators?, max_rotations?) — a full consensus round that deploys a
// new contract (spec §6.1).
func handleSimDeploy(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	code, source, err := loadCode(p)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	args, kwargs := argsAndKwargs(p)
	sender, err := p.Address(3, "sender")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	numValidators := p.OptUint64(4, "num_validators", d.DefaultValidators)
	maxRotations := p.OptUint64(5, "max_rotations", d.MaxRotations)

	var deployedAddr addr.Address
	execute := func() (any, []byte, error) {
		a, _, err := d.Eng.Deploy(source, code, args, kwargs, sender)
		if err != nil {
			return nil, nil, err
		}
		deployedAddr = a
		return a.Hex(), []byte(a.Hex()), nil
	}

	tx := d.submit(ctx, statestore.TxDeploy, sender, nil, code, statestore.GenerateInternalHash(code), numValidators, maxRotations, noMocks, execute)
	if tx.Recipient == nil && tx.Status == statestore.StatusFinalized {
		tx.Recipient = &deployedAddr
		d.Store.PutTransaction(tx)
	}

	return map[string]any{
		"tx_hash":  hexBytes(tx.InternalHash[:]),
		"address":  deployedAddr.Hex(),
		"status":   string(tx.Status),
		"error":    tx.Error,
		"votes":    tx.Votes,
		"rotation": tx.Rotation,
	}, nil
}

// handleSimCall is sim_call(address, method, args?, kwargs?, sender,
// num_validators?, max_rotations?) — a full consensus round invoking a
// deployed contract's method.
func handleSimCall(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	method, err := p.String(1, "method")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	args, kwargs := argsAndKwargs(p)
	sender, err := p.Address(4, "sender")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	numValidators := p.OptUint64(5, "num_validators", d.DefaultValidators)
	maxRotations := p.OptUint64(6, "max_rotations", d.MaxRotations)

	execute := func() (any, []byte, error) {
		result, err := d.Eng.Call(a, method, args, kwargs, sender)
		if err != nil {
			return nil, nil, err
		}
		return result, encodeResultBytes(result), nil
	}

	recipient := a
	tx := d.submit(ctx, statestore.TxCall, sender, &recipient, []byte(method), statestore.GenerateInternalHash([]byte(method)), numValidators, maxRotations, noMocks, execute)

	return projectReceipt(tx), nil
}

// handleSimRead is sim_read(address, method, args?, kwargs?, sender) — a
// method invocation outside consensus: no transaction record, no block
// advance (spec §6.1 "read-only, no transaction").
func handleSimRead(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	method, err := p.String(1, "method")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	args, kwargs := argsAndKwargs(p)
	sender, err := p.Address(4, "sender")
	if err != nil {
		sender = addr.Zero
	}

	result, err := d.Eng.Call(a, method, args, kwargs, sender)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownContract) {
			return nil, rpcerr.Wrap(rpcerr.ErrUnknownContract, err)
		}
		return nil, rpcerr.Wrap(rpcerr.ErrUnknownMethodOnContract, err)
	}
	return map[string]any{"result": result}, nil
}

func handleSimFundAccount(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	amount, err := p.Uint64(1, "amount")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	d.Store.Fund(a, amount)
	return map[string]any{"address": a.Hex(), "balance": d.Store.Balance(a)}, nil
}

func handleSimGetBalance(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	return hexUint64(d.Store.Balance(a)), nil
}

func handleSimGetTransactionByHash(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	raw, err := p.HexBytes(0, "hash")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	var h [32]byte
	copy(h[:], raw)
	tx, ok := d.Store.TxByInternalHash(h)
	if !ok {
		return nil, rpcerr.New(rpcerr.ErrSnapshotMissing, "no transaction for hash")
	}
	return projectTransaction(tx), nil
}

func handleSimGetTransactionReceipt(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	raw, err := p.HexBytes(0, "hash")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	var h [32]byte
	copy(h[:], raw)
	tx, ok := d.Store.TxByInternalHash(h)
	if !ok {
		return nil, rpcerr.New(rpcerr.ErrSnapshotMissing, "no transaction for hash")
	}
	return projectReceipt(tx), nil
}

func handleSimGetContractSchema(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	schema, ok := d.Eng.Schema(a)
	if !ok {
		return nil, rpcerr.New(rpcerr.ErrUnknownContract, "no contract at %s", a.Hex())
	}
	return sdkSchema(schema), nil
}

func handleSimCreateSnapshot(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	id := d.Eng.Snapshot()
	return map[string]any{"snapshot_id": id}, nil
}

func handleSimRestoreSnapshot(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	id, err := p.Uint64(0, "snapshot_id")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	if !d.Eng.Restore(id) {
		return nil, rpcerr.New(rpcerr.ErrSnapshotMissing, "no snapshot %d", id)
	}
	return map[string]any{"restored": true}, nil
}
