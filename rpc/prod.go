package rpc

import (
	"context"
	"errors"
	"strconv"

	"gensim/addr"
	"gensim/codec"
	"gensim/engine"
	"gensim/rpcerr"
	"gensim/statestore"
)

func handleEthChainID(ctx context.Context, d *Dispatcher, p Params) (any, error) { return hexUint64(d.ChainID), nil }

func handleNetVersion(ctx context.Context, d *Dispatcher, p Params) (any, error) { return strconv.FormatUint(d.ChainID, 10), nil }

func handleEthBlockNumber(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	return hexUint64(d.Store.BlockNumber()), nil
}

func handleEthGetBalance(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	return hexUint64(d.Store.Balance(a)), nil
}

func handleEthGetTransactionCount(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	a, err := p.Address(0, "address")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	return hexUint64(d.Store.Nonce(a)), nil
}

func handleEthGasPrice(ctx context.Context, d *Dispatcher, p Params) (any, error) { return "0x0", nil }

func handleEthEstimateGas(ctx context.Context, d *Dispatcher, p Params) (any, error) { return "0x5208", nil }

// handleEthSendRawTransaction is eth_sendRawTransaction(rawHex, simConfig?),
// the production-compatible entry point that decodes a signed legacy
// envelope and runs the full deploy-or-call consensus round using the
// envelope's own numValidators/maxRotations rather than the Dispatcher's
// defaults (spec §4.1, §6.1).
func handleEthSendRawTransaction(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	raw, err := p.HexBytes(0, "raw")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	env, err := codec.DecodeEnvelope(raw)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}

	mocks := engine.SubmissionMocks{}
	if v, ok := p.Any(1, "simConfig"); ok {
		if sc, ok := v.(map[string]any); ok {
			mocks = decodeSimConfigMocks(sc)
		}
	}

	sub := env.Submission
	numValidators := sub.NumValidators
	if numValidators == 0 {
		numValidators = d.DefaultValidators
	}
	maxRotations := sub.MaxRotations
	if maxRotations == 0 {
		maxRotations = d.MaxRotations
	}

	var deployedAddr addr.Address
	var execute func() (any, []byte, error)
	var txType statestore.TxType
	var recipient *addr.Address

	if sub.Inner.IsDeploy {
		txType = statestore.TxDeploy
		execute = func() (any, []byte, error) {
			a, _, err := d.Eng.Deploy("", sub.Inner.Code, nil, nil, sub.Sender)
			if err != nil {
				return nil, nil, err
			}
			deployedAddr = a
			return a.Hex(), []byte(a.Hex()), nil
		}
	} else {
		txType = statestore.TxCall
		target := sub.Recipient
		recipient = &target
		execute = func() (any, []byte, error) {
			result, resultBytes, err := d.Eng.CallFromCalldata(target, sub.Inner.Method, sub.Sender)
			if err != nil {
				return nil, nil, err
			}
			return result, resultBytes, nil
		}
	}

	tx := d.submit(ctx, txType, sub.Sender, recipient, raw, env.ExternalHash, numValidators, maxRotations, mocks, execute)
	tx.ExternalHash = env.ExternalHash
	if sub.Inner.IsDeploy && tx.Status == statestore.StatusFinalized {
		tx.Recipient = &deployedAddr
	}
	d.Store.PutTransaction(tx)

	return hexBytes(tx.ExternalHash[:]), nil
}

func handleEthGetTransactionReceipt(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	raw, err := p.HexBytes(0, "hash")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	var h [32]byte
	copy(h[:], raw)
	tx, ok := d.Store.TxByExternalHash(h)
	if !ok {
		return nil, rpcerr.New(rpcerr.ErrSnapshotMissing, "no transaction for hash")
	}
	return projectEthReceipt(tx, d.ConsensusContract, d.NewTransactionTopic), nil
}

// handleEthGetTransactionByHash looks a transaction up by whichever of the
// three identifiers the caller passed — sequential id, external hash, or
// internal hash (spec §6.1) — since a log-watching client only ever learns
// the padded sequential id (topics[1] of the NewTransaction log), not either
// hash.
func handleEthGetTransactionByHash(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	raw, err := p.HexBytes(0, "hash")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}

	if seq, ok := seqIDFromPadded(raw); ok {
		if tx, ok := d.Store.TxBySequentialID(seq); ok {
			return projectEthTransaction(tx), nil
		}
	}

	var h [32]byte
	copy(h[:], raw)
	if tx, ok := d.Store.TxByExternalHash(h); ok {
		return projectEthTransaction(tx), nil
	}
	if tx, ok := d.Store.TxByInternalHash(h); ok {
		return projectEthTransaction(tx), nil
	}
	return nil, rpcerr.New(rpcerr.ErrSnapshotMissing, "no transaction for hash")
}

// seqIDFromPadded recognizes a 32-byte-padded sequential id — the shape a
// NewTransaction log's topics[1] takes — and rejects anything wider, so a
// genuine 32-byte hash never gets misread as a tiny sequential id.
func seqIDFromPadded(raw []byte) (uint64, bool) {
	if len(raw) != 32 {
		return 0, false
	}
	for _, b := range raw[:24] {
		if b != 0 {
			return 0, false
		}
	}
	seq := uint64(0)
	for _, b := range raw[24:] {
		seq = seq<<8 | uint64(b)
	}
	return seq, seq != 0
}

// handleGenCall is gen_call([{type,to,from,data:hex}]) — a consensus-free
// single invocation used by SDK clients that want a raw calldata-encoded
// result back rather than a JSON-projected receipt (spec §6.1 "gen_call
// bypasses consensus entirely"). The single positional element is itself an
// object, not a flat arg list; "data" is RLP of (calldataBlob,
// leaderOnlyFlag) rather than bare hex calldata.
func handleGenCall(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	call, err := p.Object(0, "call")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	callParams := Params{obj: call}

	a, err := callParams.Address(0, "to")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	rawData, err := callParams.HexBytes(0, "data")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	sender, err := callParams.Address(0, "from")
	if err != nil {
		sender = addr.Zero
	}

	blob, _, err := codec.DecodeGenCallData(rawData)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}

	_, resultBytes, err := d.Eng.CallFromCalldata(a, blob, sender)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownContract) {
			return nil, rpcerr.Wrap(rpcerr.ErrUnknownContract, err)
		}
		return nil, rpcerr.Wrap(rpcerr.ErrUnknownMethodOnContract, err)
	}
	return hexBytesNoPrefix(resultBytes), nil
}

func hexBytesNoPrefix(b []byte) string { return hexBytes(b)[2:] }

func handleGenGetContractSchema(ctx context.Context, d *Dispatcher, p Params) (any, error) {
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

func handleGenGetContractSchemaForCode(ctx context.Context, d *Dispatcher, p Params) (any, error) {
	code, err := p.HexBytes(0, "code")
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrMalformedEnvelope, err)
	}
	schema, err := d.Eng.SchemaForCode(code)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ErrInternal, err)
	}
	return sdkSchema(schema), nil
}
