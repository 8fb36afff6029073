package rpc

import (
	"encoding/hex"
	"strconv"

	"gensim/addr"
	"gensim/codec"
	"gensim/runtime"
	"gensim/statestore"
)

func hexUint64(n uint64) string { return "0x" + strconv.FormatUint(n, 16) }

func hexBytes(b []byte) string { return "0x" + hex.EncodeToString(b) }

func pad32(b []byte) [32]byte {
	var out [32]byte
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(out[32-len(b):], b)
	return out
}

// genericSchema is engine.py's `_extract_schema` shape (SPEC_FULL.md §4
// "Dual schema formats").
func genericSchema(s runtime.Schema) map[string]any {
	methods := make([]map[string]any, 0, len(s.Methods))
	for name, m := range s.Methods {
		methods = append(methods, map[string]any{
			"name":        name,
			"params":      m.Positional,
			"return_type": m.Return,
		})
	}
	return map[string]any{
		"class_name": s.ClassName,
		"methods":    methods,
	}
}

// sdkSchema is engine.py's `_extract_sdk_schema` shape, returned by
// sim_getContractSchema / gen_getContractSchema(ForCode).
func sdkSchema(s runtime.Schema) map[string]any {
	methods := make(map[string]any, len(s.Methods))
	for name, m := range s.Methods {
		methods[name] = map[string]any{
			"params":   m.Positional,
			"kwparams": m.Named,
			"ret":      m.Return,
			"readonly": m.ReadOnly,
		}
	}
	return map[string]any{
		"ctor": map[string]any{
			"params":   s.Ctor.Positional,
			"kwparams": s.Ctor.Named,
		},
		"methods": methods,
	}
}

// projectTransaction is the native sim_getTransactionByHash shape.
func projectTransaction(tx *statestore.Transaction) map[string]any {
	var recipient any
	if tx.Recipient != nil {
		recipient = tx.Recipient.Hex()
	}
	return map[string]any{
		"hash":           hexBytes(tx.InternalHash[:]),
		"external_hash":  hexBytes(tx.ExternalHash[:]),
		"seq_id":         tx.SeqID,
		"sender":         tx.Sender.Hex(),
		"recipient":      recipient,
		"type":           string(tx.Type),
		"status":         string(tx.Status),
		"result":         hexBytes(tx.Result),
		"error":          tx.Error,
		"num_validators": tx.NumValidators,
		"votes":          tx.Votes,
		"rotation":       tx.Rotation,
		"block_number":   tx.BlockNumber,
	}
}

// projectReceipt is the native sim_getTransactionReceipt shape.
func projectReceipt(tx *statestore.Transaction) map[string]any {
	return map[string]any{
		"tx_hash":  hexBytes(tx.InternalHash[:]),
		"status":   string(tx.Status),
		"result":   hexBytes(tx.Result),
		"error":    tx.Error,
		"votes":    tx.Votes,
		"rotation": tx.Rotation,
	}
}

// projectEthReceipt builds the eth_getTransactionReceipt shape (spec §6.1):
// exactly one log at the fixed consensus-contract address with the
// NewTransaction topic plus seq-id/recipient/signer padded to 32 bytes.
func projectEthReceipt(tx *statestore.Transaction, consensusContract addr.Address, newTransactionTopic [32]byte) map[string]any {
	status := "0x0"
	if tx.Status == statestore.StatusFinalized {
		status = "0x1"
	}

	seqIDBytes := pad32(uint64ToBytes(tx.SeqID))
	var recipientBytes [32]byte
	if tx.Recipient != nil {
		recipientBytes = pad32(tx.Recipient.Bytes())
	}
	signerBytes := pad32(tx.Sender.Bytes())

	topics := []string{
		hexBytes(newTransactionTopic[:]),
		hexBytes(seqIDBytes[:]),
		hexBytes(recipientBytes[:]),
		hexBytes(signerBytes[:]),
	}

	log := map[string]any{
		"address": consensusContract.Hex(),
		"topics":  topics,
		"data":    "0x",
	}

	return map[string]any{
		"transactionHash":   hexBytes(tx.ExternalHash[:]),
		"status":            status,
		"blockNumber":       hexUint64(tx.BlockNumber),
		"from":              tx.Sender.Hex(),
		"logs":              []any{log},
		"contractAddress":   contractAddressOrNil(tx),
		"cumulativeGasUsed": "0x5208",
		"gasUsed":           "0x5208",
	}
}

func contractAddressOrNil(tx *statestore.Transaction) any {
	if tx.Type == statestore.TxDeploy && tx.Recipient != nil {
		return tx.Recipient.Hex()
	}
	return nil
}

func uint64ToBytes(n uint64) []byte {
	return []byte{
		byte(n >> 56), byte(n >> 48), byte(n >> 40), byte(n >> 32),
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	}
}

// projectEthTransaction builds the eth_getTransactionByHash shape (spec
// §6.1 ProductionTransactionShape), synthesizing consensus_data from the
// recorded votes and validator count.
func projectEthTransaction(tx *statestore.Transaction) map[string]any {
	txType := 2
	if tx.Type == statestore.TxDeploy {
		txType = 0
	}

	data := map[string]any{"calldata": hexBytes(tx.Input)}
	if tx.Type == statestore.TxDeploy && tx.Recipient != nil {
		data["contract_address"] = tx.Recipient.Hex()
	}

	executionResult := "SUCCESS"
	stderr := ""
	ok, _, errMsg, err := codec.DecodeResult(tx.Result)
	if err == nil && !ok {
		executionResult = "ERROR"
		stderr = errMsg
	}
	if tx.Error != "" {
		executionResult = "ERROR"
		stderr = tx.Error
	}

	validators := make([]string, tx.NumValidators)
	for i := range validators {
		validators[i] = "validator-" + strconv.Itoa(i)
	}

	leaderReceipt := []map[string]any{{
		"execution_result": executionResult,
		"mode":              "leader",
		"calldata":          hexBytes(tx.Input),
		"result":            hexBytes(tx.Result),
		"genvm_result":      map[string]any{"stdout": "", "stderr": stderr},
		"node_config":       map[string]any{},
	}}

	var recipient any
	if tx.Recipient != nil {
		recipient = tx.Recipient.Hex()
	}

	return map[string]any{
		"hash":          hexBytes(tx.ExternalHash[:]),
		"status":        string(tx.Status),
		"from_address":  tx.Sender.Hex(),
		"to_address":    recipient,
		"type":          txType,
		"data":          data,
		"consensus_data": map[string]any{
			"leader_receipt": leaderReceipt,
			"validators":     validators,
			"votes":          tx.Votes,
		},
	}
}
