package codec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"gensim/addr"
)

// ChainID is the simulator's fixed chain identity (spec §6.2), used when
// recovering the signer of an EIP-155 legacy transaction.
var ChainID = big.NewInt(61999)

// ConsensusContractAddress is the well-known address that addTransaction
// calls are sent to (spec §6.2).
var ConsensusContractAddress = addr.MustParse("0x000000000000000000000000000000000000b257")

// Envelope is a decoded, signature-verified legacy transaction carrying an
// addTransaction call (spec §4.1 "signed submission envelope").
type Envelope struct {
	ExternalHash [32]byte
	Sender       addr.Address
	Nonce        uint64
	GasPrice     *big.Int
	GasLimit     uint64
	To           addr.Address
	Value        *big.Int
	Submission   Submission
}

// addTransactionArgs is the ABI signature of the consensus contract's entry
// point: addTransaction(address,address,uint256,uint256,bytes).
var addTransactionArgs = mustArguments(
	mustABIType("address"),
	mustABIType("address"),
	mustABIType("uint256"),
	mustABIType("uint256"),
	mustABIType("bytes"),
)

var addTransactionSelector = crypto.Keccak256([]byte("addTransaction(address,address,uint256,uint256,bytes)"))[:4]

// NewTransactionTopic is the event topic emitted (conceptually) whenever a
// submission is accepted, used by log-watching integrations (spec §6.2).
var NewTransactionTopic = crypto.Keccak256Hash([]byte("NewTransaction(bytes32,address,address)"))

func mustABIType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func mustArguments(types ...abi.Type) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: t}
	}
	return args
}

// DecodeEnvelope parses a raw signed legacy Ethereum transaction, recovers
// its sender, and decodes its calldata as an addTransaction invocation.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var tx types.Transaction
	if err := rlp.DecodeBytes(raw, &tx); err != nil {
		return Envelope{}, fmt.Errorf("%w: rlp decode: %v", ErrMalformed, err)
	}

	signer := types.NewEIP155Signer(ChainID)
	sender, err := types.Sender(signer, &tx)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: signer recovery: %v", ErrMalformed, err)
	}

	if tx.To() == nil {
		return Envelope{}, fmt.Errorf("%w: envelope has no recipient", ErrMalformed)
	}

	sub, err := decodeAddTransactionCall(tx.Data())
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ExternalHash: tx.Hash(),
		Sender:       addr.FromBytes(sender.Bytes()),
		Nonce:        tx.Nonce(),
		GasPrice:     tx.GasPrice(),
		GasLimit:     tx.Gas(),
		To:           addr.FromBytes(tx.To().Bytes()),
		Value:        tx.Value(),
		Submission:   sub,
	}, nil
}

func decodeAddTransactionCall(data []byte) (Submission, error) {
	if len(data) < 4 {
		return Submission{}, fmt.Errorf("%w: calldata shorter than selector", ErrMalformed)
	}
	if !bytesEqual(data[:4], addTransactionSelector) {
		return Submission{}, fmt.Errorf("%w: unrecognized method selector", ErrMalformed)
	}

	values, err := addTransactionArgs.Unpack(data[4:])
	if err != nil {
		return Submission{}, fmt.Errorf("%w: abi unpack: %v", ErrMalformed, err)
	}
	if len(values) != 5 {
		return Submission{}, fmt.Errorf("%w: unexpected argument count", ErrMalformed)
	}

	senderAddr, ok := values[0].(common.Address)
	if !ok {
		return Submission{}, fmt.Errorf("%w: sender arg type", ErrMalformed)
	}
	recipientAddr, ok := values[1].(common.Address)
	if !ok {
		return Submission{}, fmt.Errorf("%w: recipient arg type", ErrMalformed)
	}
	numValidators, ok := values[2].(*big.Int)
	if !ok {
		return Submission{}, fmt.Errorf("%w: numValidators arg type", ErrMalformed)
	}
	maxRotations, ok := values[3].(*big.Int)
	if !ok {
		return Submission{}, fmt.Errorf("%w: maxRotations arg type", ErrMalformed)
	}
	innerData, ok := values[4].([]byte)
	if !ok {
		return Submission{}, fmt.Errorf("%w: innerData arg type", ErrMalformed)
	}

	inner, err := decodeInnerSubmission(addr.FromBytes(recipientAddr.Bytes()), innerData)
	if err != nil {
		return Submission{}, err
	}

	return Submission{
		Sender:        addr.FromBytes(senderAddr.Bytes()),
		Recipient:     addr.FromBytes(recipientAddr.Bytes()),
		NumValidators: numValidators.Uint64(),
		MaxRotations:  maxRotations.Uint64(),
		Inner:         inner,
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Submission is the decoded addTransaction call: the outer routing fields
// plus the inner deploy-or-call payload (spec §4.1).
type Submission struct {
	Sender        addr.Address
	Recipient     addr.Address
	NumValidators uint64
	MaxRotations  uint64
	Inner         InnerSubmission
}

// InnerSubmission is either a DeploySubmission or a CallSubmission,
// distinguished by IsDeploy and populated exclusively.
type InnerSubmission struct {
	IsDeploy bool

	// Deploy fields.
	Code              []byte
	ConstructorInput  []byte
	LeaderOnly        bool

	// Call fields.
	Method []byte // calldata-encoded method invocation
}

// rlpDeploy and rlpCall mirror the RLP sequences spec §4.1 defines for the
// inner submission blob: (codeBytes, constructorCalldata, leaderOnlyFlag)
// for deploy, (methodCalldata, leaderOnlyFlag) for call.
type rlpDeploy struct {
	Code       []byte
	Ctor       []byte
	LeaderOnly bool
}

type rlpCall struct {
	Method     []byte
	LeaderOnly bool
}

// decodeInnerSubmission decodes the RLP inner blob. The recipient is the
// zero address iff this is a deploy (spec §4.1, §6.2).
func decodeInnerSubmission(recipient addr.Address, raw []byte) (InnerSubmission, error) {
	if recipient.IsZero() {
		var d rlpDeploy
		if err := rlp.DecodeBytes(raw, &d); err != nil {
			return InnerSubmission{}, fmt.Errorf("%w: inner deploy rlp: %v", ErrMalformed, err)
		}
		return InnerSubmission{
			IsDeploy:         true,
			Code:             d.Code,
			ConstructorInput: d.Ctor,
			LeaderOnly:       d.LeaderOnly,
		}, nil
	}

	var c rlpCall
	if err := rlp.DecodeBytes(raw, &c); err != nil {
		return InnerSubmission{}, fmt.Errorf("%w: inner call rlp: %v", ErrMalformed, err)
	}
	return InnerSubmission{
		IsDeploy:   false,
		Method:     c.Method,
		LeaderOnly: c.LeaderOnly,
	}, nil
}

// EncodeDeployInner RLP-encodes a deploy inner submission, the inverse of
// decodeInnerSubmission's deploy branch.
func EncodeDeployInner(code, ctorCalldata []byte, leaderOnly bool) ([]byte, error) {
	return rlp.EncodeToBytes(rlpDeploy{Code: code, Ctor: ctorCalldata, LeaderOnly: leaderOnly})
}

// EncodeCallInner RLP-encodes a call inner submission.
func EncodeCallInner(methodCalldata []byte, leaderOnly bool) ([]byte, error) {
	return rlp.EncodeToBytes(rlpCall{Method: methodCalldata, LeaderOnly: leaderOnly})
}

// rlpGenCall mirrors the RLP sequence gen_call's "data" field carries:
// (calldataBlob, leaderOnlyFlag) (spec §6.1).
type rlpGenCall struct {
	Calldata   []byte
	LeaderOnly bool
}

// DecodeGenCallData RLP-decodes gen_call's "data" field into its calldata
// blob and leader-only flag.
func DecodeGenCallData(raw []byte) (calldataBlob []byte, leaderOnly bool, err error) {
	var g rlpGenCall
	if err := rlp.DecodeBytes(raw, &g); err != nil {
		return nil, false, fmt.Errorf("%w: gen_call data rlp: %v", ErrMalformed, err)
	}
	return g.Calldata, g.LeaderOnly, nil
}

// EncodeGenCallData RLP-encodes a gen_call "data" field, the inverse of
// DecodeGenCallData.
func EncodeGenCallData(calldataBlob []byte, leaderOnly bool) ([]byte, error) {
	return rlp.EncodeToBytes(rlpGenCall{Calldata: calldataBlob, LeaderOnly: leaderOnly})
}

// EncodeAddTransactionCall ABI-encodes the addTransaction(sender, recipient,
// numValidators, maxRotations, innerBytes) call, prefixed by its selector.
func EncodeAddTransactionCall(sender, recipient addr.Address, numValidators, maxRotations uint64, inner []byte) ([]byte, error) {
	packed, err := addTransactionArgs.Pack(
		common.BytesToAddress(sender.Bytes()),
		common.BytesToAddress(recipient.Bytes()),
		new(big.Int).SetUint64(numValidators),
		new(big.Int).SetUint64(maxRotations),
		inner,
	)
	if err != nil {
		return nil, fmt.Errorf("abi pack: %w", err)
	}
	return append(append([]byte(nil), addTransactionSelector...), packed...), nil
}
