// Package decode recovers approve calls from transaction calldata. A wallet
// can bundle several independent approvals into one physical transaction via
// MultiSend; without unpacking, those approvals would be indistinguishable
// inside a single undifferentiated event.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"approvalScope/internal/erc20"
	"approvalScope/internal/model"
)

// ErrNotApproval marks calldata that is neither an approve call nor a
// MultiSend batch containing one.
var ErrNotApproval = errors.New("transaction is not an approval call")

// TxFetcher provides the transaction lookup the decoder depends on.
// *chain.Client satisfies it.
type TxFetcher interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// TxRef identifies a transaction to decode plus block context inherited by
// every call unpacked from it.
type TxRef struct {
	Hash        common.Hash
	BlockNumber uint64
	Timestamp   uint64
}

// Decoder fetches transactions and unpacks their approval calls.
type Decoder struct {
	fetcher TxFetcher
	logger  *zap.Logger
}

// NewDecoder builds a Decoder with its dependencies.
func NewDecoder(fetcher TxFetcher, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{fetcher: fetcher, logger: logger}
}

// Decode returns the approval calls carried by the referenced transaction:
// one record for a direct approve, one per inner approve for a MultiSend
// batch. Inner records carry the outer transaction's hash and timestamp but
// the inner call's target token.
func (d *Decoder) Decode(ctx context.Context, ref TxRef) ([]model.DecodedApprovalCall, error) {
	if d.fetcher == nil {
		return nil, fmt.Errorf("tx fetcher is nil")
	}

	tx, pending, err := d.fetcher.TransactionByHash(ctx, ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction %s: %w", ref.Hash.Hex(), err)
	}
	if pending {
		return nil, fmt.Errorf("transaction %s is pending", ref.Hash.Hex())
	}
	if tx.To() == nil {
		return nil, ErrNotApproval
	}

	return d.decodeCalldata(ref, *tx.To(), tx.Data())
}

func (d *Decoder) decodeCalldata(ref TxRef, to common.Address, data []byte) ([]model.DecodedApprovalCall, error) {
	if len(data) < 4 {
		return nil, ErrNotApproval
	}

	erc20ABI, err := erc20.ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	multiSendABI, err := erc20.MultiSendABI()
	if err != nil {
		return nil, fmt.Errorf("parse multisend abi: %w", err)
	}

	approve := erc20ABI.Methods["approve"]
	multiSend := multiSendABI.Methods["multiSend"]

	switch {
	case bytes.Equal(data[:4], approve.ID):
		spender, value, err := unpackApprove(approve.Inputs, data[4:])
		if err != nil {
			return nil, fmt.Errorf("unpack approve: %w", err)
		}
		return []model.DecodedApprovalCall{{
			TokenAddress:   to.Hex(),
			SpenderAddress: spender.Hex(),
			Value:          value.String(),
			TxHash:         ref.Hash.Hex(),
			BlockNumber:    ref.BlockNumber,
			Timestamp:      ref.Timestamp,
		}}, nil

	case bytes.Equal(data[:4], multiSend.ID):
		return d.decodeMultiSend(ref, multiSend, approve, data[4:])

	default:
		return nil, ErrNotApproval
	}
}

func (d *Decoder) decodeMultiSend(ref TxRef, multiSend, approve abi.Method, args []byte) ([]model.DecodedApprovalCall, error) {
	values, err := multiSend.Inputs.Unpack(args)
	if err != nil {
		return nil, fmt.Errorf("unpack multisend: %w", err)
	}
	packed, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected multisend argument type %T", values[0])
	}

	inner, err := erc20.UnpackMultiSendCalls(packed)
	if err != nil {
		return nil, fmt.Errorf("unpack multisend batch: %w", err)
	}

	calls := make([]model.DecodedApprovalCall, 0, len(inner))
	for _, sub := range inner {
		if len(sub.Data) < 4 || !bytes.Equal(sub.Data[:4], approve.ID) {
			continue
		}
		spender, value, err := unpackApprove(approve.Inputs, sub.Data[4:])
		if err != nil {
			d.logger.Debug("skip malformed inner approve",
				zap.String("tx", ref.Hash.Hex()),
				zap.String("token", sub.To.Hex()),
				zap.Error(err),
			)
			continue
		}
		calls = append(calls, model.DecodedApprovalCall{
			TokenAddress:   sub.To.Hex(),
			SpenderAddress: spender.Hex(),
			Value:          value.String(),
			TxHash:         ref.Hash.Hex(),
			BlockNumber:    ref.BlockNumber,
			Timestamp:      ref.Timestamp,
		})
	}

	if len(calls) == 0 {
		return nil, ErrNotApproval
	}
	return calls, nil
}

func unpackApprove(inputs abi.Arguments, args []byte) (common.Address, *big.Int, error) {
	values, err := inputs.Unpack(args)
	if err != nil {
		return common.Address{}, nil, err
	}
	if len(values) != 2 {
		return common.Address{}, nil, fmt.Errorf("expected 2 arguments, got %d", len(values))
	}
	spender, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected spender type %T", values[0])
	}
	value, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected value type %T", values[1])
	}
	return spender, value, nil
}
