package resolve

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"approvalScope/internal/erc20"
)

// ContractCaller provides the eth_call read the resolver depends on.
// *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolution is the authoritative live state of one (owner, token, spender)
// triple.
type Resolution struct {
	Allowance *big.Int
	Decimals  uint8
}

// Resolver reads current token decimals and allowance from the chain.
// Decimals are a prerequisite: without them no base-unit amount is
// meaningful, so a failed decimals read leaves the pair unresolved even when
// the historical log carries values.
type Resolver struct {
	caller ContractCaller
	logger *zap.Logger

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewResolver builds a Resolver with its dependencies.
func NewResolver(caller ContractCaller, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		caller:   caller,
		logger:   logger,
		decimals: make(map[common.Address]uint8),
	}
}

// Resolve returns the live allowance granted by owner to spender on token,
// in base units, or an error when the pair is unresolvable.
func (r *Resolver) Resolve(ctx context.Context, owner, token, spender common.Address) (Resolution, error) {
	if r.caller == nil {
		return Resolution{}, fmt.Errorf("contract caller is nil")
	}

	decimals, err := r.tokenDecimals(ctx, token)
	if err != nil {
		return Resolution{}, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}

	allowance, err := r.allowance(ctx, owner, token, spender)
	if err != nil {
		return Resolution{}, fmt.Errorf("allowance %s->%s: %w", token.Hex(), spender.Hex(), err)
	}

	return Resolution{Allowance: allowance, Decimals: decimals}, nil
}

func (r *Resolver) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	r.mu.RLock()
	decimals, ok := r.decimals[token]
	r.mu.RUnlock()
	if ok {
		return decimals, nil
	}

	parsed, err := erc20.ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}

	values, err := erc20.Call(ctx, r.caller, token, parsed, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, err = erc20.ToDecimals(values[0])
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.decimals[token] = decimals
	r.mu.Unlock()

	return decimals, nil
}

func (r *Resolver) allowance(ctx context.Context, owner, token, spender common.Address) (*big.Int, error) {
	parsed, err := erc20.ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	values, err := erc20.Call(ctx, r.caller, token, parsed, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", values[0])
	}
	return allowance, nil
}
