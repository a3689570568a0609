package erc20

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller performs an eth_call. *chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call packs method(args...), executes it against contract, and unpacks the
// returned values. An empty return is an error: every ERC20 read performed
// through this helper yields at least one value.
func Call(ctx context.Context, caller Caller, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no value", method)
	}
	return values, nil
}

// ToDecimals narrows an unpacked decimals() value to uint8. Values above
// math.MaxUint8 are rejected rather than truncated: a contract reporting
// such decimals is not a usable ERC20 token.
func ToDecimals(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return narrowDecimals(uint64(v))
	case uint32:
		return narrowDecimals(uint64(v))
	case uint64:
		return narrowDecimals(v)
	case *big.Int:
		if !v.IsUint64() {
			return 0, fmt.Errorf("decimals %s out of range", v)
		}
		return narrowDecimals(v.Uint64())
	default:
		return 0, fmt.Errorf("unsupported decimals type %T", value)
	}
}

func narrowDecimals(v uint64) (uint8, error) {
	if v > math.MaxUint8 {
		return 0, fmt.Errorf("decimals %d out of range", v)
	}
	return uint8(v), nil
}
