package erc20

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// InnerCall is one sub-call of a MultiSend batch.
type InnerCall struct {
	Operation uint8
	To        common.Address
	Value     *big.Int
	Data      []byte
}

// UnpackMultiSendCalls parses the packed `transactions` argument of
// multiSend(bytes). Each sub-call is encoded without padding as
// operation (1 byte) | to (20 bytes) | value (32 bytes) |
// dataLength (32 bytes) | data (dataLength bytes).
func UnpackMultiSendCalls(packed []byte) ([]InnerCall, error) {
	const headerLen = 1 + 20 + 32 + 32

	calls := make([]InnerCall, 0)
	offset := 0
	for offset < len(packed) {
		if len(packed)-offset < headerLen {
			return nil, fmt.Errorf("truncated sub-call header at offset %d", offset)
		}

		call := InnerCall{Operation: packed[offset]}
		offset++

		call.To = common.BytesToAddress(packed[offset : offset+20])
		offset += 20

		call.Value = new(big.Int).SetBytes(packed[offset : offset+32])
		offset += 32

		dataLen := new(big.Int).SetBytes(packed[offset : offset+32])
		offset += 32
		if !dataLen.IsUint64() || dataLen.Uint64() > uint64(len(packed)-offset) {
			return nil, fmt.Errorf("sub-call data length %s out of bounds at offset %d", dataLen, offset)
		}

		size := int(dataLen.Uint64())
		call.Data = packed[offset : offset+size]
		offset += size

		calls = append(calls, call)
	}

	return calls, nil
}

// PackMultiSendCalls encodes sub-calls into the packed multiSend layout.
func PackMultiSendCalls(calls []InnerCall) []byte {
	var packed []byte
	for _, call := range calls {
		packed = append(packed, call.Operation)
		packed = append(packed, call.To.Bytes()...)
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
		packed = append(packed, common.LeftPadBytes(new(big.Int).SetInt64(int64(len(call.Data))).Bytes(), 32)...)
		packed = append(packed, call.Data...)
	}
	return packed
}
