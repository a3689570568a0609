package scan

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"approvalScope/internal/erc20"
)

type fakeSource struct {
	latest       uint64
	logs         []types.Log
	timestamps   map[common.Hash]uint64
	filterErr    error
	failuresLeft int
	filterRanges [][2]uint64
	headerCalls  int
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, fromBlock, toBlock uint64, _ [][]common.Hash) ([]types.Log, error) {
	f.filterRanges = append(f.filterRanges, [2]uint64{fromBlock, toBlock})
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, fmt.Errorf("transient node error")
	}
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, blockHash common.Hash) (uint64, error) {
	f.headerCalls++
	ts, ok := f.timestamps[blockHash]
	if !ok {
		return 0, fmt.Errorf("unknown block %s", blockHash.Hex())
	}
	return ts, nil
}

func approvalLog(t *testing.T, token, owner, spender common.Address, value int64, block uint64, index uint, blockHash common.Hash) types.Log {
	t.Helper()
	topic, err := erc20.ApprovalTopic()
	require.NoError(t, err)
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{topic, erc20.TopicFromAddress(owner), erc20.TopicFromAddress(spender)},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		BlockHash:   blockHash,
		Index:       index,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064d", block)),
	}
}

func TestScanFiltersWrongTopicShape(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	blockHash := common.HexToHash("0x01")

	topic, err := erc20.ApprovalTopic()
	require.NoError(t, err)

	erc721Log := types.Log{
		Address: token,
		Topics: []common.Hash{
			topic,
			erc20.TopicFromAddress(owner),
			erc20.TopicFromAddress(spender),
			common.BigToHash(big.NewInt(1234)), // indexed tokenId
		},
		BlockNumber: 11,
		BlockHash:   blockHash,
	}

	source := &fakeSource{
		latest: 20,
		logs: []types.Log{
			approvalLog(t, token, owner, spender, 500, 10, 0, blockHash),
			erc721Log,
		},
	}

	scanner := NewScanner(Config{BatchSize: 100}, source, nil)
	events, err := scanner.Scan(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, token.Hex(), events[0].TokenAddress)
	require.Equal(t, spender.Hex(), events[0].SpenderAddress)
	require.Equal(t, "500", events[0].Value)
}

func TestScanTimestampsPerDistinctBlock(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	hashA := common.HexToHash("0x0a")
	hashB := common.HexToHash("0x0b")

	source := &fakeSource{
		latest: 20,
		logs: []types.Log{
			approvalLog(t, token, owner, spender, 1, 10, 0, hashA),
			approvalLog(t, token, owner, spender, 2, 10, 1, hashA),
			approvalLog(t, token, owner, spender, 3, 12, 0, hashB),
		},
		timestamps: map[common.Hash]uint64{
			hashA: 1700000000,
			hashB: 1700000100,
		},
	}

	scanner := NewScanner(Config{BatchSize: 100, WithTimestamps: true}, source, nil)
	events, err := scanner.Scan(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(1700000000), events[0].Timestamp)
	require.Equal(t, uint64(1700000000), events[1].Timestamp)
	require.Equal(t, uint64(1700000100), events[2].Timestamp)

	// Two distinct block hashes means exactly two header lookups.
	require.Equal(t, 2, source.headerCalls)
}

func TestScanFailClosed(t *testing.T) {
	source := &fakeSource{latest: 20, filterErr: fmt.Errorf("node unavailable")}
	scanner := NewScanner(Config{BatchSize: 100, MaxRetries: 0}, source, nil)

	events, err := scanner.Scan(context.Background(), common.Address{})
	require.Error(t, err)
	require.Nil(t, events)
}

func TestScanWalksRangeInBatches(t *testing.T) {
	source := &fakeSource{latest: 25}
	scanner := NewScanner(Config{FromBlock: 0, BatchSize: 10}, source, nil)

	_, err := scanner.Scan(context.Background(), common.Address{})
	require.NoError(t, err)

	// Inclusive 10-block windows up to the latest block, no overrun.
	want := [][2]uint64{{0, 9}, {10, 19}, {20, 25}}
	require.Equal(t, want, source.filterRanges)
}

func TestScanRetriesTransientFailures(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	spender := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	blockHash := common.HexToHash("0x01")

	source := &fakeSource{
		latest:       20,
		failuresLeft: 2,
		logs: []types.Log{
			approvalLog(t, token, owner, spender, 9, 10, 0, blockHash),
		},
	}
	scanner := NewScanner(Config{BatchSize: 100, MaxRetries: 3, RetryBackoff: time.Millisecond}, source, nil)

	events, err := scanner.Scan(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, source.filterRanges, 3, "two failed attempts plus one success")
}

func TestScanRetriesExhausted(t *testing.T) {
	source := &fakeSource{latest: 20, failuresLeft: 10}
	scanner := NewScanner(Config{BatchSize: 100, MaxRetries: 2, RetryBackoff: time.Millisecond}, source, nil)

	_, err := scanner.Scan(context.Background(), common.Address{})
	require.Error(t, err)
	require.Len(t, source.filterRanges, 3, "initial attempt plus two retries")
}

func TestScanRejectsInvertedRange(t *testing.T) {
	source := &fakeSource{latest: 20}
	scanner := NewScanner(Config{FromBlock: 30, ToBlock: 20, BatchSize: 100}, source, nil)

	_, err := scanner.Scan(context.Background(), common.Address{})
	require.Error(t, err)
	require.Empty(t, source.filterRanges)
}
