package pipeline

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"approvalScope/internal/model"
)

var (
	ownerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	ownerB = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	token1 = common.HexToAddress("0x0000000000000000000000000000000000000b01")
)

type blockingAccumulator struct {
	mu      sync.Mutex
	results map[string][]model.AccumulatedApproval
	gates   map[string]chan struct{}
}

func (a *blockingAccumulator) Accumulate(_ context.Context, owner common.Address) ([]model.AccumulatedApproval, error) {
	a.mu.Lock()
	gate := a.gates[owner.Hex()]
	result := a.results[owner.Hex()]
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if result == nil {
		return nil, errors.New("no result configured")
	}
	return result, nil
}

type fakeTokens struct {
	infos    map[string]model.TokenInfo
	balances map[string]*big.Int
}

func (f *fakeTokens) TokenInfo(_ context.Context, token common.Address) (model.TokenInfo, error) {
	info, ok := f.infos[strings.ToLower(token.Hex())]
	if !ok {
		return model.TokenInfo{}, errors.New("unknown token")
	}
	return info, nil
}

func (f *fakeTokens) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	balance, ok := f.balances[strings.ToLower(token.Hex())]
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func approvalFor(token common.Address) model.AccumulatedApproval {
	return model.AccumulatedApproval{
		TokenAddress:   token.Hex(),
		SpenderAddress: "0x0000000000000000000000000000000000000c01",
		Allowance:      "1000",
		Decimals:       18,
	}
}

func waitForSettled(t *testing.T, updates <-chan Snapshot, generation uint64) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-updates:
			if !snap.Loading && snap.Generation == generation {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for generation %d to settle", generation)
		}
	}
}

func TestGraphRunSettles(t *testing.T) {
	key := strings.ToLower(token1.Hex())
	acc := &blockingAccumulator{
		results: map[string][]model.AccumulatedApproval{
			ownerA.Hex(): {approvalFor(token1)},
		},
	}
	tokens := &fakeTokens{
		infos:    map[string]model.TokenInfo{key: {Address: token1.Hex(), Symbol: "TKN", Decimals: 18}},
		balances: map[string]*big.Int{key: big.NewInt(5)},
	}

	graph := NewGraph(acc, tokens, nil)
	updates := graph.Subscribe()
	graph.SetOwner(context.Background(), ownerA)

	snap := waitForSettled(t, updates, 1)
	require.Len(t, snap.Approvals, 1)
	require.Equal(t, "TKN", snap.Tokens[key].Symbol)
	require.Equal(t, "5", snap.Balances[key].String())
	require.Equal(t, ownerA.Hex(), snap.Owner)
}

func TestGraphLoadingUntilBothStagesSettle(t *testing.T) {
	acc := &blockingAccumulator{
		results: map[string][]model.AccumulatedApproval{
			ownerA.Hex(): {},
		},
	}
	graph := NewGraph(acc, &fakeTokens{}, nil)
	updates := graph.Subscribe()

	graph.SetOwner(context.Background(), ownerA)

	first := <-updates
	if first.Loading {
		waitForSettled(t, updates, 1)
	}
	require.False(t, graph.Snapshot().Loading)
}

func TestGraphDiscardsSupersededRun(t *testing.T) {
	gate := make(chan struct{})
	acc := &blockingAccumulator{
		results: map[string][]model.AccumulatedApproval{
			ownerA.Hex(): {approvalFor(token1)},
			ownerB.Hex(): {},
		},
		gates: map[string]chan struct{}{
			ownerA.Hex(): gate,
		},
	}
	graph := NewGraph(acc, &fakeTokens{infos: map[string]model.TokenInfo{
		strings.ToLower(token1.Hex()): {Decimals: 18},
	}}, nil)
	updates := graph.Subscribe()

	// Run 1 blocks inside accumulation; run 2 supersedes and completes.
	graph.SetOwner(context.Background(), ownerA)
	graph.SetOwner(context.Background(), ownerB)
	snap := waitForSettled(t, updates, 2)
	require.Equal(t, ownerB.Hex(), snap.Owner)
	require.Empty(t, snap.Approvals)

	// Releasing run 1 must not overwrite run 2's committed state.
	close(gate)
	time.Sleep(50 * time.Millisecond)
	final := graph.Snapshot()
	require.Equal(t, uint64(2), final.Generation)
	require.Equal(t, ownerB.Hex(), final.Owner)
	require.Empty(t, final.Approvals)
}

func TestGraphOmitsFailedTokenLookups(t *testing.T) {
	acc := &blockingAccumulator{
		results: map[string][]model.AccumulatedApproval{
			ownerA.Hex(): {approvalFor(token1)},
		},
	}
	// No token info configured: lookup fails.
	graph := NewGraph(acc, &fakeTokens{}, nil)
	updates := graph.Subscribe()
	graph.SetOwner(context.Background(), ownerA)

	snap := waitForSettled(t, updates, 1)
	require.Len(t, snap.Approvals, 1, "approval stays in stage A")
	require.Empty(t, snap.Tokens, "failed token never reaches stage B output")
}
