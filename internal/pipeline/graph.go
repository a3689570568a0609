// Package pipeline drives the staged derivation of approval state: Stage A
// accumulates approvals for the current owner, Stage B enriches the distinct
// tokens with metadata and balances. Stage C (the view) derives from
// published snapshots and lives in the view package.
//
// The reactive re-run-on-change behavior is explicit here: each stage is
// recomputed by its owner after the upstream stage commits, and downstream
// consumers are notified over subscription channels. Superseded runs are
// discarded by a generation check at every stage boundary.
package pipeline

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"approvalScope/internal/metrics"
	"approvalScope/internal/model"
)

// Accumulator produces the Stage A approval list.
type Accumulator interface {
	Accumulate(ctx context.Context, owner common.Address) ([]model.AccumulatedApproval, error)
}

// TokenSource produces Stage B token metadata and balances.
type TokenSource interface {
	TokenInfo(ctx context.Context, token common.Address) (model.TokenInfo, error)
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Snapshot is a consistent view of the graph between recomputations. Maps
// are keyed by lowercase token address. Loading reports whether either stage
// is still in flight; consumers must treat the snapshot as not-ready until
// it clears, to avoid showing partially joined data.
type Snapshot struct {
	Generation uint64
	Owner      string
	Loading    bool
	Approvals  []model.AccumulatedApproval
	Tokens     map[string]model.TokenInfo
	Balances   map[string]*big.Int
}

// Graph holds the staged derived state. All mutation is single-writer: the
// run goroutine owns stage data, guarded by mu, and published snapshots are
// copies that are never mutated afterwards.
type Graph struct {
	accumulator Accumulator
	tokens      TokenSource
	logger      *zap.Logger

	mu            sync.Mutex
	gen           uint64
	owner         common.Address
	stageARunning bool
	stageBRunning bool
	approvals     []model.AccumulatedApproval
	tokenInfos    map[string]model.TokenInfo
	balances      map[string]*big.Int
	subs          []chan Snapshot
}

// NewGraph builds a Graph with its dependencies.
func NewGraph(accumulator Accumulator, tokens TokenSource, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		accumulator: accumulator,
		tokens:      tokens,
		logger:      logger,
		tokenInfos:  make(map[string]model.TokenInfo),
		balances:    make(map[string]*big.Int),
	}
}

// SetOwner starts a new pipeline run for the given account. Any in-flight
// run is superseded: its commits fail the generation check and are discarded
// silently.
func (g *Graph) SetOwner(ctx context.Context, owner common.Address) {
	g.mu.Lock()
	g.gen++
	gen := g.gen
	g.owner = owner
	g.stageARunning = true
	g.stageBRunning = true
	g.approvals = nil
	g.tokenInfos = make(map[string]model.TokenInfo)
	g.balances = make(map[string]*big.Int)
	g.mu.Unlock()

	g.publish()
	go g.run(ctx, gen, owner)
}

// Subscribe registers a snapshot channel. Publishes never block: a slow
// subscriber misses intermediate snapshots, not the final one, because it
// always drains the latest buffered value.
func (g *Graph) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	g.mu.Lock()
	g.subs = append(g.subs, ch)
	g.mu.Unlock()
	return ch
}

// Snapshot returns a consistent copy of the current graph state.
func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Graph) snapshotLocked() Snapshot {
	approvals := make([]model.AccumulatedApproval, len(g.approvals))
	copy(approvals, g.approvals)

	tokens := make(map[string]model.TokenInfo, len(g.tokenInfos))
	for k, v := range g.tokenInfos {
		tokens[k] = v
	}
	balances := make(map[string]*big.Int, len(g.balances))
	for k, v := range g.balances {
		balances[k] = v
	}

	return Snapshot{
		Generation: g.gen,
		Owner:      g.owner.Hex(),
		Loading:    g.stageARunning || g.stageBRunning,
		Approvals:  approvals,
		Tokens:     tokens,
		Balances:   balances,
	}
}

func (g *Graph) publish() {
	g.mu.Lock()
	snap := g.snapshotLocked()
	subs := g.subs
	g.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (g *Graph) run(ctx context.Context, gen uint64, owner common.Address) {
	runID := uuid.NewString()
	log := g.logger.With(zap.String("run_id", runID), zap.Uint64("generation", gen), zap.String("owner", owner.Hex()))

	approvals, err := g.accumulator.Accumulate(ctx, owner)
	if err != nil {
		// Fail-closed: the run completes with an empty approval list.
		metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
		log.Warn("accumulation failed, presenting empty result", zap.Error(err))
		approvals = nil
	}

	if !g.commitStageA(gen, approvals) {
		metrics.StaleRunsDiscardedTotal.Inc()
		log.Debug("stage A result superseded, discarding")
		return
	}
	g.publish()

	tokens, balances := g.enrichTokens(ctx, owner, approvals, log)

	if !g.commitStageB(gen, tokens, balances) {
		metrics.StaleRunsDiscardedTotal.Inc()
		log.Debug("stage B result superseded, discarding")
		return
	}
	if err == nil {
		metrics.PipelineRunsTotal.WithLabelValues("ok").Inc()
	}
	g.publish()

	log.Info("pipeline run complete",
		zap.Int("approvals", len(approvals)),
		zap.Int("tokens", len(tokens)),
	)
}

// enrichTokens fetches TokenInfo and owner balance for each distinct token
// of the approval list. A token that fails lookup is omitted from the map;
// its approvals stay in Stage A but never reach the view.
func (g *Graph) enrichTokens(ctx context.Context, owner common.Address, approvals []model.AccumulatedApproval, log *zap.Logger) (map[string]model.TokenInfo, map[string]*big.Int) {
	tokens := make(map[string]model.TokenInfo)
	balances := make(map[string]*big.Int)

	for _, approval := range approvals {
		key := strings.ToLower(approval.TokenAddress)
		if _, ok := tokens[key]; ok {
			continue
		}
		address := common.HexToAddress(approval.TokenAddress)

		info, err := g.tokens.TokenInfo(ctx, address)
		if err != nil {
			metrics.TokenInfoFailuresTotal.Inc()
			log.Warn("token info lookup failed", zap.String("token", approval.TokenAddress), zap.Error(err))
			continue
		}
		tokens[key] = info

		balance, err := g.tokens.BalanceOf(ctx, address, owner)
		if err != nil {
			log.Warn("balance lookup failed", zap.String("token", approval.TokenAddress), zap.Error(err))
			continue
		}
		balances[key] = balance
	}

	return tokens, balances
}

func (g *Graph) commitStageA(gen uint64, approvals []model.AccumulatedApproval) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		return false
	}
	g.approvals = approvals
	g.stageARunning = false
	return true
}

func (g *Graph) commitStageB(gen uint64, tokens map[string]model.TokenInfo, balances map[string]*big.Int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		return false
	}
	g.tokenInfos = tokens
	g.balances = balances
	g.stageBRunning = false
	return true
}
