// Package accumulate reconciles the historical Approval log with live
// allowance reads into one record per (token, spender) pair.
package accumulate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"approvalScope/internal/decode"
	"approvalScope/internal/groupby"
	"approvalScope/internal/metrics"
	"approvalScope/internal/model"
	"approvalScope/internal/resolve"
)

// Scanner retrieves raw approval events for an owner.
type Scanner interface {
	Scan(ctx context.Context, owner common.Address) ([]model.RawApprovalEvent, error)
}

// CallDecoder unpacks approval calls from a transaction.
type CallDecoder interface {
	Decode(ctx context.Context, ref decode.TxRef) ([]model.DecodedApprovalCall, error)
}

// Resolver reads the live allowance state of one pair.
type Resolver interface {
	Resolve(ctx context.Context, owner, token, spender common.Address) (resolve.Resolution, error)
}

// Accumulator orchestrates scan, decode, grouping, and per-pair resolution.
type Accumulator struct {
	scanner     Scanner
	decoder     CallDecoder
	resolver    Resolver
	logger      *zap.Logger
	concurrency int
}

// NewAccumulator builds an Accumulator. concurrency bounds the per-pair
// resolution fan-out; values below 1 fall back to 8.
func NewAccumulator(scanner Scanner, decoder CallDecoder, resolver Resolver, concurrency int, logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 8
	}
	return &Accumulator{
		scanner:     scanner,
		decoder:     decoder,
		resolver:    resolver,
		logger:      logger,
		concurrency: concurrency,
	}
}

type pair struct {
	token   string
	spender string
	calls   []model.DecodedApprovalCall
}

// Accumulate builds one AccumulatedApproval per (token, spender) pair that
// resolves. A failed scan fails the whole run; a failed resolution skips
// only its own pair. The returned order follows token discovery order, then
// spender discovery order within each token.
func (a *Accumulator) Accumulate(ctx context.Context, owner common.Address) ([]model.AccumulatedApproval, error) {
	if a.scanner == nil || a.decoder == nil || a.resolver == nil {
		return nil, fmt.Errorf("accumulator dependencies are nil")
	}

	events, err := a.scanner.Scan(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("scan approvals: %w", err)
	}

	calls := a.decodeCalls(ctx, events)

	pairs := groupPairs(calls)

	results := make([]*model.AccumulatedApproval, len(pairs))
	sem := make(chan struct{}, a.concurrency)
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p pair) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.resolvePair(ctx, owner, p)
		}(i, p)
	}
	wg.Wait()

	approvals := make([]model.AccumulatedApproval, 0, len(pairs))
	for _, result := range results {
		if result != nil {
			approvals = append(approvals, *result)
		}
	}
	return approvals, nil
}

// decodeCalls turns raw events into decoded approval calls. Each distinct
// transaction is decoded once; decoded calls are matched back to that
// transaction's events by (token, spender) in log order so they inherit the
// event's block number, log index, and timestamp. Transactions whose
// calldata is neither an approve nor a MultiSend batch are dropped.
func (a *Accumulator) decodeCalls(ctx context.Context, events []model.RawApprovalEvent) []model.DecodedApprovalCall {
	byTx := groupby.GroupBy(events, func(e model.RawApprovalEvent) string { return e.TxHash })

	matched := make([]model.DecodedApprovalCall, 0, len(events))
	for _, txHash := range byTx.Keys() {
		group := byTx.Get(txHash)
		ref := decode.TxRef{
			Hash:        common.HexToHash(txHash),
			BlockNumber: group[0].BlockNumber,
			Timestamp:   group[0].Timestamp,
		}

		calls, err := a.decoder.Decode(ctx, ref)
		if err != nil {
			metrics.DecodeDroppedTotal.Inc()
			if errors.Is(err, decode.ErrNotApproval) {
				a.logger.Debug("skip non-approval transaction", zap.String("tx", txHash))
			} else {
				a.logger.Warn("decode transaction failed", zap.String("tx", txHash), zap.Error(err))
			}
			continue
		}

		consumed := make([]bool, len(group))
		for _, call := range calls {
			idx := matchEvent(group, consumed, call)
			if idx < 0 {
				a.logger.Debug("decoded call without matching event",
					zap.String("tx", txHash),
					zap.String("token", call.TokenAddress),
					zap.String("spender", call.SpenderAddress),
				)
				continue
			}
			consumed[idx] = true
			call.BlockNumber = group[idx].BlockNumber
			call.LogIndex = group[idx].LogIndex
			call.Timestamp = group[idx].Timestamp
			matched = append(matched, call)
		}
	}
	return matched
}

func matchEvent(group []model.RawApprovalEvent, consumed []bool, call model.DecodedApprovalCall) int {
	for i, event := range group {
		if consumed[i] {
			continue
		}
		if strings.EqualFold(event.TokenAddress, call.TokenAddress) &&
			strings.EqualFold(event.SpenderAddress, call.SpenderAddress) {
			return i
		}
	}
	return -1
}

// groupPairs groups calls by token, then spender, preserving discovery order.
func groupPairs(calls []model.DecodedApprovalCall) []pair {
	byToken := groupby.GroupBy(calls, func(c model.DecodedApprovalCall) string {
		return strings.ToLower(c.TokenAddress)
	})

	pairs := make([]pair, 0, byToken.Len())
	for _, token := range byToken.Keys() {
		bySpender := groupby.GroupBy(byToken.Get(token), func(c model.DecodedApprovalCall) string {
			return strings.ToLower(c.SpenderAddress)
		})
		for _, spender := range bySpender.Keys() {
			group := bySpender.Get(spender)
			pairs = append(pairs, pair{
				token:   group[0].TokenAddress,
				spender: group[0].SpenderAddress,
				calls:   group,
			})
		}
	}
	return pairs
}

// resolvePair resolves one (token, spender) group. Failures and panics are
// contained here so sibling groups proceed: non-ERC20 contracts masquerading
// as tokens are expected and must not poison the whole result.
func (a *Accumulator) resolvePair(ctx context.Context, owner common.Address, p pair) (result *model.AccumulatedApproval) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ResolveSkippedTotal.WithLabelValues("panic").Inc()
			a.logger.Error("resolution panic",
				zap.String("token", p.token),
				zap.String("spender", p.spender),
				zap.Any("panic", r),
			)
			result = nil
		}
	}()

	res, err := a.resolver.Resolve(ctx, owner, common.HexToAddress(p.token), common.HexToAddress(p.spender))
	if err != nil {
		metrics.ResolveSkippedTotal.WithLabelValues("unresolved").Inc()
		a.logger.Warn("pair unresolved",
			zap.String("token", p.token),
			zap.String("spender", p.spender),
			zap.Error(err),
		)
		return nil
	}
	metrics.PairsResolvedTotal.Inc()

	transactions := make([]model.ApprovalTransaction, 0, len(p.calls))
	ordered := make([]model.DecodedApprovalCall, len(p.calls))
	copy(ordered, p.calls)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber > ordered[j].BlockNumber
		}
		return ordered[i].LogIndex > ordered[j].LogIndex
	})
	for _, call := range ordered {
		transactions = append(transactions, model.ApprovalTransaction{
			TxHash:        call.TxHash,
			ExecutionDate: formatTimestamp(call.Timestamp),
			Value:         call.Value,
		})
	}

	return &model.AccumulatedApproval{
		TokenAddress:   p.token,
		SpenderAddress: p.spender,
		Allowance:      res.Allowance.String(),
		Decimals:       res.Decimals,
		Transactions:   transactions,
	}
}

func formatTimestamp(ts uint64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
