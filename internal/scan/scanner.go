package scan

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"approvalScope/internal/erc20"
	"approvalScope/internal/metrics"
	"approvalScope/internal/model"
)

// LogSource provides the chain reads the scanner depends on.
// *chain.Client satisfies it.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, blockHash common.Hash) (uint64, error)
}

// Config holds runtime settings for the scanner.
type Config struct {
	FromBlock      uint64
	ToBlock        uint64 // 0 means latest
	BatchSize      uint64
	WithTimestamps bool
	MaxRetries     int
	RetryBackoff   time.Duration
}

// Scanner retrieves ERC20 Approval logs granted by one owner account.
//
// The scan is fail-closed: any chain error fails the whole scan and callers
// present an empty result. Malformed matches (the ERC721 Approval shape with
// an extra indexed topic, removed logs, non-word data) are filtered silently.
type Scanner struct {
	cfg    Config
	source LogSource
	logger *zap.Logger
}

// NewScanner builds a Scanner with its dependencies.
func NewScanner(cfg Config, source LogSource, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10000
	}
	return &Scanner{cfg: cfg, source: source, logger: logger}
}

// Scan returns all well-formed Approval events where owner is the granting
// account, ordered as returned by the node (block, then log index).
func (s *Scanner) Scan(ctx context.Context, owner common.Address) ([]model.RawApprovalEvent, error) {
	if s.source == nil {
		return nil, fmt.Errorf("log source is nil")
	}

	approvalTopic, err := erc20.ApprovalTopic()
	if err != nil {
		return nil, fmt.Errorf("approval topic: %w", err)
	}

	to := s.cfg.ToBlock
	if to == 0 {
		latest, err := s.source.LatestBlockNumber(ctx)
		if err != nil {
			metrics.ScanFailuresTotal.Inc()
			return nil, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}
	if to < s.cfg.FromBlock {
		return nil, fmt.Errorf("scan range %d-%d is inverted", s.cfg.FromBlock, to)
	}

	topics := [][]common.Hash{
		{approvalTopic},
		{erc20.TopicFromAddress(owner)},
	}

	// Walk the range in BatchSize windows so a single eth_getLogs never
	// spans more blocks than the node will serve.
	events := make([]model.RawApprovalEvent, 0)
	for start := s.cfg.FromBlock; start <= to; {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + s.cfg.BatchSize - 1
		if end > to || end < start {
			end = to
		}

		logs, err := s.filterLogsWithRetry(ctx, start, end, topics)
		if err != nil {
			metrics.ScanFailuresTotal.Inc()
			return nil, fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}

		for _, log := range logs {
			event, ok := s.buildEvent(log)
			if !ok {
				continue
			}
			events = append(events, event)
		}

		if end == to {
			break
		}
		start = end + 1
	}

	if s.cfg.WithTimestamps {
		if err := s.enrichTimestamps(ctx, events); err != nil {
			metrics.ScanFailuresTotal.Inc()
			return nil, err
		}
	}

	metrics.ScanLogsTotal.Add(float64(len(events)))
	s.logger.Info("scan complete",
		zap.String("owner", owner.Hex()),
		zap.Uint64("from", s.cfg.FromBlock),
		zap.Uint64("to", to),
		zap.Int("events", len(events)),
	)

	return events, nil
}

func (s *Scanner) buildEvent(log types.Log) (model.RawApprovalEvent, bool) {
	if log.Removed {
		metrics.LogsDiscardedTotal.WithLabelValues("removed").Inc()
		return model.RawApprovalEvent{}, false
	}
	// Approval(address,address,uint256) for ERC20 indexes owner and spender
	// only. The ERC721 event shares the signature but also indexes the token
	// id, so any other topic count is a different event shape.
	if len(log.Topics) != 3 {
		metrics.LogsDiscardedTotal.WithLabelValues("topic_shape").Inc()
		s.logger.Debug("skip non-erc20 approval shape",
			zap.String("address", log.Address.Hex()),
			zap.Int("topics", len(log.Topics)),
		)
		return model.RawApprovalEvent{}, false
	}
	if len(log.Data) != 32 {
		metrics.LogsDiscardedTotal.WithLabelValues("data_shape").Inc()
		return model.RawApprovalEvent{}, false
	}

	return model.RawApprovalEvent{
		TokenAddress:   log.Address.Hex(),
		OwnerAddress:   erc20.AddressFromTopic(log.Topics[1]).Hex(),
		SpenderAddress: erc20.AddressFromTopic(log.Topics[2]).Hex(),
		Value:          new(big.Int).SetBytes(log.Data).String(),
		BlockNumber:    log.BlockNumber,
		BlockHash:      log.BlockHash.Hex(),
		LogIndex:       uint64(log.Index),
		TxHash:         log.TxHash.Hex(),
	}, true
}

// enrichTimestamps resolves one timestamp per distinct block hash and assigns
// it to every event in that block.
func (s *Scanner) enrichTimestamps(ctx context.Context, events []model.RawApprovalEvent) error {
	byHash := make(map[string]uint64)
	for i := range events {
		hash := events[i].BlockHash
		ts, ok := byHash[hash]
		if !ok {
			var err error
			ts, err = s.blockTimestampWithRetry(ctx, common.HexToHash(hash))
			if err != nil {
				return fmt.Errorf("block timestamp %s: %w", hash, err)
			}
			byHash[hash] = ts
		}
		events[i].Timestamp = ts
	}
	return nil
}

func (s *Scanner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := s.retry(ctx, "filter_logs", func(ctx context.Context) error {
		var err error
		logs, err = s.source.FilterLogs(ctx, fromBlock, toBlock, topics)
		return err
	})
	return logs, err
}

func (s *Scanner) blockTimestampWithRetry(ctx context.Context, blockHash common.Hash) (uint64, error) {
	var ts uint64
	err := s.retry(ctx, "block_timestamp", func(ctx context.Context) error {
		var err error
		ts, err = s.source.BlockTimestamp(ctx, blockHash)
		return err
	})
	return ts, err
}
