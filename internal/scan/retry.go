package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"approvalScope/internal/metrics"
)

// retry runs a chain read up to MaxRetries+1 times with doubling backoff.
// Each retry is logged under the operation name and counted, so flaky RPC
// endpoints are visible to operators without failing the scan.
func (s *Scanner) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := s.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	retries := s.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= retries {
			return err
		}

		metrics.ScanRetriesTotal.WithLabelValues(op).Inc()
		s.logger.Warn("chain read failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
