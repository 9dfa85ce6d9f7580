// Package sweeper expires pending approval requests whose deadline passed.
//
// A pass lists overdue requests in batches and hands each one to the ledger,
// which re-checks the request under its row lock. A request resolved between
// the listing and the expiry is counted as skipped.
//
// Import Path: tollgate.io/tollgate/internal/governance/sweeper
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/pkg/metrics"
)

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 100

// Expirer performs the guarded pending → expired transition.
type Expirer interface {
	Expire(ctx context.Context, requestID string, now time.Time) (bool, error)
}

// OverdueLister lists pending requests whose deadline is at or before now.
type OverdueLister interface {
	ListOverdueRequests(ctx context.Context, now time.Time, limit int) ([]*domain.ApprovalRequest, error)
}

// Result summarises one sweep pass.
type Result struct {
	Scanned int
	Expired int
	Skipped int
}

// Sweeper is the Expiration Sweeper.
type Sweeper struct {
	ledger    Expirer
	lister    OverdueLister
	batchSize int
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize sets how many requests one listing returns.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper.
func New(ledger Expirer, lister OverdueLister, opts ...Option) *Sweeper {
	s := &Sweeper{
		ledger:    ledger,
		lister:    lister,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass. Per-request failures do not stop the pass; they are
// joined into the returned error alongside the partial Result.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)
	now := s.now().UTC()
	seen := make(map[string]struct{})
	failed := 0

	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		// Requests that failed to expire are still pending and come back in
		// every listing; widen the window past them.
		limit := s.batchSize + failed
		batch, err := s.lister.ListOverdueRequests(ctx, now, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("list overdue requests: %w", err))
			break
		}

		progressed := false
		for _, req := range batch {
			if _, ok := seen[req.ID]; ok {
				continue
			}
			seen[req.ID] = struct{}{}
			progressed = true
			res.Scanned++

			ok, err := s.ledger.Expire(ctx, req.ID, now)
			switch {
			case err != nil:
				failed++
				errs = append(errs, fmt.Errorf("expire request %s: %w", req.ID, err))
			case ok:
				res.Expired++
			default:
				res.Skipped++
			}
		}

		if len(batch) < limit || !progressed {
			break
		}
	}

	err := errors.Join(errs...)
	metrics.RecordSweep(res.Expired, err)
	if err != nil {
		logger.Warn("Sweep pass finished with errors",
			zap.Int("scanned", res.Scanned),
			zap.Int("expired", res.Expired),
			zap.Int("skipped", res.Skipped),
			zap.Error(err),
		)
		return res, err
	}
	if res.Scanned > 0 {
		logger.Info("Sweep pass finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("expired", res.Expired),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	logger.Info("Sweeper started", zap.Duration("interval", interval), zap.Int("batch_size", s.batchSize))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		// Errors are already logged and counted by Sweep.
		_, _ = s.Sweep(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}
