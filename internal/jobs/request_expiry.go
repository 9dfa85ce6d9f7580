// Package jobs defines River Queue job types for background processing.
//
// Only used with the postgres driver; the sqlite build runs the same sweep
// on an in-process ticker.
//
// Import Path: tollgate.io/tollgate/internal/jobs
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/governance/sweeper"
	"tollgate.io/tollgate/internal/pkg/logger"
)

// RequestExpiryArgs is the periodic sweep that expires overdue approval
// requests. It carries no payload: each run scans the ledger.
type RequestExpiryArgs struct{}

// Kind returns the job kind identifier for request expiry.
func (RequestExpiryArgs) Kind() string { return "request_expiry" }

// InsertOpts runs each sweep at most once; a failed pass is retried by the
// next period rather than by River.
func (RequestExpiryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
	}
}

// Sweeper runs one expiry pass.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
}

// RequestExpiryWorker runs a sweeper pass per job.
type RequestExpiryWorker struct {
	river.WorkerDefaults[RequestExpiryArgs]
	sweeper Sweeper
	timeout time.Duration
}

// NewRequestExpiryWorker creates the worker. A pass is bounded by timeout;
// non-positive means River's default job timeout.
func NewRequestExpiryWorker(s Sweeper, timeout time.Duration) *RequestExpiryWorker {
	return &RequestExpiryWorker{sweeper: s, timeout: timeout}
}

// Timeout implements river.Worker.
func (w *RequestExpiryWorker) Timeout(*river.Job[RequestExpiryArgs]) time.Duration {
	return w.timeout
}

// Work runs the sweep.
func (w *RequestExpiryWorker) Work(ctx context.Context, job *river.Job[RequestExpiryArgs]) error {
	if w == nil || w.sweeper == nil {
		return fmt.Errorf("request expiry worker is not initialized")
	}

	res, err := w.sweeper.Sweep(ctx)
	fields := []zap.Field{
		zap.Int("scanned", res.Scanned),
		zap.Int("expired", res.Expired),
		zap.Int("skipped", res.Skipped),
	}
	if job != nil {
		fields = append(fields, zap.Int64("job_id", job.ID))
	}
	if err != nil {
		return fmt.Errorf("request expiry sweep: %w", err)
	}
	logger.Debug("request expiry job completed", fields...)
	return nil
}

// RequestExpiryPeriodicJob schedules the sweep every interval. Insertion is
// unique per interval so several replicas do not stack duplicate passes.
func RequestExpiryPeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			opts := RequestExpiryArgs{}.InsertOpts()
			opts.UniqueOpts = river.UniqueOpts{ByPeriod: interval, ByQueue: true, ByArgs: true}
			return RequestExpiryArgs{}, &opts
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// RegisterWorkers adds every worker of this package to workers.
func RegisterWorkers(workers *river.Workers, s Sweeper, sweepTimeout time.Duration) {
	river.AddWorker(workers, NewRequestExpiryWorker(s, sweepTimeout))
}
