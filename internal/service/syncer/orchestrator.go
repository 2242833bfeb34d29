// Package syncer drains the offline mutation queue and unsynced domain records
// in a single-flight sync pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"floodwatch/internal/event"
	"floodwatch/internal/metrics"
	"floodwatch/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MutationReplayer replays the offline mutation queue
type MutationReplayer interface {
	ReplayAll(ctx context.Context) (model.SyncSummary, error)
}

// RetryBacklog is implemented by replayers that keep permanently failed
// mutations around for a manual retry
type RetryBacklog interface {
	AwaitingRetry(ctx context.Context) (int, error)
}

// RecordSyncer pushes one kind of unsynced record, e.g. flood reports
type RecordSyncer interface {
	SyncUnsynced(ctx context.Context) (model.SyncSummary, error)
}

// RecordSync names a RecordSyncer for results and logs
type RecordSync struct {
	Name   string
	Syncer RecordSyncer
}

// Result is the outcome of one pass, also raised through OnComplete
type Result struct {
	Mutations model.SyncSummary            `json:"mutations"`
	Records   map[string]model.SyncSummary `json:"records"`
	Status    model.SyncStatus             `json:"status"`
}

// Orchestrator is the only writer of the process-wide SyncStatus
type Orchestrator struct {
	queue   MutationReplayer
	records []RecordSync
	logger  *zap.Logger

	running atomic.Bool

	mu     sync.RWMutex
	status model.SyncStatus

	OnComplete event.Observers[Result]
}

func New(queue MutationReplayer, logger *zap.Logger, records ...RecordSync) *Orchestrator {
	return &Orchestrator{queue: queue, records: records, logger: logger.Named("sync")}
}

// Status returns a snapshot of the sync status
func (o *Orchestrator) Status() model.SyncStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Sync runs one pass: the queue replay and every record syncer concurrently.
// A call made while a pass is running is rejected with model.ErrAlreadySyncing.
// Item failures never fail the call; hard failures and permanently failed
// mutations end up in Status().Error, which stays set while failed mutations
// wait for a manual retry.
func (o *Orchestrator) Sync(ctx context.Context) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		metrics.SyncPasses.WithLabelValues("rejected").Inc()
		return Result{}, model.ErrAlreadySyncing
	}
	defer o.running.Store(false)

	started := time.Now()
	o.mu.Lock()
	o.status.Syncing = true
	o.mu.Unlock()
	o.logger.Info("Sync started")

	var (
		mu     sync.Mutex
		result = Result{Records: make(map[string]model.SyncSummary, len(o.records))}
		errs   []error
		g      errgroup.Group
	)
	if o.queue != nil {
		g.Go(func() error {
			summary, err := o.queue.ReplayAll(ctx)
			mu.Lock()
			defer mu.Unlock()
			result.Mutations = summary
			if err != nil {
				errs = append(errs, fmt.Errorf("mutation replay: %w", err))
			}
			return nil
		})
	}
	for _, rs := range o.records {
		g.Go(func() error {
			summary, err := rs.Syncer.SyncUnsynced(ctx)
			mu.Lock()
			defer mu.Unlock()
			result.Records[rs.Name] = summary
			if err != nil {
				errs = append(errs, fmt.Errorf("%s sync: %w", rs.Name, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := result.Mutations.Exhausted
	if backlog, ok := o.queue.(RetryBacklog); ok {
		n, err := backlog.AwaitingRetry(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed mutation count: %w", err))
		} else {
			failed = n
		}
	}
	if failed > 0 {
		errs = append(errs, fmt.Errorf("%w: %d queued mutation(s) failed permanently", model.ErrMaxRetriesExceeded, failed))
	}

	status := model.SyncStatus{LastSyncTime: time.Now()}
	if err := errors.Join(errs...); err != nil {
		status.Error = err.Error()
	}
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
	result.Status = status

	outcome := "ok"
	if status.Error != "" {
		outcome = "error"
	}
	metrics.SyncPasses.WithLabelValues(outcome).Inc()
	metrics.SyncDuration.Observe(time.Since(started).Seconds())

	fields := []zap.Field{
		zap.Int("mutations", result.Mutations.Total),
		zap.Int("succeeded", result.Mutations.Succeeded),
		zap.Int("failed", result.Mutations.Failed),
		zap.Duration("took", time.Since(started)),
	}
	for name, s := range result.Records {
		fields = append(fields, zap.Any(name, s))
	}
	if status.Error != "" {
		o.logger.Warn("Sync finished with errors", append(fields, zap.String("error", status.Error))...)
	} else {
		o.logger.Info("Sync finished", fields...)
	}

	o.OnComplete.Emit(result)
	return result, nil
}
