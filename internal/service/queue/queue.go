// Package queue persists outbound writes made while offline and replays them
// with a bounded number of attempts.
//
// Replay delivers at least once and in no particular order: every pending
// mutation of a pass is attempted concurrently, and two mutations aimed at
// the same resource are not serialized. Payloads must be safe to apply twice
// and out of order.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"floodwatch/internal/client"
	"floodwatch/internal/metrics"
	"floodwatch/internal/model"
	"floodwatch/internal/service/storage"
	"floodwatch/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFailed      = errors.New("only failed mutations can be retried")
	ErrAlreadyRetried = errors.New("mutation was already retried")
)

// replayConcurrency caps in-flight requests of one pass
const replayConcurrency = 8

// Sender performs one outbound request
type Sender interface {
	Send(ctx context.Context, req client.Request) (*client.Response, error)
}

type Queue struct {
	store      storage.Store
	sender     Sender
	maxRetries int
	logger     *zap.Logger

	replayMu sync.Mutex
}

// New creates a queue; maxRetries <= 0 falls back to 3
func New(store storage.Store, sender Sender, maxRetries int, logger *zap.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Queue{
		store:      store,
		sender:     sender,
		maxRetries: maxRetries,
		logger:     logger.Named("queue"),
	}
}

// Enqueue persists a new pending mutation
func (q *Queue) Enqueue(ctx context.Context, method, target string, payload json.RawMessage, headers map[string]string) (model.QueuedMutation, error) {
	return q.enqueue(ctx, method, target, payload, headers, "")
}

func (q *Queue) enqueue(ctx context.Context, method, target string, payload json.RawMessage, headers map[string]string, retryOf string) (model.QueuedMutation, error) {
	if method == "" || target == "" {
		return model.QueuedMutation{}, errors.New("method and target are required")
	}
	now := time.Now()
	m := model.QueuedMutation{
		ID:         util.NewID("mut"),
		Method:     strings.ToUpper(method),
		Target:     target,
		Payload:    payload,
		Headers:    headers,
		CreatedAt:  now,
		UpdatedAt:  now,
		Status:     model.MutationPending,
		MaxRetries: q.maxRetries,
		RetryOf:    retryOf,
	}
	if err := q.save(ctx, m); err != nil {
		return model.QueuedMutation{}, err
	}
	metrics.MutationTransitions.WithLabelValues(string(model.MutationPending)).Inc()
	q.logger.Debug("Mutation queued",
		zap.String("id", m.ID),
		zap.String("method", m.Method),
		zap.String("target", m.Target))
	return m, nil
}

// Get returns one mutation by id
func (q *Queue) Get(ctx context.Context, id string) (model.QueuedMutation, error) {
	return storage.GetJSON[model.QueuedMutation](ctx, q.store, model.PartitionOfflineRequests, id)
}

// ListPending returns the mutations eligible for the next replay, oldest first
func (q *Queue) ListPending(ctx context.Context) ([]model.QueuedMutation, error) {
	return q.List(ctx, model.MutationPending)
}

// List returns mutations with the given status, or every mutation for an empty status,
// ordered by creation time
func (q *Queue) List(ctx context.Context, status model.MutationStatus) ([]model.QueuedMutation, error) {
	var filter *storage.IndexFilter
	if status != "" {
		filter = storage.By(model.IndexStatus, string(status))
	}
	out, err := storage.ListJSON[model.QueuedMutation](ctx, q.store, model.PartitionOfflineRequests, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PendingCount backs the offline indicator
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	pending, err := q.ListPending(ctx)
	return len(pending), err
}

// AwaitingRetry counts failed mutations that have not been retried manually
func (q *Queue) AwaitingRetry(ctx context.Context) (int, error) {
	failed, err := q.List(ctx, model.MutationFailed)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range failed {
		if m.RetriedAs == "" {
			n++
		}
	}
	return n, nil
}

// ReplayAll attempts every pending mutation once, concurrently. Passes are
// serialized; a pass never picks up mutations that are syncing, completed or
// failed. Per-mutation failures are counted in the summary, the returned
// error only reports store failures.
func (q *Queue) ReplayAll(ctx context.Context) (model.SyncSummary, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	pending, err := q.ListPending(ctx)
	if err != nil {
		return model.SyncSummary{}, fmt.Errorf("failed to list pending mutations: %w", err)
	}
	if len(pending) == 0 {
		return model.SyncSummary{}, nil
	}
	q.logger.Info("Replaying queued mutations", zap.Int("pending", len(pending)))

	var (
		mu      sync.Mutex
		summary = model.SyncSummary{Total: len(pending)}
		g       errgroup.Group
	)
	g.SetLimit(replayConcurrency)
	for _, m := range pending {
		g.Go(func() error {
			outcome, err := q.replay(ctx, m)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case model.MutationCompleted:
				summary.Succeeded++
			case model.MutationFailed:
				summary.Failed++
				summary.Exhausted++
			default:
				summary.Failed++
			}
			return err
		})
	}
	err = g.Wait()

	q.logger.Info("Replay finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("exhausted", summary.Exhausted))
	return summary, err
}

// replay runs one mutation through pending -> syncing -> completed|pending|failed
// and returns the status it ended in
func (q *Queue) replay(ctx context.Context, m model.QueuedMutation) (model.MutationStatus, error) {
	if err := q.transition(ctx, &m, model.MutationSyncing); err != nil {
		return model.MutationPending, err
	}

	resp, sendErr := q.sender.Send(ctx, client.Request{
		Method:  m.Method,
		Target:  m.Target,
		Body:    m.Payload,
		Headers: m.Headers,
	})

	if sendErr == nil {
		m.LastError = ""
		m.Response = &model.ResponseMeta{CompletedAt: time.Now()}
		if resp != nil {
			m.Response.Status, m.Response.Data = resp.Status, resp.Data
		}
		return model.MutationCompleted, q.transition(ctx, &m, model.MutationCompleted)
	}

	m.RetryCount++
	m.LastError = sendErr.Error()
	if m.RetryCount < m.MaxRetries {
		q.logger.Debug("Mutation replay failed, will retry",
			zap.String("id", m.ID),
			zap.Int("attempt", m.RetryCount),
			zap.Error(sendErr))
		return model.MutationPending, q.transition(ctx, &m, model.MutationPending)
	}

	syncErr := &model.SyncError{
		Kind:       model.ErrMaxRetriesExceeded,
		MutationID: m.ID,
		Attempts:   m.RetryCount,
		Err:        sendErr,
	}
	m.LastError = syncErr.Error()
	q.logger.Info("Mutation failed permanently",
		zap.String("id", m.ID),
		zap.String("target", m.Target),
		zap.Error(syncErr))
	return model.MutationFailed, q.transition(ctx, &m, model.MutationFailed)
}

func (q *Queue) transition(ctx context.Context, m *model.QueuedMutation, status model.MutationStatus) error {
	m.Status = status
	m.UpdatedAt = time.Now()
	if err := q.save(ctx, *m); err != nil {
		return err
	}
	metrics.MutationTransitions.WithLabelValues(string(status)).Inc()
	return nil
}

// Retry re-enqueues a failed mutation as a new pending one. The original stays
// failed and only gains a RetriedAs annotation.
func (q *Queue) Retry(ctx context.Context, id string) (model.QueuedMutation, error) {
	orig, err := q.Get(ctx, id)
	if err != nil {
		return model.QueuedMutation{}, err
	}
	if orig.Status != model.MutationFailed {
		return model.QueuedMutation{}, fmt.Errorf("%w: %s is %s", ErrNotFailed, id, orig.Status)
	}
	if orig.RetriedAs != "" {
		return model.QueuedMutation{}, fmt.Errorf("%w as %s", ErrAlreadyRetried, orig.RetriedAs)
	}

	retry, err := q.enqueue(ctx, orig.Method, orig.Target, orig.Payload, orig.Headers, orig.ID)
	if err != nil {
		return model.QueuedMutation{}, err
	}
	orig.RetriedAs = retry.ID
	orig.UpdatedAt = time.Now()
	if err := q.save(ctx, orig); err != nil {
		return model.QueuedMutation{}, err
	}
	q.logger.Info("Failed mutation re-enqueued", zap.String("id", orig.ID), zap.String("retry", retry.ID))
	return retry, nil
}

// Recover returns mutations left in syncing by an interrupted pass to pending.
// Must not run concurrently with ReplayAll.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	stuck, err := q.List(ctx, model.MutationSyncing)
	if err != nil {
		return 0, err
	}
	for _, m := range stuck {
		if err := q.transition(ctx, &m, model.MutationPending); err != nil {
			return 0, err
		}
	}
	if len(stuck) > 0 {
		q.logger.Info("Recovered interrupted mutations", zap.Int("count", len(stuck)))
	}
	return len(stuck), nil
}

// Prune removes completed mutations last updated more than retention ago.
// Failed mutations are never pruned. A non-positive retention keeps everything.
func (q *Queue) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	completed, err := q.List(ctx, model.MutationCompleted)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, m := range completed {
		if m.UpdatedAt.After(cutoff) {
			continue
		}
		if err := q.store.Remove(ctx, model.PartitionOfflineRequests, m.ID); err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", m.ID, err)
		}
		removed++
	}
	if removed > 0 {
		q.logger.Info("Pruned completed mutations", zap.Int("removed", removed))
	}
	return removed, nil
}

func (q *Queue) save(ctx context.Context, m model.QueuedMutation) error {
	index := map[string]string{model.IndexStatus: string(m.Status)}
	if err := storage.PutJSON(ctx, q.store, model.PartitionOfflineRequests, m.ID, m, index, 0); err != nil {
		return fmt.Errorf("failed to persist mutation %s: %w", m.ID, err)
	}
	return nil
}
