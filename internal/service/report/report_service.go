// Package report handles flood reports submitted from the field. Reports are
// persisted before any network attempt and synced later when that fails. A
// report being posted is claimed so a concurrent sync pass leaves it alone.
package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"floodwatch/internal/client"
	"floodwatch/internal/model"
	"floodwatch/internal/service/queue"
	"floodwatch/internal/service/storage"
	"floodwatch/internal/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Submitter posts a report to the backend
type Submitter interface {
	SubmitReport(ctx context.Context, report model.FloodReport) (*client.Response, error)
}

// SubmitResult tells the caller whether the report reached the backend yet
type SubmitResult struct {
	Success bool              `json:"success"`
	Offline bool              `json:"offline"`
	Report  model.FloodReport `json:"report"`
}

type ReportService struct {
	store     storage.Store
	submitter Submitter
	conn      queue.Connectivity
	validate  *validator.Validate
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	// delivered holds reports the backend accepted whose synced flag could not be stored
	delivered map[string]struct{}
}

func NewReportService(store storage.Store, submitter Submitter, conn queue.Connectivity, logger *zap.Logger) *ReportService {
	return &ReportService{
		store:     store,
		submitter: submitter,
		conn:      conn,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.Named("report"),
		inflight:  make(map[string]struct{}),
		delivered: make(map[string]struct{}),
	}
}

// Submit validates and stores the report, then posts it when online.
// Offline or unreachable backends yield {Success: true, Offline: true} and the
// report waits for the next sync. A backend rejection discards the report.
func (s *ReportService) Submit(ctx context.Context, input model.ReportInput) (SubmitResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return SubmitResult{}, fmt.Errorf("invalid report: %w", err)
	}

	report := model.FloodReport{
		ID:          util.NewID("rpt"),
		ReportInput: input,
		CreatedAt:   time.Now(),
	}
	s.claim(report.ID)
	defer s.release(report.ID)

	if err := s.save(ctx, report); err != nil {
		return SubmitResult{}, err
	}

	if s.conn != nil && !s.conn.Online() {
		s.logger.Info("Report stored for later sync", zap.String("id", report.ID))
		return SubmitResult{Success: true, Offline: true, Report: report}, nil
	}

	_, err := s.submitter.SubmitReport(ctx, report)
	switch {
	case err == nil:
		if err := s.markSynced(ctx, &report); err != nil {
			s.logger.Warn("Report delivered but not marked synced", zap.String("id", report.ID), zap.Error(err))
		}
		return SubmitResult{Success: true, Report: report}, nil
	case queue.Unreachable(err):
		s.logger.Info("Backend unreachable, report stored for later sync", zap.String("id", report.ID))
		return SubmitResult{Success: true, Offline: true, Report: report}, nil
	default:
		if rmErr := s.store.Remove(ctx, model.PartitionFloodReports, report.ID); rmErr != nil {
			return SubmitResult{}, errors.Join(err, rmErr)
		}
		return SubmitResult{}, err
	}
}

// List returns stored reports, optionally only the unsynced ones
func (s *ReportService) List(ctx context.Context, unsyncedOnly bool) ([]model.FloodReport, error) {
	var filter *storage.IndexFilter
	if unsyncedOnly {
		filter = storage.By(model.IndexSynced, "false")
	}
	return storage.ListJSON[model.FloodReport](ctx, s.store, model.PartitionFloodReports, filter)
}

// SyncUnsynced posts every report with synced=false and marks the accepted
// ones synced. Rejected reports stay unsynced with their last error. Reports
// being posted by Submit are skipped. The returned error only reports store
// failures; a report the backend accepted is never posted again because its
// synced flag failed to persist.
func (s *ReportService) SyncUnsynced(ctx context.Context) (model.SyncSummary, error) {
	unsynced, err := s.List(ctx, true)
	if err != nil {
		return model.SyncSummary{}, fmt.Errorf("failed to list unsynced reports: %w", err)
	}

	claimed := make([]model.FloodReport, 0, len(unsynced))
	for _, report := range unsynced {
		if s.claim(report.ID) {
			claimed = append(claimed, report)
		}
	}
	if len(claimed) == 0 {
		return model.SyncSummary{}, nil
	}

	var (
		mu      sync.Mutex
		summary = model.SyncSummary{Total: len(claimed)}
		g       errgroup.Group
	)
	g.SetLimit(4)
	for _, report := range claimed {
		g.Go(func() error {
			defer s.release(report.ID)

			var sendErr error
			if !s.wasDelivered(report.ID) {
				_, sendErr = s.submitter.SubmitReport(ctx, report)
			}
			mu.Lock()
			if sendErr == nil {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			mu.Unlock()

			if sendErr == nil {
				return s.markSynced(ctx, &report)
			}
			s.logger.Debug("Report sync failed", zap.String("id", report.ID), zap.Error(sendErr))
			report.LastError = sendErr.Error()
			return s.save(ctx, report)
		})
	}
	err = g.Wait()

	s.logger.Info("Report sync finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, err
}

// markSynced persists an accepted report as synced. When that fails the
// report is remembered as delivered so later passes only retry the store.
func (s *ReportService) markSynced(ctx context.Context, report *model.FloodReport) error {
	now := time.Now()
	report.Synced = true
	report.SyncedAt = &now
	report.LastError = ""
	err := s.save(ctx, *report)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.delivered[report.ID] = struct{}{}
		return err
	}
	delete(s.delivered, report.ID)
	return nil
}

func (s *ReportService) wasDelivered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.delivered[id]
	return ok
}

// claim marks a report as being posted and reports whether it was free
func (s *ReportService) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *ReportService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *ReportService) save(ctx context.Context, report model.FloodReport) error {
	index := map[string]string{model.IndexSynced: strconv.FormatBool(report.Synced)}
	if err := storage.PutJSON(ctx, s.store, model.PartitionFloodReports, report.ID, report, index, 0); err != nil {
		return fmt.Errorf("failed to persist report %s: %w", report.ID, err)
	}
	return nil
}
