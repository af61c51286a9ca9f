package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sufragio-api/internal/models"
	"github.com/noah-isme/sufragio-api/internal/repository"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
	"github.com/noah-isme/sufragio-api/pkg/jobs"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

const projectionJobType = "journal.revision"

// ErrOutOfOrder is returned when a revision arrives before its predecessor in ordered mode.
var ErrOutOfOrder = errors.New("projection: revision out of order")

type projectionStore interface {
	Apply(ctx context.Context, view models.ProjectedRecord, decide repository.ProjectionDecider) (bool, error)
	Get(ctx context.Context, documentID string) (*models.ProjectedRecord, error)
	Revisions(ctx context.Context, documentID string) ([]models.ProjectedRecord, error)
}

type projectionRecorder interface {
	RecordProjection(applied bool)
}

// ProjectionOptions configures the journal projection.
type ProjectionOptions struct {
	Table       string
	Ordered     bool
	KeepHistory bool
	Workers     int
	Retries     int
	RetryDelay  time.Duration
}

// ProjectionService maintains an eventually consistent read model of voting records from
// the revisions the ledger commits.
type ProjectionService struct {
	store       projectionStore
	queue       *jobs.Queue
	table       string
	ordered     bool
	keepHistory bool
	metrics     projectionRecorder
	logger      *zap.Logger
}

// NewProjectionService wires the projection worker pool.
func NewProjectionService(store projectionStore, opts ProjectionOptions, metrics projectionRecorder, logger *zap.Logger) *ProjectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ProjectionService{
		store:       store,
		table:       opts.Table,
		ordered:     opts.Ordered,
		keepHistory: opts.KeepHistory,
		metrics:     metrics,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("projection", s.handle, jobs.QueueConfig{
		Workers:    opts.Workers,
		MaxRetries: opts.Retries,
		RetryDelay: opts.RetryDelay,
		Logger:     logger,
		OnDrop:     s.dropped,
	})
	return s
}

// Start launches the workers.
func (s *ProjectionService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Run launches the workers and blocks until ctx is cancelled.
func (s *ProjectionService) Run(ctx context.Context) error {
	return s.queue.Run(ctx)
}

// Stop halts the workers.
func (s *ProjectionService) Stop() {
	s.queue.Stop()
}

// Pending reports how many revisions are waiting for a worker.
func (s *ProjectionService) Pending() int {
	return s.queue.Pending()
}

// Publish is the ledger commit hook. It never blocks the committing request: revisions
// that do not fit in the buffer are logged and left for a later rebuild.
func (s *ProjectionService) Publish(_ context.Context, revisions []ledger.Revision) {
	for _, rev := range revisions {
		if s.table != "" && rev.Table != s.table {
			continue
		}
		job := jobs.Job{
			ID:      fmt.Sprintf("%s/%d", rev.Metadata.ID, rev.Metadata.Version),
			Type:    projectionJobType,
			Payload: rev,
		}
		if err := s.queue.TryEnqueue(job); err != nil {
			s.logger.Error("projection enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

// Apply projects one revision and reports whether it changed the read model.
func (s *ProjectionService) Apply(ctx context.Context, rev ledger.Revision) (bool, error) {
	view := models.ProjectedRecord{
		DocumentID: rev.Metadata.ID,
		Version:    rev.Metadata.Version,
		TxID:       rev.Metadata.TxID,
		TxTime:     rev.Metadata.TxTime,
		Hash:       rev.Hash,
	}
	if err := (ledger.Document{ID: rev.Metadata.ID, Data: rev.Data}).Decode(&view.Record); err != nil {
		return false, jobs.Permanent(err)
	}
	applied, err := s.store.Apply(ctx, view, ProjectionDecision(s.ordered))
	if err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordProjection(applied)
	}
	return applied, nil
}

// Get returns the projected view of a record.
func (s *ProjectionService) Get(ctx context.Context, recordID string) (*models.ProjectedRecord, error) {
	view, err := s.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrRecordNotFound, fmt.Sprintf("no projected voting record with recordId %s", recordID))
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable, "projection store unavailable")
	}
	return view, nil
}

// Revisions returns every projected view of a record, oldest first. It requires the
// projection to keep history.
func (s *ProjectionService) Revisions(ctx context.Context, recordID string) ([]models.ProjectedRecord, error) {
	if !s.keepHistory {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "projection history is disabled")
	}
	views, err := s.store.Revisions(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable, "projection store unavailable")
	}
	if len(views) == 0 {
		return nil, appErrors.Clone(appErrors.ErrRecordNotFound, fmt.Sprintf("no projected voting record with recordId %s", recordID))
	}
	return views, nil
}

func (s *ProjectionService) handle(ctx context.Context, job jobs.Job) error {
	rev, ok := job.Payload.(ledger.Revision)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
	}
	applied, err := s.Apply(ctx, rev)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Debug("projection skipped stale revision", zap.String("job_id", job.ID))
	}
	return nil
}

func (s *ProjectionService) dropped(job jobs.Job, err error) {
	s.logger.Error("projection dropped revision", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
}

// ProjectionDecision returns the apply rule for a projection. Revisions at or below the
// last projected version are skipped. In ordered mode a revision must be exactly the next
// version, otherwise ErrOutOfOrder is returned so the caller can retry later.
func ProjectionDecision(ordered bool) repository.ProjectionDecider {
	return func(last int64, found bool, next int64) (bool, error) {
		if !found {
			if ordered && next != 0 {
				return false, fmt.Errorf("%w: expected version 0, got %d", ErrOutOfOrder, next)
			}
			return true, nil
		}
		if next <= last {
			return false, nil
		}
		if next == last+1 || !ordered {
			return true, nil
		}
		return false, fmt.Errorf("%w: expected version %d, got %d", ErrOutOfOrder, last+1, next)
	}
}
