package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sufragio-api/internal/dto"
	"github.com/noah-isme/sufragio-api/internal/models"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
	"github.com/noah-isme/sufragio-api/pkg/middleware/requestid"
)

// Operation names reported to metrics.
const (
	OpCreate     = "create"
	OpCheckIn    = "check_in"
	OpCastBallot = "cast_ballot"
	OpGet        = "get"
	OpHistory    = "history"
	OpVerify     = "verify_history"
	OpExport     = "export_history"
)

type sufragioStore interface {
	CountByNationalID(ctx context.Context, txn ledger.Txn, nationalID string) (int, error)
	Insert(ctx context.Context, txn ledger.Txn, record *models.VotingRecord) (string, error)
	AssignRecordID(ctx context.Context, txn ledger.Txn, nationalID, recordID string) (int, error)
	FindByRecordID(ctx context.Context, txn ledger.Txn, recordID string) (*models.VotingRecord, error)
	UpdateState(ctx context.Context, txn ledger.Txn, recordID string, state models.State, events []models.Event) (int, error)
}

type operationRecorder interface {
	RecordOperation(operation string, err error)
}

// SufragioOptions tunes the lifecycle engine.
type SufragioOptions struct {
	// StrictTransitions rejects advances that skip or revisit a state.
	StrictTransitions bool
	Now               func() time.Time
}

// SufragioService drives voting records through their lifecycle. Every operation runs in
// exactly one ledger transaction.
type SufragioService struct {
	ledger    ledger.Driver
	repo      sufragioStore
	validator *validator.Validate
	metrics   operationRecorder
	strict    bool
	now       func() time.Time
	logger    *zap.Logger
}

// NewSufragioService constructs the lifecycle engine.
func NewSufragioService(
	driver ledger.Driver,
	repo sufragioStore,
	validate *validator.Validate,
	metrics operationRecorder,
	opts SufragioOptions,
	logger *zap.Logger,
) *SufragioService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SufragioService{
		ledger:    driver,
		repo:      repo,
		validator: validate,
		metrics:   metrics,
		strict:    opts.StrictTransitions,
		now:       now,
		logger:    logger,
	}
}

// Create registers a voter. It fails with ErrDuplicateRecord when a record already exists
// for the national id.
func (s *SufragioService) Create(ctx context.Context, req dto.CreateSufragioRequest, creatorID string) (record *models.VotingRecord, err error) {
	defer func() { s.record(OpCreate, err) }()

	req = normalizeCreate(req)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation, validationDetail("invalid voting record payload", err))
	}
	initial := models.NewEvent(models.EventVotingCenterEntry, s.now())

	err = s.ledger.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		count, err := s.repo.CountByNationalID(ctx, txn, req.NationalID)
		if err != nil {
			return err
		}
		if count > 0 {
			return appErrors.Clone(appErrors.ErrDuplicateRecord, fmt.Sprintf("a voting record already exists for nationalId %s", req.NationalID))
		}

		doc := &models.VotingRecord{
			NationalID:   req.NationalID,
			Name:         req.Name,
			VotingCenter: req.VotingCenter,
			Department:   req.Department,
			Municipality: req.Municipality,
			Sex:          req.Sex,
			State:        models.StateRegistered,
			CreatorID:    creatorID,
			Events:       []models.Event{initial},
		}
		id, err := s.repo.Insert(ctx, txn, doc)
		if err != nil {
			return err
		}
		n, err := s.repo.AssignRecordID(ctx, txn, req.NationalID, id)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("stamp recordId %s: %d documents matched nationalId", id, n)
		}
		doc.RecordID = id
		record = doc
		return nil
	})
	if err != nil {
		return nil, s.translate(ctx, err, "failed to create voting record")
	}

	requestLogger(ctx, s.logger).Info("voting record created",
		zap.String("record_id", record.RecordID),
		zap.String("voting_center", record.VotingCenter),
		zap.String("creator_id", creatorID),
	)
	return record, nil
}

// Advance moves a record to target, replacing its events with event.
func (s *SufragioService) Advance(ctx context.Context, recordID string, target models.State, event models.Event) (*models.Transition, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recordId is required")
	}
	if !target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown target state %d", int(target)))
	}

	var from models.State
	err := s.ledger.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		current, err := s.repo.FindByRecordID(ctx, txn, recordID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(recordID)
			}
			return err
		}
		from = current.State
		if s.strict && !current.State.CanAdvanceTo(target) {
			return appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("voting record %s cannot move from %s to %s", recordID, current.State, target))
		}
		n, err := s.repo.UpdateState(ctx, txn, recordID, target, []models.Event{event})
		if err != nil {
			return err
		}
		if n == 0 {
			return notFound(recordID)
		}
		return nil
	})
	if err != nil {
		return nil, s.translate(ctx, err, fmt.Sprintf("failed to move voting record to %s", target))
	}

	requestLogger(ctx, s.logger).Info("voting record advanced",
		zap.String("record_id", recordID),
		zap.Stringer("from", from),
		zap.Stringer("to", target),
		zap.String("event", event.Name),
	)
	return &models.Transition{RecordID: recordID, State: target}, nil
}

// CheckIn verifies the voter at the receiving table.
func (s *SufragioService) CheckIn(ctx context.Context, recordID string) (transition *models.Transition, err error) {
	defer func() { s.record(OpCheckIn, err) }()
	event := models.NewEvent(models.EventReceivingTableVerification, s.now()).WithStatus(models.StateCheckedIn)
	return s.Advance(ctx, recordID, models.StateCheckedIn, event)
}

// CastBallot records that the voter cast ballotID at the booth.
func (s *SufragioService) CastBallot(ctx context.Context, recordID, ballotID string) (transition *models.Transition, err error) {
	defer func() { s.record(OpCastBallot, err) }()
	ballotID = strings.TrimSpace(ballotID)
	if ballotID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ballotId is required")
	}
	event := models.NewEvent(models.EventBallotCast, s.now()).WithStatus(models.StateBallotCast)
	event.BallotID = ballotID
	return s.Advance(ctx, recordID, models.StateBallotCast, event)
}

// Get returns the current state of a record.
func (s *SufragioService) Get(ctx context.Context, recordID string) (record *models.VotingRecord, err error) {
	defer func() { s.record(OpGet, err) }()
	err = s.ledger.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		found, err := s.repo.FindByRecordID(ctx, txn, recordID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(recordID)
			}
			return err
		}
		record = found
		return nil
	})
	if err != nil {
		return nil, s.translate(ctx, err, "failed to load voting record")
	}
	return record, nil
}

func (s *SufragioService) record(operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(operation, err)
	}
}

// translate keeps typed domain errors and classifies everything else.
func (s *SufragioService) translate(ctx context.Context, err error, detail string) error {
	return classifyLedgerError(requestLogger(ctx, s.logger), err, detail)
}

// requestLogger tags logger with the request id carried by ctx, if any.
func requestLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id := requestid.FromContext(ctx); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}

func classifyLedgerError(logger *zap.Logger, err error, detail string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, ledger.ErrConflict):
		logger.Warn("ledger conflict exhausted retries", zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrTransactionConflict, detail)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Warn("ledger transaction interrupted", zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrUnavailable, detail)
	default:
		logger.Error(detail, zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal, detail)
	}
}

func notFound(recordID string) error {
	return appErrors.Clone(appErrors.ErrRecordNotFound, fmt.Sprintf("no voting record with recordId %s", recordID))
}

func normalizeCreate(req dto.CreateSufragioRequest) dto.CreateSufragioRequest {
	req.NationalID = strings.TrimSpace(req.NationalID)
	req.Name = strings.TrimSpace(req.Name)
	req.VotingCenter = strings.TrimSpace(req.VotingCenter)
	req.Department = strings.TrimSpace(req.Department)
	req.Municipality = strings.TrimSpace(req.Municipality)
	req.Sex = strings.ToUpper(strings.TrimSpace(req.Sex))
	return req
}

func validationDetail(prefix string, err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return prefix
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Sprintf("%s: %s", prefix, strings.Join(parts, ", "))
}
