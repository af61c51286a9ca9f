package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sufragio-api/internal/models"
	"github.com/noah-isme/sufragio-api/internal/repository"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
	"github.com/noah-isme/sufragio-api/pkg/export"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

type historyStore interface {
	History(ctx context.Context, txn ledger.Txn, recordID string) ([]ledger.Revision, error)
}

var historyHeaders = []string{"version", "txId", "txTime", "state", "events", "ballotId", "hash"}

// HistoryService reconstructs the timeline of a voting record from the ledger journal.
type HistoryService struct {
	ledger   ledger.Driver
	repo     historyStore
	metrics  operationRecorder
	pdfTitle string
	logger   *zap.Logger
}

// NewHistoryService constructs the history reconstructor.
func NewHistoryService(driver ledger.Driver, repo historyStore, metrics operationRecorder, pdfTitle string, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdfTitle == "" {
		pdfTitle = "Voting record history"
	}
	return &HistoryService{ledger: driver, repo: repo, metrics: metrics, pdfTitle: pdfTitle, logger: logger}
}

// History returns every revision of the record in the order the journal yields them.
func (s *HistoryService) History(ctx context.Context, recordID string) (revisions []models.Revision, err error) {
	defer func() { s.record(OpHistory, err) }()
	raw, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	revisions, err = repository.ToRevisions(raw)
	if err != nil {
		return nil, classifyLedgerError(requestLogger(ctx, s.logger), err, "failed to decode voting record history")
	}
	return revisions, nil
}

// Verify recomputes the hash chain of the record's history. A broken chain is reported in
// the result rather than as an error.
func (s *HistoryService) Verify(ctx context.Context, recordID string) (result *models.HistoryVerification, err error) {
	defer func() { s.record(OpVerify, err) }()
	recordID = strings.TrimSpace(recordID)
	raw, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	result = &models.HistoryVerification{
		RecordID:  recordID,
		Revisions: len(raw),
		Digest:    ledger.Digest(raw),
		Valid:     true,
	}
	if verr := ledger.VerifyChain(raw); verr != nil {
		result.Valid = false
		result.Detail = verr.Error()
		requestLogger(ctx, s.logger).Warn("voting record history failed verification", zap.String("record_id", recordID), zap.Error(verr))
	}
	return result, nil
}

// Export renders the verified history as a CSV or PDF document.
func (s *HistoryService) Export(ctx context.Context, recordID, format string) (out *models.HistoryExport, err error) {
	defer func() { s.record(OpExport, err) }()
	recordID = strings.TrimSpace(recordID)
	renderer, err := export.ForFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("format %q is not supported, use csv or pdf", format))
	}
	raw, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if verr := ledger.VerifyChain(raw); verr != nil {
		return nil, appErrors.Wrap(verr, appErrors.ErrHistoryTampered, fmt.Sprintf("history of %s cannot be exported", recordID))
	}
	revisions, err := repository.ToRevisions(raw)
	if err != nil {
		return nil, classifyLedgerError(requestLogger(ctx, s.logger), err, "failed to decode voting record history")
	}

	body, err := renderer.Render(historyDataset(fmt.Sprintf("%s %s", s.pdfTitle, recordID), revisions))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal, "failed to render history export")
	}
	return &models.HistoryExport{
		Filename:    fmt.Sprintf("sufragio-%s-history.%s", recordID, renderer.Format()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *HistoryService) load(ctx context.Context, recordID string) ([]ledger.Revision, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recordId is required")
	}
	var revisions []ledger.Revision
	err := s.ledger.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		found, err := s.repo.History(ctx, txn, recordID)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return notFound(recordID)
		}
		revisions = found
		return nil
	})
	if err != nil {
		return nil, classifyLedgerError(requestLogger(ctx, s.logger), err, "failed to load voting record history")
	}
	return revisions, nil
}

func (s *HistoryService) record(operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(operation, err)
	}
}

func historyDataset(title string, revisions []models.Revision) export.Dataset {
	rows := make([]map[string]string, 0, len(revisions))
	for _, rev := range revisions {
		names := make([]string, 0, len(rev.Data.Events))
		ballot := ""
		for _, ev := range rev.Data.Events {
			names = append(names, fmt.Sprintf("%s@%s", ev.Name, ev.Date))
			if ev.BallotID != "" {
				ballot = ev.BallotID
			}
		}
		rows = append(rows, map[string]string{
			"version":  strconv.FormatInt(rev.Metadata.Version, 10),
			"txId":     rev.Metadata.TxID,
			"txTime":   rev.Metadata.TxTime.UTC().Format(time.RFC3339),
			"state":    rev.Data.State.String(),
			"events":   strings.Join(names, "; "),
			"ballotId": ballot,
			"hash":     rev.Hash,
		})
	}
	return export.Dataset{
		Title:   title,
		Headers: historyHeaders,
		Rows:    rows,
		Widths:  []float64{1, 3, 3, 2, 5, 2, 6},
	}
}
