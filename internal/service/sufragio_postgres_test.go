package service

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sufragio-api/internal/repository"
	appErrors "github.com/noah-isme/sufragio-api/pkg/errors"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

const (
	selectDocumentsSQL = "SELECT document_id, version, data, hash FROM ledger_documents"
	insertDocumentSQL  = "INSERT INTO ledger_documents"
	updateDocumentSQL  = "UPDATE ledger_documents SET version"
	insertRevisionSQL  = "INSERT INTO ledger_revisions"
)

func serializationFailure() error {
	return &pq.Error{Code: "40001", Message: "could not serialize access due to read/write dependencies among transactions"}
}

func documentColumns() []string {
	return []string{"document_id", "version", "data", "hash"}
}

func newPostgresLifecycle(t *testing.T) (*SufragioService, sqlmock.Sqlmock, *operationStub) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	driver := ledger.NewPostgresDriver(sqlx.NewDb(db, "sqlmock"),
		ledger.WithRetryBaseDelay(time.Microsecond),
		ledger.WithMaxRetries(3),
	)
	metrics := &operationStub{}
	svc := NewSufragioService(driver, repository.NewSufragioRepository("sufragios"), validator.New(), metrics,
		SufragioOptions{Now: func() time.Time { return fixedNow }}, zap.NewNop())
	return svc, mock, metrics
}

// expectWinnerVisible scripts the retried attempt, in which the concurrent writer's
// committed record is now visible to the uniqueness check.
func expectWinnerVisible(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows(documentColumns()).
			AddRow("winner-doc", int64(1), []byte(`{"nationalId":"00000000-0","recordId":"winner-doc","state":0}`), "hash-1"))
	mock.ExpectRollback()
}

func TestSufragioServiceCreateConflictOnInsertBecomesDuplicate(t *testing.T) {
	svc, mock, metrics := newPostgresLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows(documentColumns()))
	mock.ExpectExec(regexp.QuoteMeta(insertDocumentSQL)).
		WillReturnError(serializationFailure())
	mock.ExpectRollback()
	expectWinnerVisible(mock)

	_, err := svc.Create(context.Background(), anaRequest(), "operator-2")
	require.ErrorIs(t, err, appErrors.ErrDuplicateRecord)
	assert.NotErrorIs(t, err, appErrors.ErrTransactionConflict)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	assert.Equal(t, []bool{false}, metrics.outcomes[OpCreate])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSufragioServiceCreateConflictAtCommitBecomesDuplicate(t *testing.T) {
	svc, mock, _ := newPostgresLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows(documentColumns()))
	mock.ExpectExec(regexp.QuoteMeta(insertDocumentSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertRevisionSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows(documentColumns()).
			AddRow("loser-doc", int64(0), []byte(`{"nationalId":"00000000-0","state":0}`), "hash-0"))
	mock.ExpectExec(regexp.QuoteMeta(updateDocumentSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertRevisionSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(serializationFailure())
	expectWinnerVisible(mock)

	_, err := svc.Create(context.Background(), anaRequest(), "operator-2")
	require.ErrorIs(t, err, appErrors.ErrDuplicateRecord)
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	assert.Contains(t, appErrors.FromError(err).Detail, "00000000-0")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSufragioServiceCreateRetriesUntilCommit(t *testing.T) {
	svc, mock, _ := newPostgresLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnError(serializationFailure())
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows(documentColumns()))
	mock.ExpectExec(regexp.QuoteMeta(insertDocumentSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertRevisionSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectDocumentsSQL)).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows(documentColumns()).
			AddRow("doc-1", int64(0), []byte(`{"nationalId":"00000000-0","state":0}`), "hash-0"))
	mock.ExpectExec(regexp.QuoteMeta(updateDocumentSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertRevisionSQL)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := svc.Create(context.Background(), anaRequest(), "operator-1")
	require.NoError(t, err)
	assert.NotEmpty(t, record.RecordID)
	require.NoError(t, mock.ExpectationsWereMet())
}
