package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

type recordingObserver struct {
	outcomes []string
	attempts []int
}

func (o *recordingObserver) ObserveLedgerTx(outcome string, attempts int, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
	o.attempts = append(o.attempts, attempts)
}

func TestPostgresDriverInsertCommitsAndPublishes(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()

	var published []Revision
	driver := NewPostgresDriver(db, WithCommitHook(func(_ context.Context, revs []Revision) {
		published = revs
	}))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_documents")).
		WithArgs("sufragios", sqlmock.AnyArg(), int64(0), `{"name":"Ana","nationalId":"1","state":0}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_revisions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var id string
	err := driver.ExecuteTx(context.Background(), func(ctx context.Context, txn Txn) error {
		var err error
		id, err = txn.Insert(ctx, "sufragios", sampleDoc{NationalID: "1", Name: "Ana"})
		return err
	})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, id, published[0].Metadata.ID)
	assert.Equal(t, int64(0), published[0].Metadata.Version)
	assert.Empty(t, published[0].PreviousHash)
	require.NoError(t, VerifyChain(published))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDriverUpdateChainsFromStoredHash(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()

	driver := NewPostgresDriver(db)
	rows := sqlmock.NewRows([]string{"document_id", "version", "data", "hash"}).
		AddRow("doc-1", int64(0), []byte(`{"nationalId":"1","state":0}`), "hash-0")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document_id, version, data, hash FROM ledger_documents")).
		WithArgs("sufragios", "1").
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ledger_documents SET version")).
		WithArgs("sufragios", "doc-1", int64(1), `{"nationalId":"1","state":1}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_revisions")).
		WithArgs("sufragios", "doc-1", int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), `{"nationalId":"1","state":1}`, sqlmock.AnyArg(), "hash-0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := driver.ExecuteTx(context.Background(), func(ctx context.Context, txn Txn) error {
		n, err := txn.Update(ctx, "sufragios", "nationalId", "1", map[string]interface{}{"state": 1})
		require.Equal(t, 1, n)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDriverHistory(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	chain := []Revision{newRevision("sufragios", Metadata{ID: "doc-1", Version: 0, TxID: "tx-1", TxTime: at}, []byte(`{"state":0}`), "")}
	chain = append(chain, newRevision("sufragios", Metadata{ID: "doc-1", Version: 1, TxID: "tx-2", TxTime: at.Add(time.Minute)}, []byte(`{"state":1}`), chain[0].Hash))

	rows := sqlmock.NewRows([]string{"table_name", "document_id", "version", "tx_id", "tx_time", "data", "hash", "previous_hash"})
	for _, rev := range chain {
		rows.AddRow(rev.Table, rev.Metadata.ID, rev.Metadata.Version, rev.Metadata.TxID, rev.Metadata.TxTime, []byte(rev.Data), rev.Hash, rev.PreviousHash)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT table_name, document_id, version, tx_id, tx_time, data, hash, previous_hash")).
		WithArgs("sufragios", "doc-1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	var history []Revision
	err := NewPostgresDriver(db).ExecuteTx(context.Background(), func(ctx context.Context, txn Txn) error {
		var err error
		history, err = txn.History(ctx, "sufragios", "doc-1")
		return err
	})
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NoError(t, VerifyChain(history))
	assert.Equal(t, chain[1].Hash, Digest(history))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDriverRetriesSerializationFailures(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()

	obs := &recordingObserver{}
	driver := NewPostgresDriver(db, WithRetryBaseDelay(time.Microsecond), WithObserver(obs))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_documents")).
		WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_documents")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_revisions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := driver.ExecuteTx(context.Background(), func(ctx context.Context, txn Txn) error {
		calls++
		_, err := txn.Insert(ctx, "sufragios", sampleDoc{NationalID: "1"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{OutcomeCommitted}, obs.outcomes)
	assert.Equal(t, []int{2}, obs.attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDriverReportsConflictWhenRetriesExhausted(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()

	obs := &recordingObserver{}
	driver := NewPostgresDriver(db, WithMaxRetries(1), WithRetryBaseDelay(time.Microsecond), WithObserver(obs))

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_documents")).
			WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
		mock.ExpectRollback()
	}

	err := driver.ExecuteTx(context.Background(), func(ctx context.Context, txn Txn) error {
		_, err := txn.Insert(ctx, "sufragios", sampleDoc{NationalID: "1"})
		return err
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []string{OutcomeConflicted}, obs.outcomes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDriverReturnsBodyErrorsUnchanged(t *testing.T) {
	db, mock, cleanup := newLedgerMock(t)
	defer cleanup()

	errDuplicate := errors.New("duplicate")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document_id, version, data, hash FROM ledger_documents")).
		WithArgs("sufragios", "1").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "version", "data", "hash"}).
			AddRow("doc-1", int64(0), []byte(`{"nationalId":"1"}`), "hash-0"))
	mock.ExpectRollback()

	calls := 0
	err := NewPostgresDriver(db).ExecuteTx(context.Background(), func(ctx context.Context, txn Txn) error {
		calls++
		docs, err := txn.Select(ctx, "sufragios", "nationalId", "1")
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return errDuplicate
		}
		return nil
	})
	require.Equal(t, errDuplicate, err)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(errors.Join(errors.New("wrapped"), &pq.Error{Code: "40P01"})))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestBackoffStaysWithinCap(t *testing.T) {
	for attempt := 1; attempt < 80; attempt++ {
		d := backoff(10*time.Millisecond, attempt)
		assert.Positive(t, int64(d))
		assert.LessOrEqual(t, d, maxRetryDelay)
	}
}
