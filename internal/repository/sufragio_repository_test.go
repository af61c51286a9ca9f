package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sufragio-api/internal/models"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

func sampleRecord() *models.VotingRecord {
	return &models.VotingRecord{
		NationalID:   "00000000-0",
		Name:         "Ana",
		VotingCenter: "C1",
		Department:   "D1",
		Municipality: "M1",
		Sex:          "F",
		State:        models.StateRegistered,
		CreatorID:    "operator-1",
		Events:       []models.Event{{Name: models.EventVotingCenterEntry, Date: "2024/05/01 08:00:00"}},
	}
}

func TestSufragioRepositoryLifecycleOnMemoryLedger(t *testing.T) {
	ctx := context.Background()
	driver := ledger.NewMemoryDriver()
	repo := NewSufragioRepository("")
	require.Equal(t, "sufragios", repo.Table())

	var recordID string
	require.NoError(t, driver.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		count, err := repo.CountByNationalID(ctx, txn, "00000000-0")
		require.NoError(t, err)
		require.Zero(t, count)

		recordID, err = repo.Insert(ctx, txn, sampleRecord())
		if err != nil {
			return err
		}
		n, err := repo.AssignRecordID(ctx, txn, "00000000-0", recordID)
		require.Equal(t, 1, n)
		return err
	}))

	require.NoError(t, driver.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		count, err := repo.CountByNationalID(ctx, txn, "00000000-0")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		record, err := repo.FindByRecordID(ctx, txn, recordID)
		require.NoError(t, err)
		assert.Equal(t, recordID, record.RecordID)
		assert.Equal(t, "Ana", record.Name)

		event := models.NewEvent(models.EventReceivingTableVerification, time.Now()).WithStatus(models.StateCheckedIn)
		_, err = repo.UpdateState(ctx, txn, recordID, models.StateCheckedIn, []models.Event{event})
		return err
	}))

	require.NoError(t, driver.ExecuteTx(ctx, func(ctx context.Context, txn ledger.Txn) error {
		_, err := repo.FindByRecordID(ctx, txn, "missing")
		require.ErrorIs(t, err, sql.ErrNoRows)

		raw, err := repo.History(ctx, txn, recordID)
		require.NoError(t, err)
		revisions, err := ToRevisions(raw)
		require.NoError(t, err)
		require.Len(t, revisions, 3)
		assert.Empty(t, revisions[0].Data.RecordID)
		assert.Equal(t, recordID, revisions[1].Data.RecordID)
		assert.Equal(t, models.StateCheckedIn, revisions[2].Data.State)
		require.Len(t, revisions[2].Data.Events, 1)
		assert.Equal(t, models.EventReceivingTableVerification, revisions[2].Data.Events[0].Name)
		return nil
	}))
}

func TestSufragioRepositoryQueriesByNationalID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	driver := ledger.NewPostgresDriver(sqlx.NewDb(db, "sqlmock"))
	repo := NewSufragioRepository("sufragios")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT document_id, version, data, hash FROM ledger_documents") + `\s+WHERE table_name = \$1 AND data->>'nationalId' = \$2`).
		WithArgs("sufragios", "00000000-0").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "version", "data", "hash"}).
			AddRow("doc-1", int64(1), []byte(`{"nationalId":"00000000-0","recordId":"doc-1"}`), "h1"))
	mock.ExpectCommit()

	var count int
	require.NoError(t, driver.ExecuteTx(context.Background(), func(ctx context.Context, txn ledger.Txn) error {
		var err error
		count, err = repo.CountByNationalID(ctx, txn, "00000000-0")
		return err
	}))
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSufragioRepositoryIndexes(t *testing.T) {
	repo := NewSufragioRepository("sufragios")
	assert.Equal(t, []ledger.Index{
		{Table: "sufragios", Field: "nationalId"},
		{Table: "sufragios", Field: "recordId"},
	}, repo.Indexes())
}
