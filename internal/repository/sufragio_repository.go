package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/noah-isme/sufragio-api/internal/models"
	"github.com/noah-isme/sufragio-api/pkg/ledger"
)

const (
	fieldNationalID = "nationalId"
	fieldRecordID   = "recordId"
)

// SufragioRepository issues voting record statements inside a caller-owned ledger
// transaction.
type SufragioRepository struct {
	table string
}

// NewSufragioRepository constructs the repository for the given ledger table.
func NewSufragioRepository(table string) *SufragioRepository {
	if table == "" {
		table = "sufragios"
	}
	return &SufragioRepository{table: table}
}

// Table returns the ledger table holding voting records.
func (r *SufragioRepository) Table() string {
	return r.table
}

// Indexes lists the fields records are looked up by.
func (r *SufragioRepository) Indexes() []ledger.Index {
	return []ledger.Index{
		{Table: r.table, Field: fieldNationalID},
		{Table: r.table, Field: fieldRecordID},
	}
}

// CountByNationalID returns how many records carry nationalID.
func (r *SufragioRepository) CountByNationalID(ctx context.Context, txn ledger.Txn, nationalID string) (int, error) {
	docs, err := txn.Select(ctx, r.table, fieldNationalID, nationalID)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Insert stores a new record and returns the ledger document id.
func (r *SufragioRepository) Insert(ctx context.Context, txn ledger.Txn, record *models.VotingRecord) (string, error) {
	return txn.Insert(ctx, r.table, record)
}

// AssignRecordID stamps recordID onto the record registered under nationalID.
func (r *SufragioRepository) AssignRecordID(ctx context.Context, txn ledger.Txn, nationalID, recordID string) (int, error) {
	return txn.Update(ctx, r.table, fieldNationalID, nationalID, map[string]interface{}{
		fieldRecordID: recordID,
	})
}

// FindByRecordID returns the current state of a record, or sql.ErrNoRows.
func (r *SufragioRepository) FindByRecordID(ctx context.Context, txn ledger.Txn, recordID string) (*models.VotingRecord, error) {
	docs, err := txn.Select(ctx, r.table, fieldRecordID, recordID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, sql.ErrNoRows
	}
	var record models.VotingRecord
	if err := docs[0].Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateState replaces the state and events of the record identified by recordID.
func (r *SufragioRepository) UpdateState(ctx context.Context, txn ledger.Txn, recordID string, state models.State, events []models.Event) (int, error) {
	return txn.Update(ctx, r.table, fieldRecordID, recordID, map[string]interface{}{
		"state":  state,
		"events": events,
	})
}

// History returns the revisions of the document whose ledger id is recordID.
func (r *SufragioRepository) History(ctx context.Context, txn ledger.Txn, recordID string) ([]ledger.Revision, error) {
	return txn.History(ctx, r.table, recordID)
}

// ToRevisions decodes ledger revisions into voting record snapshots, keeping their order.
func ToRevisions(revisions []ledger.Revision) ([]models.Revision, error) {
	out := make([]models.Revision, 0, len(revisions))
	for _, rev := range revisions {
		item := models.Revision{
			Metadata: models.RevisionMetadata{
				ID:      rev.Metadata.ID,
				Version: rev.Metadata.Version,
				TxID:    rev.Metadata.TxID,
				TxTime:  rev.Metadata.TxTime,
			},
			Hash:         rev.Hash,
			PreviousHash: rev.PreviousHash,
		}
		if err := (ledger.Document{ID: rev.Metadata.ID, Data: rev.Data}).Decode(&item.Data); err != nil {
			return nil, fmt.Errorf("revision %d: %w", rev.Metadata.Version, err)
		}
		out = append(out, item)
	}
	return out, nil
}
