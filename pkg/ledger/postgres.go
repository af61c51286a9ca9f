package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PostgresDriver runs ledger transactions against PostgreSQL with SERIALIZABLE isolation.
// Concurrency-control aborts are retried with jittered exponential backoff; the whole body
// is re-executed on every attempt.
type PostgresDriver struct {
	db   *sqlx.DB
	opts options
}

// NewPostgresDriver constructs the driver around a shared connection pool.
func NewPostgresDriver(db *sqlx.DB, opts ...Option) *PostgresDriver {
	return &PostgresDriver{db: db, opts: buildOptions(opts)}
}

// ExecuteTx implements Driver.
func (d *PostgresDriver) ExecuteTx(ctx context.Context, fn TxFunc) error {
	started := time.Now()
	for attempt := 1; ; attempt++ {
		revisions, err := d.run(ctx, fn)
		if err == nil {
			d.opts.observe(OutcomeCommitted, attempt, started)
			d.opts.publish(ctx, revisions)
			return nil
		}
		if !IsRetryable(err) {
			d.opts.observe(OutcomeAborted, attempt, started)
			return err
		}
		if attempt > d.opts.maxRetries {
			d.opts.observe(OutcomeConflicted, attempt, started)
			return fmt.Errorf("%w after %d attempts: %w", ErrConflict, attempt, err)
		}

		delay := backoff(d.opts.retryBaseDelay, attempt)
		d.opts.logger.Warn("ledger transaction conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			d.opts.observe(OutcomeAborted, attempt, started)
			return fmt.Errorf("ledger retry interrupted: %w", err)
		}
	}
}

func (d *PostgresDriver) run(ctx context.Context, fn TxFunc) (revisions []Revision, err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.timeout)
		defer cancel()
	}

	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txn := &pgTxn{tx: tx, id: NewID(), at: time.Now().UTC().Truncate(time.Microsecond)}
	if err = fn(ctx, txn); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger transaction: %w", err)
	}
	return txn.revisions, nil
}

type pgTxn struct {
	tx        *sqlx.Tx
	id        string
	at        time.Time
	revisions []Revision
}

type documentRow struct {
	ID      string `db:"document_id"`
	Version int64  `db:"version"`
	Data    []byte `db:"data"`
	Hash    string `db:"hash"`
}

type revisionRow struct {
	Table        string    `db:"table_name"`
	DocumentID   string    `db:"document_id"`
	Version      int64     `db:"version"`
	TxID         string    `db:"tx_id"`
	TxTime       time.Time `db:"tx_time"`
	Data         []byte    `db:"data"`
	Hash         string    `db:"hash"`
	PreviousHash string    `db:"previous_hash"`
}

const (
	insertDocumentSQL = `INSERT INTO ledger_documents (table_name, document_id, version, data, hash, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6)`
	updateDocumentSQL = `UPDATE ledger_documents SET version = $3, data = $4::jsonb, hash = $5, updated_at = $6
WHERE table_name = $1 AND document_id = $2`
	insertRevisionSQL = `INSERT INTO ledger_revisions (table_name, document_id, version, tx_id, tx_time, data, hash, previous_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	historySQL = `SELECT table_name, document_id, version, tx_id, tx_time, data, hash, previous_hash
FROM ledger_revisions WHERE table_name = $1 AND document_id = $2 ORDER BY version ASC`
)

func (t *pgTxn) ID() string { return t.id }

func (t *pgTxn) Insert(ctx context.Context, table string, doc interface{}) (string, error) {
	if err := validateName("table", table); err != nil {
		return "", err
	}
	data, err := canonicalJSON(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", table, err)
	}

	meta := Metadata{ID: NewID(), Version: 0, TxID: t.id, TxTime: t.at}
	rev := newRevision(table, meta, data, "")
	if _, err := t.tx.ExecContext(ctx, insertDocumentSQL, table, meta.ID, meta.Version, string(data), rev.Hash, t.at); err != nil {
		return "", fmt.Errorf("insert %s document: %w", table, err)
	}
	if err := t.appendRevision(ctx, rev); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func (t *pgTxn) Select(ctx context.Context, table, field, value string) ([]Document, error) {
	rows, err := t.selectRows(ctx, table, field, value, false)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, Document{ID: row.ID, Version: row.Version, Data: row.Data})
	}
	return docs, nil
}

func (t *pgTxn) Update(ctx context.Context, table, field, value string, patch map[string]interface{}) (int, error) {
	if err := checkPatch(patch); err != nil {
		return 0, err
	}
	rows, err := t.selectRows(ctx, table, field, value, true)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		merged, err := mergePatch(row.Data, patch)
		if err != nil {
			return 0, fmt.Errorf("patch %s document %s: %w", table, row.ID, err)
		}
		meta := Metadata{ID: row.ID, Version: row.Version + 1, TxID: t.id, TxTime: t.at}
		rev := newRevision(table, meta, merged, row.Hash)
		if _, err := t.tx.ExecContext(ctx, updateDocumentSQL, table, row.ID, meta.Version, string(merged), rev.Hash, t.at); err != nil {
			return 0, fmt.Errorf("update %s document %s: %w", table, row.ID, err)
		}
		if err := t.appendRevision(ctx, rev); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func (t *pgTxn) History(ctx context.Context, table, documentID string) ([]Revision, error) {
	if err := validateName("table", table); err != nil {
		return nil, err
	}
	var rows []revisionRow
	if err := t.tx.SelectContext(ctx, &rows, historySQL, table, documentID); err != nil {
		return nil, fmt.Errorf("query %s history: %w", table, err)
	}
	revisions := make([]Revision, 0, len(rows))
	for _, row := range rows {
		revisions = append(revisions, Revision{
			Table: row.Table,
			Metadata: Metadata{
				ID:      row.DocumentID,
				Version: row.Version,
				TxID:    row.TxID,
				TxTime:  row.TxTime.UTC(),
			},
			Data:         row.Data,
			Hash:         row.Hash,
			PreviousHash: row.PreviousHash,
		})
	}
	return revisions, nil
}

func (t *pgTxn) selectRows(ctx context.Context, table, field, value string, lock bool) ([]documentRow, error) {
	if err := validateName("table", table); err != nil {
		return nil, err
	}
	if err := validateName("field", field); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT document_id, version, data, hash FROM ledger_documents
WHERE table_name = $1 AND data->>'%s' = $2 ORDER BY document_id`, field)
	if lock {
		query += " FOR UPDATE"
	}
	var rows []documentRow
	if err := t.tx.SelectContext(ctx, &rows, query, table, value); err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", table, field, err)
	}
	return rows, nil
}

func (t *pgTxn) appendRevision(ctx context.Context, rev Revision) error {
	meta := rev.Metadata
	if _, err := t.tx.ExecContext(ctx, insertRevisionSQL,
		rev.Table, meta.ID, meta.Version, meta.TxID, meta.TxTime, string(rev.Data), rev.Hash, rev.PreviousHash,
	); err != nil {
		return fmt.Errorf("append %s revision %s/%d: %w", rev.Table, meta.ID, meta.Version, err)
	}
	t.revisions = append(t.revisions, rev)
	return nil
}
