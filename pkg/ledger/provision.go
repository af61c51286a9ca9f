package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Index declares an expression index on a top-level field of a logical table.
type Index struct {
	Table string
	Field string
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ledger_documents (
	table_name TEXT NOT NULL,
	document_id TEXT NOT NULL,
	version BIGINT NOT NULL,
	data JSONB NOT NULL,
	hash TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (table_name, document_id)
)`,
	`CREATE TABLE IF NOT EXISTS ledger_revisions (
	table_name TEXT NOT NULL,
	document_id TEXT NOT NULL,
	version BIGINT NOT NULL,
	tx_id TEXT NOT NULL,
	tx_time TIMESTAMPTZ NOT NULL,
	data TEXT NOT NULL,
	hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (table_name, document_id, version)
)`,
	`CREATE OR REPLACE FUNCTION ledger_revisions_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger_revisions is append-only';
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS ledger_revisions_immutable ON ledger_revisions`,
	`CREATE TRIGGER ledger_revisions_immutable BEFORE UPDATE OR DELETE ON ledger_revisions
FOR EACH ROW EXECUTE FUNCTION ledger_revisions_append_only()`,
}

// IndexName returns the physical name used for an expression index.
func IndexName(idx Index) string {
	return fmt.Sprintf("ledger_documents_%s_%s_idx", strings.ToLower(idx.Table), strings.ToLower(idx.Field))
}

// Provision creates the ledger tables, the append-only guard and the requested indexes.
// Every statement is idempotent so it can run on each deployment.
func Provision(ctx context.Context, db *sqlx.DB, indexes ...Index) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin provisioning: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("provision ledger schema: %w", err)
		}
	}
	for _, idx := range indexes {
		if err := validateName("table", idx.Table); err != nil {
			return err
		}
		if err := validateName("field", idx.Field); err != nil {
			return err
		}
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON ledger_documents ((data->>'%s')) WHERE table_name = '%s'`,
			IndexName(idx), idx.Field, idx.Table)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: %w", IndexName(idx), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit provisioning: %w", err)
	}
	return nil
}
