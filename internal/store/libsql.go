package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// LibSQLStore implements ProcessedItemStore and CredentialStore using libSQL
// (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns the store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Processed items ---

// CheckAndRecord inserts unseen signatures and classifies each input
// signature as new or already processed, preserving order. The whole batch
// runs in one transaction so a retry racing this call observes either all or
// none of the batch's inserts; per signature, INSERT OR IGNORE plus the
// RowsAffected result is the atomic check-and-set.
func (s *LibSQLStore) CheckAndRecord(ctx context.Context, scope DedupScope, signatures []string) ([]string, []string, error) {
	if len(signatures) == 0 {
		return nil, nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeDedupStore, "begin tx: %s", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var newSigs, processed []string
	for _, sig := range signatures {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO processed_items (workflow_id, node_id, context_key, signature)
			 VALUES (?, ?, ?, ?)`,
			scope.WorkflowID, scope.PartitionNodeID(), scope.ContextKey, sig,
		)
		if err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeDedupStore, "record signature: %s", err.Error()).WithCause(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrCodeDedupStore, "rows affected: %s", err.Error()).WithCause(err)
		}
		if n > 0 {
			newSigs = append(newSigs, sig)
		} else {
			processed = append(processed, sig)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeDedupStore, "commit: %s", err.Error()).WithCause(err)
	}
	return newSigs, processed, nil
}

// Remove deletes the given signatures from the scope.
func (s *LibSQLStore) Remove(ctx context.Context, scope DedupScope, signatures []string) error {
	for _, sig := range signatures {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM processed_items
			 WHERE workflow_id = ? AND node_id = ? AND context_key = ? AND signature = ?`,
			scope.WorkflowID, scope.PartitionNodeID(), scope.ContextKey, sig,
		); err != nil {
			return schema.NewErrorf(schema.ErrCodeDedupStore, "remove signature: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

// Clear deletes all signatures recorded under the scope.
func (s *LibSQLStore) Clear(ctx context.Context, scope DedupScope) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_items WHERE workflow_id = ? AND node_id = ? AND context_key = ?`,
		scope.WorkflowID, scope.PartitionNodeID(), scope.ContextKey,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDedupStore, "clear scope: %s", err.Error()).WithCause(err)
	}
	return nil
}

// Count reports how many signatures the scope currently holds.
func (s *LibSQLStore) Count(ctx context.Context, scope DedupScope) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_items WHERE workflow_id = ? AND node_id = ? AND context_key = ?`,
		scope.WorkflowID, scope.PartitionNodeID(), scope.ContextKey,
	).Scan(&n)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeDedupStore, "count scope: %s", err.Error()).WithCause(err)
	}
	return n, nil
}

// --- Credentials ---

func (s *LibSQLStore) GetCredential(ctx context.Context, id string) (*CredentialRecord, error) {
	rec := &CredentialRecord{}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, data, created_at, updated_at FROM credentials WHERE id = ?`, id,
	).Scan(&rec.ID, &name, &rec.Type, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeCredentials, "credential %q not found", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get credential: %s", err.Error()).WithCause(err)
	}
	rec.Name = name.String
	return rec, nil
}

func (s *LibSQLStore) PutCredential(ctx context.Context, rec *CredentialRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, name, type, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type,
		 data=excluded.data, updated_at=excluded.updated_at`,
		rec.ID, nullStr(rec.Name), rec.Type, rec.Data, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "put credential: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) DeleteCredential(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete credential: %s", err.Error()).WithCause(err)
	}
	return checkRowsAffected(res, "credential", id)
}

func (s *LibSQLStore) ListCredentials(ctx context.Context, credType string) ([]*CredentialRecord, error) {
	query := `SELECT id, name, type, data, created_at, updated_at FROM credentials`
	args := []any{}
	if credType != "" {
		query += ` WHERE type = ?`
		args = append(args, credType)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list credentials: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []*CredentialRecord
	for rows.Next() {
		rec := &CredentialRecord{}
		var name sql.NullString
		if err := rows.Scan(&rec.ID, &name, &rec.Type, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "scan credential: %s", err.Error()).WithCause(err)
		}
		rec.Name = name.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeStore, "%s %q not found", resource, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ ProcessedItemStore = (*LibSQLStore)(nil)
	_ CredentialStore    = (*LibSQLStore)(nil)
)
