package artifacts

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLRepository persists artifact metadata in the same database as the
// session event log, in the `artifacts` table the migrator creates.
// Grounded on the teacher's SQLRepository prepared-statement shape,
// re-keyed from an artifact-ID scheme to SHA-256 hashes.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository wraps an already-migrated *sql.DB.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Put(ctx context.Context, meta Metadata) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO artifacts (hash, mime_type, size, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, meta.Hash, meta.MimeType, meta.Size, meta.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact metadata: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, hash string) (Metadata, error) {
	var meta Metadata
	err := r.db.QueryRowContext(ctx, `
		SELECT hash, mime_type, size, created_at FROM artifacts WHERE hash = ?
	`, hash).Scan(&meta.Hash, &meta.MimeType, &meta.Size, &meta.CreatedAt)
	if err == sql.ErrNoRows {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("query artifact metadata: %w", err)
	}
	return meta, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]Metadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT hash, mime_type, size, created_at FROM artifacts ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var meta Metadata
		if err := rows.Scan(&meta.Hash, &meta.MimeType, &meta.Size, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact metadata: %w", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (r *SQLRepository) Delete(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("delete artifact metadata: %w", err)
	}
	return nil
}
