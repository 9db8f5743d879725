// Package files persists the per-file rows of a bundle.
package files

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/dropbin/internal/dbx"
	"github.com/dmitrijs2005/dropbin/internal/server/models"
)

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBatch inserts the files of one bundle. Callers run it inside the
// transaction that created the bundle.
func (r *PostgresRepository) CreateBatch(ctx context.Context, files []*models.File) error {
	query := `
		INSERT INTO files (bundle_id, idx, file_name, content_type, size, storage_key, last_modified, upload_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, f := range files {
		var lastModified sql.NullTime
		if f.LastModified != nil {
			lastModified = sql.NullTime{Time: *f.LastModified, Valid: true}
		}
		_, err := r.db.ExecContext(ctx, query,
			f.BundleID, f.Index, f.FileName, f.ContentType, f.Size, f.StorageKey, lastModified, f.UploadStatus)
		if err != nil {
			return fmt.Errorf("failed to insert file %d: %w", f.Index, err)
		}
	}
	return nil
}

// ListByBundle returns the files of a bundle in submission order.
func (r *PostgresRepository) ListByBundle(ctx context.Context, bundleID string) ([]*models.File, error) {
	query := `SELECT bundle_id, idx, file_name, content_type, size, storage_key, last_modified, upload_status
		FROM files WHERE bundle_id = $1 ORDER BY idx`

	rows, err := r.db.QueryContext(ctx, query, bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		var (
			item         models.File
			lastModified sql.NullTime
		)
		if err := rows.Scan(&item.BundleID, &item.Index, &item.FileName, &item.ContentType, &item.Size,
			&item.StorageKey, &lastModified, &item.UploadStatus); err != nil {
			return nil, err
		}
		if lastModified.Valid {
			item.LastModified = &lastModified.Time
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkCommitted flags every file of the bundle as committed.
func (r *PostgresRepository) MarkCommitted(ctx context.Context, bundleID string) error {
	query := `update files set upload_status='committed' where bundle_id=$1`
	result, err := r.db.ExecContext(ctx, query, bundleID)
	if err != nil {
		return fmt.Errorf("failed to mark committed: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

func (r *PostgresRepository) DeleteByBundle(ctx context.Context, bundleID string) error {
	if _, err := r.db.ExecContext(ctx, `delete from files where bundle_id=$1`, bundleID); err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}
