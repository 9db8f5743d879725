// Package bundles persists bundle rows in PostgreSQL.
package bundles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/dropbin/internal/common"
	"github.com/dmitrijs2005/dropbin/internal/dbx"
	"github.com/dmitrijs2005/dropbin/internal/server/models"
)

const uniqueViolation = "23505"

const bundleColumns = `id, slug, status, retention, is_private, is_public, access_code_hash,
	finalize_jti, cancel_jti, tier, client_ip, created_at, committed_at, expires_at`

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a provisional bundle. A slug collision (case-insensitive)
// is common.ErrSlugTaken.
func (r *PostgresRepository) Create(ctx context.Context, b *models.Bundle) error {
	query := `
		INSERT INTO bundles (id, slug, status, retention, is_private, is_public, access_code_hash,
			finalize_jti, cancel_jti, tier, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.Slug, b.Status, b.Retention, b.IsPrivate, b.IsPublic, b.AccessCodeHash,
		b.FinalizeJTI, b.CancelJTI, b.Tier, b.ClientIP, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrSlugTaken
		}
		return fmt.Errorf("failed to insert bundle: %w", err)
	}
	return nil
}

// GetBySlug returns the bundle with slug, compared case-insensitively.
func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*models.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles WHERE lower(slug) = lower($1)`

	b, err := scanBundle(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select bundle: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bundles WHERE lower(slug) = lower($1))`
	if err := r.db.QueryRowContext(ctx, query, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// Commit moves a provisional bundle to committed. The update only matches
// while the finalize token has not been spent, so a replay affects no rows
// and yields common.ErrTokenUsed.
func (r *PostgresRepository) Commit(ctx context.Context, id, finalizeJTI string, committedAt, expiresAt time.Time) error {
	query := `
		UPDATE bundles SET status = 'committed', committed_at = $3, expires_at = $4
		WHERE id = $1 AND status = 'provisional' AND finalize_jti = $2
	`
	return r.guardedUpdate(ctx, query, id, finalizeJTI, committedAt, expiresAt)
}

// MarkCancelled moves a provisional bundle to cancelled under the same
// single-use guard as Commit.
func (r *PostgresRepository) MarkCancelled(ctx context.Context, id, cancelJTI string) error {
	query := `
		UPDATE bundles SET status = 'cancelled'
		WHERE id = $1 AND status = 'provisional' AND cancel_jti = $2
	`
	return r.guardedUpdate(ctx, query, id, cancelJTI)
}

func (r *PostgresRepository) guardedUpdate(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExactlyOne(res, common.ErrTokenUsed)
}

// Delete removes a bundle; its file rows go with it.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bundles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	return nil
}

// SelectExpired returns bundles the janitor should remove: provisional ones
// created before provisionalBefore, committed ones past their expiry and
// cancelled ones.
func (r *PostgresRepository) SelectExpired(ctx context.Context, now, provisionalBefore time.Time, limit int) ([]*models.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles
		WHERE (status = 'provisional' AND created_at < $2)
		   OR (status = 'committed' AND expires_at < $1)
		   OR status = 'cancelled'
		ORDER BY created_at
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, now, provisionalBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired bundles: %w", err)
	}
	defer rows.Close()

	var result []*models.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBundle(s scanner) (*models.Bundle, error) {
	var (
		b           models.Bundle
		committedAt sql.NullTime
		expiresAt   sql.NullTime
	)
	err := s.Scan(&b.ID, &b.Slug, &b.Status, &b.Retention, &b.IsPrivate, &b.IsPublic, &b.AccessCodeHash,
		&b.FinalizeJTI, &b.CancelJTI, &b.Tier, &b.ClientIP, &b.CreatedAt, &committedAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	if committedAt.Valid {
		b.CommittedAt = &committedAt.Time
	}
	if expiresAt.Valid {
		b.ExpiresAt = &expiresAt.Time
	}
	return &b, nil
}
