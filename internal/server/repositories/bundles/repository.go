package bundles

import (
	"context"
	"time"

	"github.com/dmitrijs2005/dropbin/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, b *models.Bundle) error
	GetBySlug(ctx context.Context, slug string) (*models.Bundle, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Commit(ctx context.Context, id, finalizeJTI string, committedAt, expiresAt time.Time) error
	MarkCancelled(ctx context.Context, id, cancelJTI string) error
	Delete(ctx context.Context, id string) error
	SelectExpired(ctx context.Context, now, provisionalBefore time.Time, limit int) ([]*models.Bundle, error)
}
