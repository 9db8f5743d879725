package files

import (
	"context"

	"github.com/dmitrijs2005/dropbin/internal/server/models"
)

type Repository interface {
	CreateBatch(ctx context.Context, files []*models.File) error
	ListByBundle(ctx context.Context, bundleID string) ([]*models.File, error)
	MarkCommitted(ctx context.Context, bundleID string) error
	DeleteByBundle(ctx context.Context, bundleID string) error
}
