package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/dropbin/internal/dbx"
	"github.com/dmitrijs2005/dropbin/internal/server/repositories/bundles"
	"github.com/dmitrijs2005/dropbin/internal/server/repositories/files"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Bundles(db dbx.DBTX) bundles.Repository
	Files(db dbx.DBTX) files.Repository
}
