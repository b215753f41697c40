package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/loanapp/internal/dbx"
	"github.com/dmitrijs2005/loanapp/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX (the pool or a
// transaction) and owns schema migrations.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
