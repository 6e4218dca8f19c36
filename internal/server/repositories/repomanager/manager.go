package repomanager

import (
	"context"
	"database/sql"

	"github.com/safatanc/safatanc-connect-core/internal/dbx"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/accounts"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/connections"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/providers"
	"github.com/safatanc/safatanc-connect-core/internal/server/repositories/verificationtokens"
)

// RepositoryManager hands out repositories bound to either the pool or a
// transaction, so services can compose several of them inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	VerificationTokens(db dbx.DBTX) verificationtokens.Repository
	Providers(db dbx.DBTX) providers.Repository
	Connections(db dbx.DBTX) connections.Repository
}
