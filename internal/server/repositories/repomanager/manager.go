// Package repomanager wires the account directory and the token ledger into
// a unit of work. Callers run multi-step operations through WithTx and
// single statements through the non-transactional handle.
package repomanager

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/magiclink/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/magiclinks"
)

// MemoryDSN selects the in-process store.
const MemoryDSN = "memory://"

// Repositories exposes the repositories bound to one handle: the pool or a
// transaction.
type Repositories interface {
	Accounts() accounts.Repository
	MagicLinks() magiclinks.Repository
}

type RepositoryManager interface {
	Repositories

	// WithTx runs fn with repositories bound to a single transaction.
	// A non-nil error from fn rolls the transaction back.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	RunMigrations(ctx context.Context) error
	Close() error
}

// New returns the memory manager for "memory://" and a PostgreSQL manager
// for anything else.
func New(ctx context.Context, dsn string) (RepositoryManager, error) {
	if strings.HasPrefix(dsn, MemoryDSN) {
		return NewMemoryRepositoryManager(), nil
	}
	return NewPostgresRepositoryManager(ctx, dsn)
}
