package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/magiclink/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/magiclinks"
)

// MemoryRepositoryManager keeps everything in process memory. WithTx holds a
// single lock for the whole body, so transactions are serializable. Writes
// made through the transaction's repositories are undone when fn fails.
type MemoryRepositoryManager struct {
	txMu       sync.Mutex
	accounts   *accounts.MemoryRepository
	magicLinks *magiclinks.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		accounts:   accounts.NewMemoryRepository(),
		magicLinks: magiclinks.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) Accounts() accounts.Repository     { return m.accounts }
func (m *MemoryRepositoryManager) MagicLinks() magiclinks.Repository { return m.magicLinks }

// AccountStore exposes the concrete directory for helpers such as SetActive.
func (m *MemoryRepositoryManager) AccountStore() *accounts.MemoryRepository { return m.accounts }

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	tx := newMemoryTx(m)
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Close() error { return nil }
