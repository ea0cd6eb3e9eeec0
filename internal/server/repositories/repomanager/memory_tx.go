package repomanager

import (
	"context"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/magiclinks"
)

// memoryTx records an undo step for every write made through it.
type memoryTx struct {
	accounts   *txAccounts
	magicLinks *txMagicLinks
	undo       []func()
}

func newMemoryTx(m *MemoryRepositoryManager) *memoryTx {
	tx := &memoryTx{}
	tx.accounts = &txAccounts{MemoryRepository: m.accounts, tx: tx}
	tx.magicLinks = &txMagicLinks{MemoryRepository: m.magicLinks, tx: tx}
	return tx
}

func (tx *memoryTx) Accounts() accounts.Repository     { return tx.accounts }
func (tx *memoryTx) MagicLinks() magiclinks.Repository { return tx.magicLinks }

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

type txMagicLinks struct {
	*magiclinks.MemoryRepository
	tx *memoryTx
}

func (r *txMagicLinks) save(id string) {
	prev := r.Peek(id)
	r.tx.undo = append(r.tx.undo, func() { r.Restore(id, prev) })
}

func (r *txMagicLinks) Insert(ctx context.Context, link *models.MagicLink) error {
	if link.ID != "" {
		r.save(link.ID)
	}
	if err := r.MemoryRepository.Insert(ctx, link); err != nil {
		return err
	}
	id := link.ID
	r.tx.undo = append(r.tx.undo, func() { r.Restore(id, nil) })
	return nil
}

func (r *txMagicLinks) Overwrite(ctx context.Context, link *models.MagicLink) error {
	r.save(link.ID)
	return r.MemoryRepository.Overwrite(ctx, link)
}

func (r *txMagicLinks) MarkUsed(ctx context.Context, id, digest string, at time.Time) (bool, error) {
	r.save(id)
	return r.MemoryRepository.MarkUsed(ctx, id, digest, at)
}

func (r *txMagicLinks) DeleteIfUnchanged(ctx context.Context, link *models.MagicLink) (bool, error) {
	r.save(link.ID)
	return r.MemoryRepository.DeleteIfUnchanged(ctx, link)
}

type txAccounts struct {
	*accounts.MemoryRepository
	tx *memoryTx
}

func (r *txAccounts) save(id string) {
	prev := r.Peek(id)
	r.tx.undo = append(r.tx.undo, func() { r.Restore(id, prev) })
}

func (r *txAccounts) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.ID != "" {
		r.save(account.ID)
	}
	created, err := r.MemoryRepository.Create(ctx, account)
	if err != nil {
		return nil, err
	}
	id := created.ID
	r.tx.undo = append(r.tx.undo, func() { r.Restore(id, nil) })
	return created, nil
}

func (r *txAccounts) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	r.save(id)
	return r.MemoryRepository.TouchLastLogin(ctx, id, at)
}
