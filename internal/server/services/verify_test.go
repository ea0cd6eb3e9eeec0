package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/cryptox"
	"github.com/dmitrijs2005/magiclink/internal/server/config"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A bcrypt scan over a large ledger takes far longer than one store round
// trip. Only the store calls are bounded by the store timeout.
func TestVerify_LargeBcryptLedgerOutlastsStoreTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("slow bcrypt scan")
	}

	const records = 30
	h, err := cryptox.NewBcryptHasher(8)
	require.NoError(t, err)

	f := newFixture(t, h, func(c *config.Config) {
		c.StoreTimeout = 50 * time.Millisecond
	})

	var secrets []string
	for i := 0; i < records; i++ {
		acc := f.account(t, fmt.Sprintf("user%d@example.com", i))
		secrets = append(secrets, f.issue(t, acc.ID).Secret)
	}

	start := time.Now()
	res, err := f.svc.Verify(context.Background(), "not-a-secret-from-this-ledger")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	require.Greater(t, time.Since(start), f.cfg.StoreTimeout, "scan should outlast one store round trip")

	res, err = f.svc.Verify(context.Background(), secrets[records-1])
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	res, err = f.svc.Verify(context.Background(), secrets[0])
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestVerify_CallerCancellationStopsScan(t *testing.T) {
	f := newFixture(t, bcryptHasher(t), nil)
	acc := f.account(t, "a@example.com")
	f.issue(t, acc.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Verify(ctx, "anything")
	require.ErrorIs(t, err, context.Canceled)
}

// touchFailingManager fails TouchLastLogin inside transactions.
type touchFailingManager struct {
	*repomanager.MemoryRepositoryManager
}

func (m touchFailingManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos repomanager.Repositories) error) error {
	return m.MemoryRepositoryManager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		return fn(ctx, touchFailingRepos{repos})
	})
}

type touchFailingRepos struct {
	repomanager.Repositories
}

func (r touchFailingRepos) Accounts() accounts.Repository {
	return touchFailingAccounts{r.Repositories.Accounts()}
}

type touchFailingAccounts struct {
	accounts.Repository
}

func (touchFailingAccounts) TouchLastLogin(context.Context, string, time.Time) error {
	return errors.New("disk full")
}

func TestVerify_FailedTransitionLeavesRecordUnused(t *testing.T) {
	f := newFixture(t, cryptox.SHA256Hasher{}, nil)
	acc := f.account(t, "a@example.com")
	link := f.issue(t, acc.ID)

	broken, err := NewMagicLinkService(touchFailingManager{f.manager}, cryptox.SHA256Hasher{}, f.cfg, WithClock(f.clock.Now))
	require.NoError(t, err)

	_, err = broken.Verify(context.Background(), link.Secret)
	require.ErrorIs(t, err, common.ErrStorage)

	assert.Nil(t, f.record(t, acc.ID).UsedAt)
	stored, err := f.manager.Accounts().Get(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastLoginAt)

	assert.Equal(t, OutcomeSuccess, f.verify(t, link.Secret).Outcome)
}
