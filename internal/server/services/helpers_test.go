package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/cryptox"
	"github.com/dmitrijs2005/magiclink/internal/server/config"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/magiclinks"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t0+d.
func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t0.Add(d)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabaseDSN = repomanager.MemoryDSN
	cfg.BcryptCost = bcrypt.MinCost
	cfg.StoreTimeout = time.Second
	return cfg
}

type fixture struct {
	svc     *MagicLinkService
	reaper  *Reaper
	manager *repomanager.MemoryRepositoryManager
	clock   *fakeClock
	cfg     *config.Config
}

func newFixture(t *testing.T, hasher cryptox.Hasher, mutate func(*config.Config), opts ...Option) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return newFixtureWithManager(t, repomanager.NewMemoryRepositoryManager(), hasher, cfg, opts...)
}

func newFixtureWithManager(t *testing.T, m *repomanager.MemoryRepositoryManager, hasher cryptox.Hasher, cfg *config.Config, opts ...Option) *fixture {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	svc, err := NewMagicLinkService(m, hasher, cfg, opts...)
	require.NoError(t, err)
	reaper, err := NewReaper(m, cfg, opts...)
	require.NoError(t, err)

	return &fixture{svc: svc, reaper: reaper, manager: m, clock: clock, cfg: cfg}
}

func bcryptHasher(t *testing.T) cryptox.Hasher {
	t.Helper()
	h, err := cryptox.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func (f *fixture) account(t *testing.T, email string) *models.Account {
	t.Helper()
	a, err := f.manager.Accounts().Create(context.Background(), &models.Account{Email: email, FullName: "Test", IsActive: true})
	require.NoError(t, err)
	return a
}

func (f *fixture) issue(t *testing.T, accountID string) *IssuedLink {
	t.Helper()
	l, err := f.svc.Issue(context.Background(), accountID, models.Provenance{IP: "198.51.100.1", UserAgent: "test"})
	require.NoError(t, err)
	return l
}

func (f *fixture) verify(t *testing.T, secret string) *VerifyResult {
	t.Helper()
	res, err := f.svc.Verify(context.Background(), secret)
	require.NoError(t, err)
	return res
}

func (f *fixture) record(t *testing.T, accountID string) *models.MagicLink {
	t.Helper()
	l, err := f.manager.MagicLinks().FindByOwner(context.Background(), accountID)
	require.NoError(t, err)
	return l
}

// faultyManager swaps the ledger for a misbehaving one, inside and outside
// transactions.
type faultyManager struct {
	*repomanager.MemoryRepositoryManager
	ledger magiclinks.Repository
}

func (f *faultyManager) MagicLinks() magiclinks.Repository { return f.ledger }

func (f *faultyManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos repomanager.Repositories) error) error {
	return f.MemoryRepositoryManager.WithTx(ctx, func(ctx context.Context, _ repomanager.Repositories) error {
		return fn(ctx, f)
	})
}

// failingLedger fails every read and write with err.
type failingLedger struct {
	magiclinks.Repository
	err error
}

func (l failingLedger) FindByOwner(context.Context, string) (*models.MagicLink, error) {
	return nil, l.err
}
func (l failingLedger) FindByDigest(context.Context, string) (*models.MagicLink, error) {
	return nil, l.err
}
func (l failingLedger) List(context.Context) ([]*models.MagicLink, error) { return nil, l.err }
func (l failingLedger) ListStale(context.Context, time.Time, time.Time, int) ([]*models.MagicLink, error) {
	return nil, l.err
}

// stallingLedger blocks until the caller's context gives up.
type stallingLedger struct {
	magiclinks.Repository
}

func (stallingLedger) List(ctx context.Context) ([]*models.MagicLink, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (stallingLedger) FindByDigest(ctx context.Context, _ string) (*models.MagicLink, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type countingRecorder struct {
	mu            sync.Mutex
	issued        int
	reaped        int
	verifications map[string]int
	storageErrors map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{verifications: map[string]int{}, storageErrors: map[string]int{}}
}

func (r *countingRecorder) LinkIssued() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
}

func (r *countingRecorder) Verification(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications[outcome]++
}

func (r *countingRecorder) Reaped(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reaped += n
}

func (r *countingRecorder) StorageError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storageErrors[op]++
}
