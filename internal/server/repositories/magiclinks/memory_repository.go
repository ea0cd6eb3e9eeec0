package magiclinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps the ledger in process memory. Every method is atomic
// under one mutex; records are copied in and out.
type MemoryRepository struct {
	mu    sync.RWMutex
	links map[string]*models.MagicLink
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{links: make(map[string]*models.MagicLink)}
}

func (r *MemoryRepository) FindByOwner(ctx context.Context, ownerID string) (*models.MagicLink, error) {
	return r.findFirst(ctx, func(l *models.MagicLink) bool { return l.OwnerID == ownerID })
}

func (r *MemoryRepository) Insert(ctx context.Context, link *models.MagicLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	link.UsedAt = nil
	r.links[link.ID] = link.Clone()
	return nil
}

func (r *MemoryRepository) Overwrite(ctx context.Context, link *models.MagicLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.links[link.ID]
	if !ok {
		return common.ErrorNotFound
	}
	stored.SecretDigest = link.SecretDigest
	stored.CreatedAt = link.CreatedAt
	stored.ExpiresAt = link.ExpiresAt
	stored.Provenance = link.Provenance
	stored.UsedAt = nil
	link.UsedAt = nil
	return nil
}

func (r *MemoryRepository) FindByDigest(ctx context.Context, digest string) (*models.MagicLink, error) {
	return r.findFirst(ctx, func(l *models.MagicLink) bool { return l.SecretDigest == digest })
}

func (r *MemoryRepository) List(ctx context.Context) ([]*models.MagicLink, error) {
	return r.filter(ctx, 0, func(*models.MagicLink) bool { return true })
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.links[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return l.Clone(), nil
}

func (r *MemoryRepository) MarkUsed(ctx context.Context, id, digest string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[id]
	if !ok || l.UsedAt != nil || l.SecretDigest != digest {
		return false, nil
	}
	l.UsedAt = &at
	return true, nil
}

func (r *MemoryRepository) ListStale(ctx context.Context, now, usedBefore time.Time, limit int) ([]*models.MagicLink, error) {
	return r.filter(ctx, limit, func(l *models.MagicLink) bool {
		return l.ExpiresAt.Before(now) || (l.UsedAt != nil && l.UsedAt.Before(usedBefore))
	})
}

func (r *MemoryRepository) DeleteIfUnchanged(ctx context.Context, link *models.MagicLink) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.links[link.ID]
	if !ok {
		return false, nil
	}
	if stored.SecretDigest != link.SecretDigest ||
		!stored.ExpiresAt.Equal(link.ExpiresAt) ||
		!sameInstant(stored.UsedAt, link.UsedAt) {
		return false, nil
	}
	delete(r.links, link.ID)
	return true, nil
}

func (r *MemoryRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	links, err := r.filter(ctx, 0, func(l *models.MagicLink) bool { return l.OwnerID == ownerID })
	return len(links), err
}

func (r *MemoryRepository) findFirst(ctx context.Context, match func(*models.MagicLink) bool) (*models.MagicLink, error) {
	links, err := r.filter(ctx, 1, match)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, common.ErrorNotFound
	}
	return links[0], nil
}

// filter returns copies of matching records, newest first, at most limit
// of them when limit > 0.
func (r *MemoryRepository) filter(ctx context.Context, limit int, match func(*models.MagicLink) bool) ([]*models.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.MagicLink
	for _, l := range r.links {
		if match(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Peek returns a copy of the record with id, or nil.
func (r *MemoryRepository) Peek(id string) *models.MagicLink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if l, ok := r.links[id]; ok {
		return l.Clone()
	}
	return nil
}

// Restore puts prev back under id, or removes id when prev is nil.
func (r *MemoryRepository) Restore(id string, prev *models.MagicLink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev == nil {
		delete(r.links, id)
		return
	}
	r.links[id] = prev.Clone()
}
