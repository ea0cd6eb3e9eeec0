// Package magiclinks is the token ledger: the authoritative store of magic
// link records. It keeps digests only, never plaintext secrets.
//
// Every mutation is a single statement so that it is atomic on its own;
// "one record per account" is enforced by the issuer, which performs
// FindByOwner + Insert/Overwrite while holding the owning account's row lock.
package magiclinks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/server/models"
)

// Repository defines the ledger operations.
type Repository interface {
	// FindByOwner returns the record of an account or common.ErrorNotFound.
	FindByOwner(ctx context.Context, ownerID string) (*models.MagicLink, error)

	// Insert stores a new record. An empty ID is assigned.
	Insert(ctx context.Context, link *models.MagicLink) error

	// Overwrite replaces digest, timestamps and provenance of the record with
	// link.ID and resets used_at. Returns common.ErrorNotFound if the row is gone.
	Overwrite(ctx context.Context, link *models.MagicLink) error

	// FindByDigest returns the record with the given digest or
	// common.ErrorNotFound. Only meaningful for deterministic hashers.
	FindByDigest(ctx context.Context, digest string) (*models.MagicLink, error)

	// List returns every record that has not been reaped.
	List(ctx context.Context) ([]*models.MagicLink, error)

	// Get returns a record by id or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.MagicLink, error)

	// MarkUsed sets used_at on the record only if it is still unused and
	// still carries digest. It reports whether the update applied.
	MarkUsed(ctx context.Context, id, digest string, at time.Time) (bool, error)

	// ListStale returns up to limit records that expired before now or were
	// used before usedBefore.
	ListStale(ctx context.Context, now, usedBefore time.Time, limit int) ([]*models.MagicLink, error)

	// DeleteIfUnchanged deletes the record only if digest, expires_at and
	// used_at still match the values in link. It reports whether a row was deleted.
	DeleteIfUnchanged(ctx context.Context, link *models.MagicLink) (bool, error)

	// CountByOwner returns the number of records held for an account.
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}
