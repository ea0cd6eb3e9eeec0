// Package accounts declares the account directory contract consumed by the
// magic-link service, with PostgreSQL and in-memory implementations.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/server/models"
)

// Repository looks up and creates accounts by email.
type Repository interface {
	// Create stores a new account. ID and CreatedAt are assigned when empty.
	// A taken email yields common.ErrorAlreadyExists.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// FindByEmail returns the account with the given lowercased email or
	// common.ErrorNotFound.
	FindByEmail(ctx context.Context, email string) (*models.Account, error)

	// Get returns the account by id or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.Account, error)

	// LockByID returns the account and holds a row lock on it until the
	// surrounding transaction ends. Outside a transaction it behaves like Get.
	LockByID(ctx context.Context, id string) (*models.Account, error)

	// TouchLastLogin records a successful verification.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
