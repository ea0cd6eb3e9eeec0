// Package services contains server-side business logic: issuing and
// verifying single-use magic links and reaping stale ledger records.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/cryptox"
	"github.com/dmitrijs2005/magiclink/internal/dbx"
	"github.com/dmitrijs2005/magiclink/internal/server/config"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// IssuedLink is returned exactly once per issuance; Secret is the only copy
// of the plaintext and must go straight to delivery.
type IssuedLink struct {
	Secret    string
	LinkID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MagicLinkService issues and verifies magic links.
type MagicLinkService struct {
	options
	repomanager    repomanager.RepositoryManager
	hasher         cryptox.Hasher
	validate       *validator.Validate
	lifetime       time.Duration
	grace          time.Duration
	storeTimeout   time.Duration
	secretBytes    int
	allowedDomains map[string]struct{}
}

// NewMagicLinkService constructs the service from server config.
func NewMagicLinkService(m repomanager.RepositoryManager, h cryptox.Hasher, cfg *config.Config, opts ...Option) (*MagicLinkService, error) {
	if cfg.MagicLinkLifetime <= 0 {
		return nil, fmt.Errorf("magic link lifetime must be positive, got %s", cfg.MagicLinkLifetime)
	}
	if cfg.GraceWindow < 0 {
		return nil, fmt.Errorf("grace window must not be negative, got %s", cfg.GraceWindow)
	}
	secretBytes := cfg.SecretBytes
	if secretBytes == 0 {
		secretBytes = cryptox.DefaultSecretBytes
	}
	if secretBytes < cryptox.DefaultSecretBytes {
		return nil, cryptox.ErrWeakSecret
	}

	s := &MagicLinkService{
		options:        newOptions(opts),
		repomanager:    m,
		hasher:         h,
		validate:       validator.New(),
		lifetime:       cfg.MagicLinkLifetime,
		grace:          cfg.GraceWindow,
		storeTimeout:   cfg.StoreTimeout,
		secretBytes:    secretBytes,
		allowedDomains: make(map[string]struct{}, len(cfg.AllowedEmailDomains)),
	}
	for _, d := range cfg.AllowedEmailDomains {
		s.allowedDomains[strings.ToLower(d)] = struct{}{}
	}
	s.log = s.log.With("module", "magiclinks")
	return s, nil
}

// Issue mints a new secret for accountID and stores its digest, replacing
// whatever record the account held. The previous secret stops verifying.
// An unknown account yields common.ErrorNotFound.
func (s *MagicLinkService) Issue(ctx context.Context, accountID string, prov models.Provenance) (*IssuedLink, error) {
	secret, err := cryptox.GenerateSecret(s.secretBytes)
	if err != nil {
		return nil, fmt.Errorf("error generating secret: %w", err)
	}
	digest, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("error hashing secret: %w", err)
	}

	now := s.now()
	link := &models.MagicLink{
		OwnerID:      accountID,
		SecretDigest: digest,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.lifetime),
		Provenance:   prov,
	}

	ctx, cancel := dbx.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	err = s.repomanager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if _, err := repos.Accounts().LockByID(ctx, accountID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return errUnknownAccount
			}
			return err
		}

		ledger := repos.MagicLinks()
		existing, err := ledger.FindByOwner(ctx, accountID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return ledger.Insert(ctx, link)
		case err != nil:
			return err
		}

		link.ID = existing.ID
		err = ledger.Overwrite(ctx, link)
		if errors.Is(err, common.ErrorNotFound) {
			// reaped between the read and the write
			link.ID = ""
			return ledger.Insert(ctx, link)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, errUnknownAccount) {
			return nil, fmt.Errorf("account %s: %w", accountID, common.ErrorNotFound)
		}
		return nil, s.storageFailure(ctx, "issue", err)
	}

	s.metrics.LinkIssued()
	s.log.Info(ctx, "magic link issued", "account_id", accountID, "link_id", link.ID, "expires_at", link.ExpiresAt)

	return &IssuedLink{Secret: secret, LinkID: link.ID, IssuedAt: now, ExpiresAt: link.ExpiresAt}, nil
}

// RequestLink resolves email to an account, creating it on first use, and
// issues a link for it.
func (s *MagicLinkService) RequestLink(ctx context.Context, email string, prov models.Provenance) (*IssuedLink, *models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, nil, common.ErrInvalidEmail
	}
	if !s.domainAllowed(email) {
		return nil, nil, common.ErrEmailDomainNotAllowed
	}

	account, err := s.findOrCreateAccount(ctx, email)
	if err != nil {
		return nil, nil, err
	}

	issued, err := s.Issue(ctx, account.ID, prov)
	if err != nil {
		return nil, nil, err
	}
	return issued, account, nil
}

// Account loads the account a session was issued for. A missing account
// yields common.ErrorNotFound; store failures wrap common.ErrStorage.
func (s *MagicLinkService) Account(ctx context.Context, id string) (*models.Account, error) {
	var account *models.Account
	err := s.store(ctx, func(ctx context.Context) (err error) {
		account, err = s.repomanager.Accounts().Get(ctx, id)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("account %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return nil, s.storageFailure(ctx, "account", err)
	}
	return account, nil
}

func (s *MagicLinkService) findOrCreateAccount(ctx context.Context, email string) (*models.Account, error) {
	ctx, cancel := dbx.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	repo := s.repomanager.Accounts()
	account, err := repo.FindByEmail(ctx, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, s.storageFailure(ctx, "request", err)
	}

	account, err = repo.Create(ctx, &models.Account{
		Email:     email,
		FullName:  fullNameFromEmail(email),
		IsActive:  true,
		CreatedAt: s.now(),
	})
	if errors.Is(err, common.ErrorAlreadyExists) {
		// created concurrently
		account, err = repo.FindByEmail(ctx, email)
	}
	if err != nil {
		return nil, s.storageFailure(ctx, "request", err)
	}
	s.log.Info(ctx, "account created", "account_id", account.ID)
	return account, nil
}

func (s *MagicLinkService) domainAllowed(email string) bool {
	if len(s.allowedDomains) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	_, ok := s.allowedDomains[email[at+1:]]
	return ok
}

// fullNameFromEmail turns "jane.doe+news" into "Jane Doe".
func fullNameFromEmail(email string) string {
	local := email
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '_' || r == '-' })
	if len(parts) == 0 {
		return local
	}
	return cases.Title(language.Und).String(strings.Join(parts, " "))
}

var errUnknownAccount = errors.New("unknown account")

func (s *MagicLinkService) storageFailure(ctx context.Context, op string, err error) error {
	s.metrics.StorageError(op)
	s.log.Error(ctx, "storage failure", "op", op, "error", err)
	return dbx.StorageError(op, err)
}
