package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/dbx"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
)

// Outcome is the verification taxonomy. Storage failures are not an
// Outcome; Verify returns them as errors.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeExpired
	OutcomeAlreadyUsed
	OutcomeSuccess
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExpired:
		return "expired"
	case OutcomeAlreadyUsed:
		return "already_used"
	case OutcomeSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// VerifyResult carries the account only for OutcomeSuccess.
type VerifyResult struct {
	Outcome Outcome
	Account *models.Account
}

// Verify checks a presented secret against the ledger.
//
// A record past expires_at is Expired whether or not it was used. The first
// successful presentation stamps used_at and the owner's last login; repeats
// within the grace window succeed again without moving used_at, later ones
// are AlreadyUsed. Any store failure, including the store timeout, is
// returned as an error wrapping common.ErrStorage and implies nothing about
// the record's state. The store timeout bounds each store round trip; digest
// comparisons run under ctx alone.
func (s *MagicLinkService) Verify(ctx context.Context, secret string) (*VerifyResult, error) {
	now := s.now()
	res, err := s.verify(ctx, secret, now)
	if err != nil {
		return nil, s.storageFailure(ctx, "verify", err)
	}

	s.metrics.Verification(res.Outcome.String())
	args := []any{"outcome", res.Outcome.String()}
	if res.Account != nil {
		args = append(args, "account_id", res.Account.ID)
	}
	s.log.Info(ctx, "magic link verified", args...)
	return res, nil
}

func (s *MagicLinkService) verify(ctx context.Context, secret string, now time.Time) (*VerifyResult, error) {
	link, err := s.match(ctx, secret)
	if errors.Is(err, common.ErrorNotFound) {
		return &VerifyResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	res, settled, err := s.evaluate(ctx, link, now)
	if err != nil || settled {
		return res, err
	}

	// MarkUsed lost to a concurrent verify or re-issue; decide once more
	// against the current row.
	var fresh *models.MagicLink
	err = s.store(ctx, func(ctx context.Context) (err error) {
		fresh, err = s.repomanager.MagicLinks().Get(ctx, link.ID)
		return err
	})
	if errors.Is(err, common.ErrorNotFound) {
		return &VerifyResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if fresh.SecretDigest != link.SecretDigest {
		return &VerifyResult{Outcome: OutcomeNotFound}, nil
	}
	res, settled, err = s.evaluate(ctx, fresh, now)
	if err != nil || settled {
		return res, err
	}
	return &VerifyResult{Outcome: OutcomeNotFound}, nil
}

// match finds the record whose digest the secret hashes to.
func (s *MagicLinkService) match(ctx context.Context, secret string) (*models.MagicLink, error) {
	ledger := s.repomanager.MagicLinks()

	if key, ok := s.hasher.LookupKey(secret); ok {
		var link *models.MagicLink
		err := s.store(ctx, func(ctx context.Context) (err error) {
			link, err = ledger.FindByDigest(ctx, key)
			return err
		})
		if err != nil {
			return nil, err
		}
		if !s.hasher.Verify(secret, link.SecretDigest) {
			return nil, common.ErrorNotFound
		}
		return link, nil
	}

	var links []*models.MagicLink
	err := s.store(ctx, func(ctx context.Context) (err error) {
		links, err = ledger.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.hasher.Verify(secret, link.SecretDigest) {
			return link, nil
		}
	}
	return nil, common.ErrorNotFound
}

// evaluate applies the state machine to link. settled is false only when
// the conditional mark did not apply because the row changed underneath.
func (s *MagicLinkService) evaluate(ctx context.Context, link *models.MagicLink, now time.Time) (res *VerifyResult, settled bool, err error) {
	if link.Expired(now) {
		return &VerifyResult{Outcome: OutcomeExpired}, true, nil
	}

	if link.Used() {
		if !link.WithinGrace(now, s.grace) {
			return &VerifyResult{Outcome: OutcomeAlreadyUsed}, true, nil
		}
		var account *models.Account
		err := s.store(ctx, func(ctx context.Context) (err error) {
			account, err = s.repomanager.Accounts().Get(ctx, link.OwnerID)
			return err
		})
		if errors.Is(err, common.ErrorNotFound) {
			return &VerifyResult{Outcome: OutcomeNotFound}, true, nil
		}
		if err != nil {
			return nil, true, err
		}
		return &VerifyResult{Outcome: OutcomeSuccess, Account: account}, true, nil
	}

	var account *models.Account
	err = s.store(ctx, func(ctx context.Context) error {
		return s.repomanager.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
			applied, err := repos.MagicLinks().MarkUsed(ctx, link.ID, link.SecretDigest, now)
			if err != nil || !applied {
				return err
			}
			if err := repos.Accounts().TouchLastLogin(ctx, link.OwnerID, now); err != nil {
				return err
			}
			account, err = repos.Accounts().Get(ctx, link.OwnerID)
			return err
		})
	})
	if err != nil {
		return nil, true, err
	}
	if account == nil {
		return nil, false, nil
	}
	return &VerifyResult{Outcome: OutcomeSuccess, Account: account}, true, nil
}

// store bounds a single store round trip by the store timeout.
func (s *MagicLinkService) store(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := dbx.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return fn(ctx)
}
