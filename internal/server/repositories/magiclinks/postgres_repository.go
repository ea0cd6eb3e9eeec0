package magiclinks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/dbx"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/google/uuid"
)

const linkColumns = `id, owner_id, secret_digest, created_at, expires_at, used_at, ip_address, user_agent`

// PostgresRepository implements the ledger over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByOwner(ctx context.Context, ownerID string) (*models.MagicLink, error) {
	query := `SELECT ` + linkColumns + ` FROM magic_links WHERE owner_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.queryOne(ctx, query, ownerID)
}

func (r *PostgresRepository) Insert(ctx context.Context, link *models.MagicLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	query := `
		INSERT INTO magic_links (id, owner_id, secret_digest, created_at, expires_at, used_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.OwnerID, link.SecretDigest, link.CreatedAt, link.ExpiresAt,
		nullString(link.Provenance.IP), nullString(link.Provenance.UserAgent))
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	link.UsedAt = nil
	return nil
}

func (r *PostgresRepository) Overwrite(ctx context.Context, link *models.MagicLink) error {
	query := `
		UPDATE magic_links
		SET secret_digest = $2, created_at = $3, expires_at = $4, used_at = NULL,
		    ip_address = $5, user_agent = $6
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		link.ID, link.SecretDigest, link.CreatedAt, link.ExpiresAt,
		nullString(link.Provenance.IP), nullString(link.Provenance.UserAgent))
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("db error: %w", err)
	} else if n == 0 {
		return common.ErrorNotFound
	}
	link.UsedAt = nil
	return nil
}

func (r *PostgresRepository) FindByDigest(ctx context.Context, digest string) (*models.MagicLink, error) {
	query := `SELECT ` + linkColumns + ` FROM magic_links WHERE secret_digest = $1`
	return r.queryOne(ctx, query, digest)
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.MagicLink, error) {
	query := `SELECT ` + linkColumns + ` FROM magic_links ORDER BY created_at DESC`
	return r.queryMany(ctx, query)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.MagicLink, error) {
	query := `SELECT ` + linkColumns + ` FROM magic_links WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id, digest string, at time.Time) (bool, error) {
	query := `
		UPDATE magic_links
		SET used_at = $3
		WHERE id = $1 AND secret_digest = $2 AND used_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, digest, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) ListStale(ctx context.Context, now, usedBefore time.Time, limit int) ([]*models.MagicLink, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM magic_links
		WHERE expires_at < $1 OR (used_at IS NOT NULL AND used_at < $2)
		ORDER BY expires_at
		LIMIT $3
	`
	return r.queryMany(ctx, query, now, usedBefore, limit)
}

func (r *PostgresRepository) DeleteIfUnchanged(ctx context.Context, link *models.MagicLink) (bool, error) {
	query := `
		DELETE FROM magic_links
		WHERE id = $1 AND secret_digest = $2 AND expires_at = $3
		  AND used_at IS NOT DISTINCT FROM $4
	`
	var usedAt sql.NullTime
	if link.UsedAt != nil {
		usedAt = sql.NullTime{Time: *link.UsedAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, query, link.ID, link.SecretDigest, link.ExpiresAt, usedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM magic_links WHERE owner_id = $1`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(s scanner) (*models.MagicLink, error) {
	var (
		l         models.MagicLink
		usedAt    sql.NullTime
		ip, agent sql.NullString
	)
	if err := s.Scan(&l.ID, &l.OwnerID, &l.SecretDigest, &l.CreatedAt, &l.ExpiresAt, &usedAt, &ip, &agent); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		l.UsedAt = &t
	}
	l.Provenance = models.Provenance{IP: ip.String, UserAgent: agent.String}
	return &l, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.MagicLink, error) {
	l, err := scanLink(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]*models.MagicLink, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var links []*models.MagicLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return links, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
