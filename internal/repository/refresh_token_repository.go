package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-api/internal/models"
)

// RefreshTokenRepository persists refresh records in Postgres. Rows are keyed by the token hash;
// the raw token is never stored.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository constructs a refresh token repository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// RecordIssued inserts a new, live record.
func (r *RefreshTokenRepository) RecordIssued(ctx context.Context, record *models.RefreshRecord) error {
	const query = `INSERT INTO refresh_tokens (token_hash, user_id, rotation_id, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:token_hash, :user_id, :rotation_id, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// FindByHash loads a record by token hash.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshRecord, error) {
	const query = `SELECT token_hash, user_id, rotation_id, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var record models.RefreshRecord
	if err := r.db.GetContext(ctx, &record, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &record, nil
}

// IsRevoked reports the revoked flag of a record.
func (r *RefreshTokenRepository) IsRevoked(ctx context.Context, hash string) (bool, error) {
	const query = `SELECT revoked FROM refresh_tokens WHERE token_hash = $1`
	var revoked bool
	if err := r.db.GetContext(ctx, &revoked, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrRecordNotFound
		}
		return false, fmt.Errorf("check refresh token: %w", err)
	}
	return revoked, nil
}

// Revoke flips a live record to revoked in a single conditional update. Exactly one of any
// number of concurrent callers observes true.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE token_hash = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, hash, at)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	return affected == 1, nil
}

// RevokeAllForOwner revokes every live record of a user.
func (r *RefreshTokenRepository) RevokeAllForOwner(ctx context.Context, ownerID string, at time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, ownerID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens rows: %w", err)
	}
	return affected, nil
}

// DeleteExpired removes records that expired before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens rows: %w", err)
	}
	return affected, nil
}
