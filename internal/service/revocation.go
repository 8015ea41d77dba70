package service

import (
	"context"
	"time"

	"github.com/noah-isme/course-api/internal/models"
)

// RevocationStore persists refresh records keyed by token hash. It is the authoritative
// source for whether a refresh token may still be spent.
type RevocationStore interface {
	RecordIssued(ctx context.Context, record *models.RefreshRecord) error
	// FindByHash returns repository.ErrRecordNotFound when no record matches.
	FindByHash(ctx context.Context, hash string) (*models.RefreshRecord, error)
	IsRevoked(ctx context.Context, hash string) (bool, error)
	// Revoke atomically flips a live record to revoked. It reports false, without error,
	// when the record was already revoked or does not exist.
	Revoke(ctx context.Context, hash string, at time.Time) (bool, error)
	RevokeAllForOwner(ctx context.Context, ownerID string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PrincipalLookup resolves the current identity behind a subject id.
type PrincipalLookup interface {
	FindPrincipalByID(ctx context.Context, id string) (*models.Principal, error)
}

// AuditRecorder stores audit trail entries.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}
