package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/course-api/internal/models"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
	"github.com/noah-isme/course-api/pkg/signing"
)

// Gate authorizes requests from their access token alone. It never touches the database.
type Gate struct {
	factory   *TokenFactory
	blacklist *Blacklist
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewGate constructs a Gate. blacklist may be nil when no immediate revocation is needed.
func NewGate(factory *TokenFactory, blacklist *Blacklist, metrics *MetricsService, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{factory: factory, blacklist: blacklist, metrics: metrics, logger: logger}
}

// Authorize verifies an access token and returns the principal it was issued for.
// raw must already be stripped of any "Bearer " prefix. Every failure is reported as
// ErrUnauthorized.
func (g *Gate) Authorize(ctx context.Context, raw string) (*models.Principal, error) {
	claims, err := g.AuthorizeClaims(ctx, raw)
	if err != nil {
		return nil, err
	}
	return claims.Principal(), nil
}

// AuthorizeClaims is Authorize returning the verified claims.
func (g *Gate) AuthorizeClaims(ctx context.Context, raw string) (*models.AccessClaims, error) {
	if raw == "" {
		return nil, g.deny("missing_token", nil)
	}

	claims, err := g.factory.ParseAccess(raw)
	if err != nil {
		return nil, g.deny(rejectionReason(err), err)
	}

	if g.blacklist != nil {
		revoked, err := g.blacklist.Contains(ctx, claims.ID)
		if err != nil {
			return nil, g.deny("blacklist_unavailable", err)
		}
		if revoked {
			return nil, g.deny("revoked", nil)
		}
	}

	g.metrics.RecordAuthorize(ResultSuccess)
	return claims, nil
}

func (g *Gate) deny(reason string, err error) *appErrors.Error {
	g.metrics.RecordAuthorize(reason)
	fields := []zap.Field{zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	g.logger.Debug("access token rejected", fields...)
	return appErrors.Clone(appErrors.ErrUnauthorized, "")
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, signing.ErrExpired):
		return "expired"
	case errors.Is(err, signing.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, signing.ErrWrongTokenType):
		return "wrong_type"
	case errors.Is(err, signing.ErrNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, signing.ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, signing.ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "malformed"
	}
}
