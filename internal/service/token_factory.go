package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/pkg/duration"
	"github.com/noah-isme/course-api/pkg/signing"
)

// TokenFactoryConfig carries the signing material for both token kinds. Expiries use the
// <int>(s|m|h|d) notation.
type TokenFactoryConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  string
	RefreshExpiry string
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// TokenFactory mints and parses access/refresh token pairs. It only ever sees a resolved
// Principal; credentials are checked elsewhere.
type TokenFactory struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
	audience      string
	leeway        time.Duration

	now   func() time.Time
	newID func() string
}

// NewTokenFactory validates cfg and constructs a factory.
func NewTokenFactory(cfg TokenFactoryConfig) (*TokenFactory, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token factory: both secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token factory: access and refresh secrets must differ")
	}

	accessExpiry, err := duration.Parse(cfg.AccessExpiry)
	if err != nil {
		return nil, fmt.Errorf("token factory: access expiry: %w", err)
	}
	refreshExpiry, err := duration.Parse(cfg.RefreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("token factory: refresh expiry: %w", err)
	}

	return &TokenFactory{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		leeway:        cfg.Leeway,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}, nil
}

// AccessExpiry returns the configured access token lifetime.
func (f *TokenFactory) AccessExpiry() time.Duration { return f.accessExpiry }

// RefreshExpiry returns the configured refresh token lifetime.
func (f *TokenFactory) RefreshExpiry() time.Duration { return f.refreshExpiry }

// Issue mints a new pair for principal. Both tokens share one freshly generated rotation id.
func (f *TokenFactory) Issue(principal *models.Principal) (*models.TokenPair, error) {
	if principal == nil || principal.ID == "" {
		return nil, errors.New("token factory: principal id required")
	}

	issuedAt := f.now()
	rotationID := f.newID()

	access := &models.AccessClaims{
		Email:   principal.Email,
		IsAdmin: principal.IsAdmin,
		Type:    models.TokenTypeAccess,
	}
	access.Subject = principal.ID
	accessToken, err := signing.Sign(access, f.accessSecret, f.options(models.TokenTypeAccess, rotationID, f.accessExpiry, issuedAt))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := &models.RefreshClaims{Type: models.TokenTypeRefresh}
	refresh.Subject = principal.ID
	refreshToken, err := signing.Sign(refresh, f.refreshSecret, f.options(models.TokenTypeRefresh, rotationID, f.refreshExpiry, issuedAt))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int64(f.accessExpiry / time.Second),
		RotationID:       rotationID,
		IssuedAt:         issuedAt,
		RefreshExpiresAt: refresh.ExpiresAt.Time,
	}, nil
}

// ParseAccess verifies raw as an access token.
func (f *TokenFactory) ParseAccess(raw string) (*models.AccessClaims, error) {
	return signing.Verify[models.AccessClaims](raw, f.accessSecret, f.options(models.TokenTypeAccess, "", 0, time.Time{}))
}

// ParseRefresh verifies raw as a refresh token.
func (f *TokenFactory) ParseRefresh(raw string) (*models.RefreshClaims, error) {
	return signing.Verify[models.RefreshClaims](raw, f.refreshSecret, f.options(models.TokenTypeRefresh, "", 0, time.Time{}))
}

func (f *TokenFactory) options(kind models.TokenType, id string, expiry time.Duration, at time.Time) signing.Options {
	clock := f.now
	if !at.IsZero() {
		clock = func() time.Time { return at }
	}
	return signing.Options{
		Type:     string(kind),
		ID:       id,
		Expiry:   expiry,
		Issuer:   f.issuer,
		Audience: f.audience,
		Leeway:   f.leeway,
		Now:      clock,
	}
}

// HashToken returns the hex encoded SHA-256 digest under which a refresh token is stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
