package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/repository"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

const bearerTokenType = "Bearer"

// refreshBlacklistPrefix keeps spent refresh hashes apart from access token ids in the blacklist.
const refreshBlacklistPrefix = "refresh:"

func refreshBlacklistKey(hash string) string { return refreshBlacklistPrefix + hash }

type authUserRepository interface {
	PrincipalLookup
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	// RevokeFamilyOnReuse revokes every refresh record of an owner when a revoked token is replayed.
	RevokeFamilyOnReuse bool
}

// AuthService drives login, refresh token rotation and logout.
type AuthService struct {
	users     authUserRepository
	store     RevocationStore
	factory   *TokenFactory
	blacklist *Blacklist
	audit     AuditRecorder
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	users authUserRepository,
	store RevocationStore,
	factory *TokenFactory,
	blacklist *Blacklist,
	audit AuditRecorder,
	validate *validator.Validate,
	metrics *MetricsService,
	logger *zap.Logger,
	config AuthConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if blacklist == nil {
		blacklist = NewBlacklist(nil, nil, metrics, logger)
	}
	return &AuthService{
		users:     users,
		store:     store,
		factory:   factory,
		blacklist: blacklist,
		audit:     audit,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints a pair for an already resolved principal and persists its refresh record.
func (s *AuthService) Issue(ctx context.Context, principal *models.Principal, meta models.RequestMeta) (*models.TokenPair, error) {
	pair, err := s.factory.Issue(principal)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	record := &models.RefreshRecord{
		TokenHash:  HashToken(pair.RefreshToken),
		OwnerID:    principal.ID,
		RotationID: pair.RotationID,
		ExpiresAt:  pair.RefreshExpiresAt,
		CreatedAt:  pair.IssuedAt,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if err := s.store.RecordIssued(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	s.metrics.RecordIssued()
	return pair, nil
}

// Login authenticates a user and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}
	pair, err := s.Issue(ctx, user.Principal(), meta)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.recordAudit(ctx, models.AuditActionLogin, user.ID, map[string]string{"rotation_id": pair.RotationID}, meta)

	return &models.LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    bearerTokenType,
		ExpiresIn:    pair.ExpiresIn,
		IssuedAt:     pair.IssuedAt,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			IsAdmin:  user.IsAdmin,
		},
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is revoked before the
// successor is issued; if issuance then fails the session is gone and the user has to log in again.
func (s *AuthService) Rotate(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, s.rejectRotation(appErrors.ErrRefreshTokenInvalid, "refresh token is required")
	}

	claims, err := s.factory.ParseRefresh(req.RefreshToken)
	if err != nil {
		s.logger.Debug("refresh token rejected", zap.String("reason", err.Error()))
		return nil, s.rejectRotation(appErrors.ErrRefreshTokenInvalid, "")
	}

	hash := HashToken(req.RefreshToken)
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	if rejected := s.rejectKnownSpent(ctx, hash, claims, meta); rejected != nil {
		return nil, rejected
	}

	record, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, s.rejectRotation(appErrors.ErrRefreshTokenInvalid, "")
		}
		s.metrics.RecordRotation(ResultError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh token")
	}

	now := s.now()

	if record.Revoked {
		s.handleReuse(ctx, record, meta)
		return nil, s.rejectRotation(appErrors.ErrRefreshTokenRevoked, "")
	}

	if record.ExpiresAt.Before(now) {
		return nil, s.rejectRotation(appErrors.ErrRefreshTokenExpired, "")
	}

	if claims.Subject != record.OwnerID || claims.ID != record.RotationID {
		s.logger.Warn("refresh token does not match its record",
			zap.String("rotation_id", record.RotationID),
			zap.String("owner_id", record.OwnerID),
		)
		return nil, s.rejectRotation(appErrors.ErrRefreshTokenMismatch, "")
	}

	start := time.Now()
	won, err := s.store.Revoke(ctx, hash, now)
	s.metrics.ObserveDBQuery("refresh_revoke", time.Since(start))
	if err != nil {
		s.metrics.RecordRotation(ResultError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	if !won {
		s.logger.Info("concurrent rotation lost the race", zap.String("rotation_id", record.RotationID))
		return nil, s.rejectRotation(appErrors.ErrRefreshTokenRevoked, "")
	}
	s.rememberSpent(ctx, hash, record.ExpiresAt)

	principal, err := s.users.FindPrincipalByID(ctx, record.OwnerID)
	if err != nil {
		s.logger.Warn("session lost after revoke", zap.String("user_id", record.OwnerID), zap.Error(err))
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, s.rejectRotation(appErrors.ErrRefreshTokenInvalid, "")
		}
		s.metrics.RecordRotation(ResultError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	pair, err := s.Issue(ctx, principal, meta)
	if err != nil {
		s.logger.Warn("session lost after revoke", zap.String("user_id", record.OwnerID), zap.Error(err))
		s.metrics.RecordRotation(ResultError)
		return nil, err
	}

	s.metrics.RecordRotation(ResultSuccess)
	s.recordAudit(ctx, models.AuditActionTokenRefresh, principal.ID, map[string]string{
		"previous_rotation_id": record.RotationID,
		"rotation_id":          pair.RotationID,
	}, meta)

	return &models.RefreshTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    bearerTokenType,
		ExpiresIn:    pair.ExpiresIn,
		IssuedAt:     pair.IssuedAt,
	}, nil
}

// Logout revokes the refresh token and blacklists the access token issued with it. It never
// fails from the caller's perspective: unknown, expired or already revoked tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta models.RequestMeta) error {
	if refreshToken == "" {
		return nil
	}

	now := s.now()
	revoked, err := s.store.Revoke(ctx, HashToken(refreshToken), now)
	if err != nil {
		s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
	}

	claims, err := s.factory.ParseRefresh(refreshToken)
	if err != nil {
		s.logger.Debug("logout with unverifiable refresh token", zap.String("reason", err.Error()))
		return nil
	}

	if claims.ExpiresAt != nil {
		s.rememberSpent(ctx, HashToken(refreshToken), claims.ExpiresAt.Time)
	}

	accessExpiresAt := claims.IssuedAt.Add(s.factory.AccessExpiry())
	if err := s.blacklist.Add(ctx, claims.ID, accessExpiresAt); err != nil {
		s.logger.Warn("failed to blacklist access token on logout", zap.String("rotation_id", claims.ID), zap.Error(err))
	}

	if revoked {
		s.recordAudit(ctx, models.AuditActionLogout, claims.Subject, map[string]string{"rotation_id": claims.ID}, meta)
	}
	return nil
}

// LogoutAll revokes every refresh record owned by ownerID. Access tokens already handed out stay
// valid until they expire.
func (s *AuthService) LogoutAll(ctx context.Context, ownerID string, meta models.RequestMeta) (int64, error) {
	if ownerID == "" {
		return 0, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	count, err := s.store.RevokeAllForOwner(ctx, ownerID, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}

	s.recordAudit(ctx, models.AuditActionLogoutAll, ownerID, map[string]int64{"revoked": count}, meta)
	return count, nil
}

// rejectKnownSpent returns a rejection when the blacklist already holds hash and the store
// confirms the revocation. A blacklist miss or a store answer of "live" falls through to the
// regular lookup; only a store error on a blacklisted hash fails closed.
func (s *AuthService) rejectKnownSpent(ctx context.Context, hash string, claims *models.RefreshClaims, meta models.RequestMeta) *appErrors.Error {
	spent, err := s.blacklist.Contains(ctx, refreshBlacklistKey(hash))
	if err != nil {
		s.logger.Debug("refresh blacklist lookup failed", zap.Error(err))
		return nil
	}
	if !spent {
		return nil
	}

	revoked, err := s.store.IsRevoked(ctx, hash)
	switch {
	case err != nil && !errors.Is(err, repository.ErrRecordNotFound):
		s.logger.Warn("revocation check failed for blacklisted refresh token", zap.String("rotation_id", claims.ID), zap.Error(err))
		return s.rejectRotation(appErrors.ErrRefreshTokenRevoked, "")
	case revoked:
		s.handleReuse(ctx, &models.RefreshRecord{OwnerID: claims.Subject, RotationID: claims.ID}, meta)
		return s.rejectRotation(appErrors.ErrRefreshTokenRevoked, "")
	default:
		return nil
	}
}

// rememberSpent blacklists a revoked refresh hash until the token would have expired anyway.
func (s *AuthService) rememberSpent(ctx context.Context, hash string, expiresAt time.Time) {
	if err := s.blacklist.Add(ctx, refreshBlacklistKey(hash), expiresAt); err != nil {
		s.logger.Warn("failed to blacklist spent refresh token", zap.Error(err))
	}
}

func (s *AuthService) handleReuse(ctx context.Context, record *models.RefreshRecord, meta models.RequestMeta) {
	s.logger.Warn("revoked refresh token presented",
		zap.String("user_id", record.OwnerID),
		zap.String("rotation_id", record.RotationID),
		zap.String("ip", meta.IP),
	)

	values := map[string]interface{}{"rotation_id": record.RotationID}
	if s.config.RevokeFamilyOnReuse {
		count, err := s.store.RevokeAllForOwner(ctx, record.OwnerID, s.now())
		if err != nil {
			s.logger.Warn("failed to revoke sessions after token reuse", zap.Error(err))
		}
		values["revoked"] = count
	}

	s.recordAudit(ctx, models.AuditActionTokenReuse, record.OwnerID, values, meta)
}

func (s *AuthService) rejectRotation(kind *appErrors.Error, message string) *appErrors.Error {
	s.metrics.RecordRotation(kind.Code)
	return appErrors.Clone(kind, message)
}

func (s *AuthService) recordAudit(ctx context.Context, action, userID string, values interface{}, meta models.RequestMeta) {
	if s.audit == nil {
		return
	}

	payload, err := json.Marshal(values)
	if err != nil {
		payload = nil
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
