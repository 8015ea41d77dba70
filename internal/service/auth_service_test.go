package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/repository"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

type memStore struct {
	mu           sync.Mutex
	records      map[string]*models.RefreshRecord
	recordErr    error
	recordErrOn  int
	recordCalls  int
	revokeErr    error
	findErr      error
	deleteCalls  int
	deleteCutoff time.Time
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.RefreshRecord)}
}

func (m *memStore) RecordIssued(ctx context.Context, record *models.RefreshRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCalls++
	if m.recordErr != nil && m.recordCalls >= m.recordErrOn {
		return m.recordErr
	}
	clone := *record
	m.records[record.TokenHash] = &clone
	return nil
}

func (m *memStore) FindByHash(ctx context.Context, hash string) (*models.RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	rec, ok := m.records[hash]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *memStore) IsRevoked(ctx context.Context, hash string) (bool, error) {
	rec, err := m.FindByHash(ctx, hash)
	if err != nil {
		return false, err
	}
	return rec.Revoked, nil
}

func (m *memStore) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revokeErr != nil {
		return false, m.revokeErr
	}
	rec, ok := m.records[hash]
	if !ok || rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	rec.RevokedAt = &at
	return true, nil
}

func (m *memStore) RevokeAllForOwner(ctx context.Context, ownerID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.OwnerID == ownerID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	m.deleteCutoff = before
	var n int64
	for hash, rec := range m.records {
		if rec.ExpiresAt.Before(before) {
			delete(m.records, hash)
			n++
		}
	}
	return n, nil
}

func (m *memStore) update(hash string, fn func(*models.RefreshRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.records[hash])
}

func (m *memStore) liveCount(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.OwnerID == ownerID && !rec.Revoked {
			n++
		}
	}
	return n
}

type mockUsers struct {
	user             *models.User
	findErr          error
	principalErr     error
	lastLoginUpdated bool
}

func (m *mockUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.user == nil || m.user.Email != email {
		return nil, repository.ErrRecordNotFound
	}
	return m.user, nil
}

func (m *mockUsers) FindPrincipalByID(ctx context.Context, id string) (*models.Principal, error) {
	if m.principalErr != nil {
		return nil, m.principalErr
	}
	if m.user == nil || m.user.ID != id {
		return nil, repository.ErrRecordNotFound
	}
	return m.user.Principal(), nil
}

func (m *mockUsers) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

type mockAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (m *mockAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}

type authHarness struct {
	svc       *AuthService
	gate      *Gate
	store     *memStore
	users     *mockUsers
	audit     *mockAudit
	factory   *TokenFactory
	metrics   *MetricsService
	blacklist *Blacklist
}

func newAuthHarness(t *testing.T, cfg AuthConfig) *authHarness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)

	factory, err := NewTokenFactory(testFactoryConfig())
	require.NoError(t, err)

	store := newMemStore()
	users := &mockUsers{user: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), FullName: "Test User", IsAdmin: true, Active: true}}
	audit := &mockAudit{}
	metrics := NewMetricsService()
	blacklist := NewBlacklist(nil, nil, metrics, zap.NewNop())

	return &authHarness{
		svc:       NewAuthService(users, store, factory, blacklist, audit, validator.New(), metrics, zap.NewNop(), cfg),
		gate:      NewGate(factory, blacklist, metrics, zap.NewNop()),
		store:     store,
		users:     users,
		audit:     audit,
		factory:   factory,
		metrics:   metrics,
		blacklist: blacklist,
	}
}

func (h *authHarness) login(t *testing.T) *models.LoginResponse {
	t.Helper()
	res, err := h.svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password", IP: "10.0.0.1"})
	require.NoError(t, err)
	return res
}

func (h *authHarness) rotate(raw string) (*models.RefreshTokenResponse, error) {
	return h.svc.Rotate(context.Background(), models.RefreshTokenRequest{RefreshToken: raw})
}

func assertAppError(t *testing.T, err error, want *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})

	res := h.login(t)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.EqualValues(t, 900, res.ExpiresIn)
	assert.True(t, res.User.IsAdmin)
	assert.True(t, h.users.lastLoginUpdated)
	assert.Equal(t, 1, h.store.liveCount("u1"))
	assert.Equal(t, []string{models.AuditActionLogin}, h.audit.actions())

	rec, err := h.store.FindByHash(context.Background(), HashToken(res.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
	assert.False(t, rec.Revoked)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		_, err := h.svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email"})
		assertAppError(t, err, appErrors.ErrValidation)
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		_, err := h.svc.Login(context.Background(), models.LoginRequest{Email: "other@example.com", Password: "password"})
		assertAppError(t, err, appErrors.ErrInvalidCredentials)
	})

	t.Run("wrong password", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		_, err := h.svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "nope"})
		assertAppError(t, err, appErrors.ErrInvalidCredentials)
		assert.Zero(t, h.store.liveCount("u1"))
	})

	t.Run("inactive", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		h.users.user.Active = false
		_, err := h.svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
		assertAppError(t, err, appErrors.ErrInactiveAccount)
	})

	t.Run("store failure", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		h.users.findErr = errors.New("db down")
		_, err := h.svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
		assertAppError(t, err, appErrors.ErrInternal)
	})
}

func TestAuthorizeRotateReplayScenario(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	ctx := context.Background()

	a := h.login(t)
	principal, err := h.gate.Authorize(ctx, a.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, &models.Principal{ID: "u1", Email: "user@example.com", IsAdmin: true}, principal)

	b, err := h.rotate(a.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)

	_, err = h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)

	principal, err = h.gate.Authorize(ctx, b.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.ID)

	assert.Equal(t, 1, h.store.liveCount("u1"))
	assert.Contains(t, h.audit.actions(), models.AuditActionTokenReuse)
}

func TestRotateNoDoubleSpend(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	a := h.login(t)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		revoked   int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.rotate(a.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appErrors.ErrRefreshTokenRevoked):
				revoked++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, revoked)
	assert.Equal(t, 1, h.store.liveCount("u1"))
}

func TestRotationChain(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	current := h.login(t).RefreshToken

	const rotations = 5
	history := []string{current}
	for i := 0; i < rotations; i++ {
		res, err := h.rotate(current)
		require.NoError(t, err)
		current = res.RefreshToken
		history = append(history, current)
	}

	for _, old := range history[:rotations] {
		_, err := h.rotate(old)
		assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
	}

	_, err := h.rotate(current)
	assert.NoError(t, err)
}

func TestRotateRejections(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		_, err := h.rotate("not-a-token")
		assertAppError(t, err, appErrors.ErrRefreshTokenInvalid)
	})

	t.Run("empty", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		_, err := h.rotate("")
		assertAppError(t, err, appErrors.ErrRefreshTokenInvalid)
	})

	t.Run("access token presented", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		a := h.login(t)
		_, err := h.rotate(a.AccessToken)
		assertAppError(t, err, appErrors.ErrRefreshTokenInvalid)
	})

	t.Run("unknown record", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		pair, err := h.factory.Issue(&models.Principal{ID: "u1"})
		require.NoError(t, err)
		_, err = h.rotate(pair.RefreshToken)
		assertAppError(t, err, appErrors.ErrRefreshTokenInvalid)
	})

	t.Run("expired record", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		a := h.login(t)
		h.store.update(HashToken(a.RefreshToken), func(r *models.RefreshRecord) {
			r.ExpiresAt = time.Now().Add(-time.Minute)
		})
		_, err := h.rotate(a.RefreshToken)
		assertAppError(t, err, appErrors.ErrRefreshTokenExpired)
	})

	t.Run("owner mismatch", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		a := h.login(t)
		h.store.update(HashToken(a.RefreshToken), func(r *models.RefreshRecord) {
			r.OwnerID = "someone-else"
		})
		_, err := h.rotate(a.RefreshToken)
		assertAppError(t, err, appErrors.ErrRefreshTokenMismatch)
		revoked, err := h.store.IsRevoked(context.Background(), HashToken(a.RefreshToken))
		require.NoError(t, err)
		assert.False(t, revoked, "mismatch must not consume the record")
	})

	t.Run("lookup failure", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		a := h.login(t)
		h.store.findErr = errors.New("db down")
		_, err := h.rotate(a.RefreshToken)
		assertAppError(t, err, appErrors.ErrInternal)
	})

	t.Run("revoke failure", func(t *testing.T) {
		h := newAuthHarness(t, AuthConfig{})
		a := h.login(t)
		h.store.revokeErr = errors.New("db down")
		_, err := h.rotate(a.RefreshToken)
		assertAppError(t, err, appErrors.ErrInternal)
	})
}

func TestRotateLosesSessionWhenReissueFails(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	a := h.login(t)

	h.store.recordErr = errors.New("insert failed")
	h.store.recordErrOn = 2
	_, err := h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrInternal)

	h.store.recordErr = nil
	_, err = h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
	assert.Zero(t, h.store.liveCount("u1"))
}

func TestRotateWithDeletedPrincipal(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	a := h.login(t)
	h.users.principalErr = repository.ErrRecordNotFound

	_, err := h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenInvalid)
	assert.Zero(t, h.store.liveCount("u1"))
}

func TestRotateReuseRevokesFamilyWhenEnabled(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{RevokeFamilyOnReuse: true})
	a := h.login(t)
	other := h.login(t)

	b, err := h.rotate(a.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 2, h.store.liveCount("u1"))

	_, err = h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
	assert.Zero(t, h.store.liveCount("u1"))

	_, err = h.rotate(b.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
	_, err = h.rotate(other.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	ctx := context.Background()
	a := h.login(t)

	require.NoError(t, h.svc.Logout(ctx, a.RefreshToken, models.RequestMeta{}))
	require.NoError(t, h.svc.Logout(ctx, a.RefreshToken, models.RequestMeta{}))
	require.NoError(t, h.svc.Logout(ctx, "garbage", models.RequestMeta{}))
	require.NoError(t, h.svc.Logout(ctx, "", models.RequestMeta{}))

	_, err := h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)

	_, err = h.gate.Authorize(ctx, a.AccessToken)
	assertAppError(t, err, appErrors.ErrUnauthorized)

	logouts := 0
	for _, action := range h.audit.actions() {
		if action == models.AuditActionLogout {
			logouts++
		}
	}
	assert.Equal(t, 1, logouts)
}

func TestSpentRefreshHashesAreBlacklisted(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	ctx := context.Background()
	a := h.login(t)

	b, err := h.rotate(a.RefreshToken)
	require.NoError(t, err)
	assert.True(t, h.blacklist.Local().Contains(refreshBlacklistKey(HashToken(a.RefreshToken))))
	assert.False(t, h.blacklist.Local().Contains(refreshBlacklistKey(HashToken(b.RefreshToken))))

	require.NoError(t, h.svc.Logout(ctx, b.RefreshToken, models.RequestMeta{}))
	assert.True(t, h.blacklist.Local().Contains(refreshBlacklistKey(HashToken(b.RefreshToken))))
}

func TestRotateKnownSpentFailsClosedOnStoreError(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	a := h.login(t)
	_, err := h.rotate(a.RefreshToken)
	require.NoError(t, err)

	h.store.findErr = errors.New("db down")
	_, err = h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
}

func TestRotateConsultsStoreOnBlacklistHit(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	ctx := context.Background()
	a := h.login(t)
	hash := HashToken(a.RefreshToken)

	// A stale local entry never overrides a live record.
	require.NoError(t, h.blacklist.Add(ctx, refreshBlacklistKey(hash), time.Now().Add(time.Hour)))
	_, err := h.rotate(a.RefreshToken)
	require.NoError(t, err)

	_, err = h.rotate(a.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
	assert.Contains(t, h.audit.actions(), models.AuditActionTokenReuse)
}

func TestLogoutSwallowsStoreErrors(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	a := h.login(t)
	h.store.revokeErr = errors.New("db down")

	assert.NoError(t, h.svc.Logout(context.Background(), a.RefreshToken, models.RequestMeta{}))
}

func TestLogoutAll(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	first := h.login(t)
	h.login(t)

	count, err := h.svc.LogoutAll(context.Background(), "u1", models.RequestMeta{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, err = h.rotate(first.RefreshToken)
	assertAppError(t, err, appErrors.ErrRefreshTokenRevoked)
	assert.Contains(t, h.audit.actions(), models.AuditActionLogoutAll)

	_, err = h.svc.LogoutAll(context.Background(), "", models.RequestMeta{})
	assertAppError(t, err, appErrors.ErrUnauthorized)
}

func TestRotationMetrics(t *testing.T) {
	h := newAuthHarness(t, AuthConfig{})
	a := h.login(t)
	_, err := h.rotate(a.RefreshToken)
	require.NoError(t, err)
	_, _ = h.rotate(a.RefreshToken)

	stats := h.metrics.Snapshot()
	assert.EqualValues(t, 2, stats.TokensIssued)
	assert.EqualValues(t, 1, stats.RotationsSucceeded)
	assert.EqualValues(t, 1, stats.RotationsRejected)
}
