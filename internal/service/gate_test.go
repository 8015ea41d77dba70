package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/repository"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
)

func TestGateAuthorize(t *testing.T) {
	factory := newTestFactory(t, time.Now().UTC())
	gate := NewGate(factory, NewBlacklist(nil, nil, nil, nil), nil, nil)

	pair, err := factory.Issue(&models.Principal{ID: "u1", Email: "user@example.com"})
	require.NoError(t, err)

	principal, err := gate.Authorize(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.ID)
	assert.False(t, principal.IsAdmin)
}

func TestGateRejections(t *testing.T) {
	now := time.Now().UTC()
	factory := newTestFactory(t, now)
	metrics := NewMetricsService()
	blacklist := NewBlacklist(nil, nil, metrics, nil)
	gate := NewGate(factory, blacklist, metrics, nil)

	pair, err := factory.Issue(&models.Principal{ID: "u1"})
	require.NoError(t, err)
	revoked, err := factory.Issue(&models.Principal{ID: "u1"})
	require.NoError(t, err)
	require.NoError(t, blacklist.Add(context.Background(), revoked.RotationID, now.Add(time.Hour)))

	cases := map[string]string{
		"empty":            "",
		"bearer prefixed":  "Bearer " + pair.AccessToken,
		"refresh token":    pair.RefreshToken,
		"tampered":         pair.AccessToken[:len(pair.AccessToken)-2] + "xx",
		"garbage":          "a.b.c",
		"blacklisted":      revoked.AccessToken,
		"trailing garbage": pair.AccessToken + "." + strings.Repeat("A", 4),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := gate.Authorize(context.Background(), raw)
			assertAppError(t, err, appErrors.ErrUnauthorized)
		})
	}

	assert.EqualValues(t, len(cases), metrics.Snapshot().AuthorizeDenied)
}

func TestGateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Now().UTC().Add(-time.Hour)
	factory := newTestFactory(t, issuedAt)
	pair, err := factory.Issue(&models.Principal{ID: "u1"})
	require.NoError(t, err)

	factory.now = func() time.Time { return time.Now().UTC() }
	_, err = NewGate(factory, nil, nil, nil).Authorize(context.Background(), pair.AccessToken)
	assertAppError(t, err, appErrors.ErrUnauthorized)
}

func TestGateFailsClosedWhenSharedTierIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	factory := newTestFactory(t, time.Now().UTC())
	gate := NewGate(factory, NewBlacklist(nil, repository.NewBlacklistRepository(client, "bl:"), nil, nil), nil, nil)

	pair, err := factory.Issue(&models.Principal{ID: "u1"})
	require.NoError(t, err)

	_, err = gate.Authorize(context.Background(), pair.AccessToken)
	require.NoError(t, err)

	mr.Close()
	_, err = gate.Authorize(context.Background(), pair.AccessToken)
	assertAppError(t, err, appErrors.ErrUnauthorized)
}
