package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/internal/service"
)

func newTestGate(t *testing.T) (*service.Gate, *service.TokenFactory) {
	t.Helper()
	factory, err := service.NewTokenFactory(service.TokenFactoryConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  "15m",
		RefreshExpiry: "7d",
		Issuer:        "course-api",
		Audience:      "course-web",
	})
	require.NoError(t, err)
	return service.NewGate(factory, nil, nil, nil), factory
}

func newRouter(gate *service.Gate) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Authenticate(gate), func(c *gin.Context) {
		c.JSON(http.StatusOK, PrincipalFromContext(c))
	})
	r.GET("/admin", Authenticate(gate), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doGet(r *gin.Engine, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"abc", "", false},
		{"Bearer a b", "", false},
	}
	for _, tc := range cases {
		token, ok := BearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}

func TestAuthenticate(t *testing.T) {
	gate, factory := newTestGate(t)
	r := newRouter(gate)

	pair, err := factory.Issue(&models.Principal{ID: "u1", Email: "user@example.com"})
	require.NoError(t, err)

	w := doGet(r, "/me", "Bearer "+pair.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	var principal models.Principal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &principal))
	assert.Equal(t, "u1", principal.ID)

	for name, header := range map[string]string{
		"missing":       "",
		"no scheme":     pair.AccessToken,
		"refresh token": "Bearer " + pair.RefreshToken,
		"garbage":       "Bearer nope",
	} {
		t.Run(name, func(t *testing.T) {
			w := doGet(r, "/me", header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	gate, factory := newTestGate(t)
	r := newRouter(gate)

	user, err := factory.Issue(&models.Principal{ID: "u1"})
	require.NoError(t, err)
	admin, err := factory.Issue(&models.Principal{ID: "u2", IsAdmin: true})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, doGet(r, "/admin", "Bearer "+user.AccessToken).Code)
	assert.Equal(t, http.StatusNoContent, doGet(r, "/admin", "Bearer "+admin.AccessToken).Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/admin", "").Code)
}
