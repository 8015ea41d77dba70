package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-api/internal/models"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
	"github.com/noah-isme/course-api/pkg/response"
)

// Gin context keys populated by Authenticate.
const (
	ContextPrincipalKey = "principal"
	ContextClaimsKey    = "accessClaims"
)

type accessAuthorizer interface {
	AuthorizeClaims(ctx context.Context, raw string) (*models.AccessClaims, error)
}

// BearerToken extracts the token from an Authorization header value. The scheme is matched
// case-insensitively; anything other than exactly "<scheme> <token>" is rejected.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// Authenticate protects routes by requiring a valid access token. This is the only place the
// "Bearer " prefix is stripped before a token reaches the gate.
func Authenticate(gate accessAuthorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		claims, err := gate.AuthorizeClaims(c.Request.Context(), raw)
		if err != nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextPrincipalKey, claims.Principal())
		c.Next()
	}
}

// RequireAdmin allows the request through only when the authenticated principal is an admin.
// It trusts the flag carried in the access token and never consults the user store.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFromContext(c)
		if principal == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !principal.IsAdmin {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// PrincipalFromContext returns the principal stored by Authenticate.
func PrincipalFromContext(c *gin.Context) *models.Principal {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return nil
	}
	principal, ok := value.(*models.Principal)
	if !ok {
		return nil
	}
	return principal
}

// ClaimsFromContext returns the verified access claims stored by Authenticate.
func ClaimsFromContext(c *gin.Context) *models.AccessClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}
