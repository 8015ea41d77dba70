package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-api/internal/middleware"
	"github.com/noah-isme/course-api/internal/models"
	appErrors "github.com/noah-isme/course-api/pkg/errors"
	"github.com/noah-isme/course-api/pkg/export"
	"github.com/noah-isme/course-api/pkg/response"
)

type authService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error)
	Rotate(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error)
	Logout(ctx context.Context, refreshToken string, meta models.RequestMeta) error
	LogoutAll(ctx context.Context, ownerID string, meta models.RequestMeta) (int64, error)
}

type activityLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditLog, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service  authService
	activity activityLister
}

// NewAuthHandler creates a new handler. activity may be nil, in which case the activity
// endpoint returns an empty list.
func NewAuthHandler(svc authService, activity activityLister) *AuthHandler {
	return &AuthHandler{service: svc, activity: activity}
}

// logoutRequest is decoded leniently; a missing or malformed body still logs out.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate user by email and password and issue a token pair
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Refresh godoc
// @Summary Rotate refresh token
// @Description Exchange a refresh token for a new token pair. The presented token is spent.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RefreshTokenRequest true "Refresh payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid refresh payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Rotate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res)
}

// Logout godoc
// @Summary Logout
// @Description Revoke the presented refresh token. Always succeeds.
// @Tags Authentication
// @Accept json
// @Param payload body handler.logoutRequest false "Logout payload"
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Lenient: an unreadable body logs out nothing but still succeeds.
		req = logoutRequest{}
	}

	if err := h.service.Logout(c.Request.Context(), req.RefreshToken, requestMeta(c)); err != nil {
		// Logout never fails for the caller; the service already logged the cause.
		_ = c.Error(err)
	}
	response.NoContent(c)
}

// LogoutAll godoc
// @Summary Logout everywhere
// @Description Revoke every refresh token owned by the caller
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	principal := middleware.PrincipalFromContext(c)
	if principal == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	revoked, err := h.service.LogoutAll(c.Request.Context(), principal.ID, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"revoked": revoked})
}

// Me godoc
// @Summary Current principal
// @Description Return the principal carried by the access token
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	principal := middleware.PrincipalFromContext(c)
	if principal == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	response.JSON(c, http.StatusOK, principal)
}

// Activity godoc
// @Summary Recent token activity
// @Description List the caller's most recent audit entries
// @Tags Authentication
// @Produce json,text/csv
// @Security BearerAuth
// @Param limit query int false "Maximum entries (default 20, max 100)"
// @Param format query string false "json (default) or csv"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/activity [get]
func (h *AuthHandler) Activity(c *gin.Context) {
	principal := middleware.PrincipalFromContext(c)
	if principal == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	entries := []models.AuditLog{}
	if h.activity != nil {
		items, err := h.activity.ListByUser(c.Request.Context(), principal.ID, limit)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity"))
			return
		}
		if items != nil {
			entries = items
		}
	}

	if c.Query("format") == "csv" {
		writeActivityCSV(c, entries)
		return
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"count": len(entries)})
}

var activityHeaders = []string{"created_at", "action", "resource", "ip_address", "user_agent"}

func writeActivityCSV(c *gin.Context, entries []models.AuditLog) {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.Action,
			entry.Resource,
			entry.IPAddress,
			entry.UserAgent,
		})
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", `attachment; filename="activity.csv"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, export.Table{Headers: activityHeaders, Rows: rows}); err != nil {
		_ = c.Error(err)
	}
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
