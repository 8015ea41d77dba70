package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-api/internal/middleware"
	"github.com/noah-isme/course-api/internal/models"
	"github.com/noah-isme/course-api/pkg/response"
)

type statsProvider interface {
	Snapshot() models.AuthStats
}

// AdminHandler serves endpoints restricted to administrators.
type AdminHandler struct {
	stats statsProvider
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(stats statsProvider) *AdminHandler {
	return &AdminHandler{stats: stats}
}

// Ping godoc
// @Summary Admin ping
// @Description Confirms the caller holds an administrator access token
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/ping [get]
func (h *AdminHandler) Ping(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{
		"status":    "ok",
		"principal": middleware.PrincipalFromContext(c),
	})
}

// Stats godoc
// @Summary Token statistics
// @Description Counters for issuance, rotation and authorization since process start
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(c *gin.Context) {
	var stats models.AuthStats
	if h.stats != nil {
		stats = h.stats.Snapshot()
	}
	response.JSON(c, http.StatusOK, stats)
}
