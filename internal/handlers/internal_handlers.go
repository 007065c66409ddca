package handlers

import (
	"errors"
	"net/http"

	"domain-activation-service/internal/models"
	"domain-activation-service/internal/repository"
	"domain-activation-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// InternalHandlers serves the platform-internal surface: the serving
// predicate for the edge-routing layer, hostname resolution, and probes
type InternalHandlers struct {
	activationService *services.ActivationService
	db                *gorm.DB
}

// NewInternalHandlers creates new internal handlers
func NewInternalHandlers(activationService *services.ActivationService, db *gorm.DB) *InternalHandlers {
	return &InternalHandlers{
		activationService: activationService,
		db:                db,
	}
}

// GetServing handles GET /internal/v1/serving/:hostname
// @Summary Serving predicate for the edge-routing layer
// @Description Returns whether traffic for the hostname may be served
// @Tags internal
// @Produce json
// @Param hostname path string true "Hostname"
// @Success 200 {object} models.ServingResponse
// @Router /internal/v1/serving/{hostname} [get]
func (h *InternalHandlers) GetServing(c *gin.Context) {
	hostname := c.Param("hostname")

	allowed, err := h.activationService.IsServingAllowed(c.Request.Context(), hostname)
	if err != nil {
		log.Error().Err(err).Str("hostname", hostname).Msg("Serving predicate lookup failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "serving lookup failed",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, models.ServingResponse{
		Hostname:       hostname,
		ServingAllowed: allowed,
	})
}

// ResolveHostname handles GET /internal/v1/resolve/:hostname
// @Summary Resolve a hostname to its site
// @Description Returns the non-terminal activation for a hostname, used by internal request routing
// @Tags internal
// @Produce json
// @Param hostname path string true "Hostname"
// @Success 200 {object} models.InternalResolveResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /internal/v1/resolve/{hostname} [get]
func (h *InternalHandlers) ResolveHostname(c *gin.Context) {
	hostname := c.Param("hostname")

	activation, err := h.activationService.ResolveHostname(c.Request.Context(), hostname)
	if err != nil {
		if errors.Is(err, repository.ErrActivationNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: "hostname not attached",
				Code:  "NOT_FOUND",
			})
			return
		}
		log.Error().Err(err).Str("hostname", hostname).Msg("Hostname resolution failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "resolution failed",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, models.InternalResolveResponse{
		Hostname:           activation.Hostname,
		SiteID:             activation.SiteID,
		State:              activation.State,
		ServingAllowed:     activation.ServingAllowed(),
		SuspendedByBilling: activation.SuspendedByBilling,
	})
}

// Health handles GET /health
func (h *InternalHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "domain-activation-service",
	})
}

// Ready handles GET /ready
func (h *InternalHandlers) Ready(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
