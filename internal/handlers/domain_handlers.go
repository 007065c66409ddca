package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"domain-activation-service/internal/models"
	"domain-activation-service/internal/providers"
	"domain-activation-service/internal/repository"
	"domain-activation-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DomainHandlers handles HTTP requests for domain activation operations
type DomainHandlers struct {
	activationService *services.ActivationService
}

// NewDomainHandlers creates new domain handlers
func NewDomainHandlers(activationService *services.ActivationService) *DomainHandlers {
	return &DomainHandlers{
		activationService: activationService,
	}
}

// RequestActivation handles POST /api/v1/domains
// @Summary Attach a customer-owned domain
// @Description Request activation of an existing domain for the calling site
// @Tags domains
// @Accept json
// @Produce json
// @Param request body models.RequestActivationRequest true "Activation request"
// @Success 202 {object} models.ActivationResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 402 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/domains [post]
func (h *DomainHandlers) RequestActivation(c *gin.Context) {
	siteID, err := getSiteFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	var req models.RequestActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: "Please check your request data and try again",
		})
		return
	}

	activation, err := h.activationService.RequestActivation(c.Request.Context(), siteID, req.Hostname)
	if err != nil {
		h.writeActivationError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toActivationResponse(activation))
}

// PurchaseDomain handles POST /api/v1/domains/purchase
// @Summary Purchase and attach a new domain
// @Description Register a new domain through the platform registrar and provision it
// @Tags domains
// @Accept json
// @Produce json
// @Param request body models.PurchaseDomainRequest true "Purchase request"
// @Success 202 {object} models.ActivationResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 402 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /api/v1/domains/purchase [post]
func (h *DomainHandlers) PurchaseDomain(c *gin.Context) {
	siteID, err := getSiteFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	var req models.PurchaseDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: "Please check your request data and try again",
		})
		return
	}

	activation, err := h.activationService.PurchaseDomain(c.Request.Context(), siteID, &req)
	if err != nil {
		if errors.Is(err, services.ErrDomainUnavailable) {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "domain unavailable",
				Code:    "DOMAIN_UNAVAILABLE",
				Message: "This domain is not available for registration",
			})
			return
		}
		if providers.IsTransient(err) || providers.IsNonRetryable(err) {
			log.Error().Err(err).Msg("Registrar purchase failed")
			c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Error:   "registration failed",
				Code:    "REGISTRAR_ERROR",
				Message: "The registrar could not complete the registration",
			})
			return
		}
		h.writeActivationError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toActivationResponse(activation))
}

// CheckAvailability handles POST /api/v1/domains/availability
// @Summary Check domain availability
// @Description Bulk availability check against the platform registrar
// @Tags domains
// @Accept json
// @Produce json
// @Param request body models.CheckAvailabilityRequest true "Names to check"
// @Success 200 {object} models.AvailabilityResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /api/v1/domains/availability [post]
func (h *DomainHandlers) CheckAvailability(c *gin.Context) {
	var req models.CheckAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Code:    "INVALID_REQUEST",
			Message: "Please check your request data and try again",
		})
		return
	}

	results, err := h.activationService.CheckAvailability(c.Request.Context(), req.Names)
	if err != nil {
		if errors.Is(err, services.ErrInvalidHostname) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid hostname",
				Code:    "INVALID_HOSTNAME",
				Message: err.Error(),
			})
			return
		}
		log.Error().Err(err).Msg("Availability check failed")
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error: "availability check failed",
			Code:  "REGISTRAR_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, models.AvailabilityResponse{Results: results})
}

// GetActivation handles GET /api/v1/domains/:hostname
// @Summary Get activation status
// @Description Get the activation state, certificate sub-state and DNS instructions for a hostname
// @Tags domains
// @Produce json
// @Param hostname path string true "Hostname"
// @Success 200 {object} models.ActivationResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/domains/{hostname} [get]
func (h *DomainHandlers) GetActivation(c *gin.Context) {
	siteID, err := getSiteFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	activation, err := h.activationService.GetActivation(c.Request.Context(), siteID, c.Param("hostname"))
	if err != nil {
		if errors.Is(err, repository.ErrActivationNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: "activation not found",
				Code:  "NOT_FOUND",
			})
			return
		}
		log.Error().Err(err).Msg("Failed to get activation")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to get activation",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, toActivationResponse(activation))
}

// ListActivations handles GET /api/v1/domains
// @Summary List a site's domain activations
// @Tags domains
// @Produce json
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} models.ActivationListResponse
// @Router /api/v1/domains [get]
func (h *DomainHandlers) ListActivations(c *gin.Context) {
	siteID, err := getSiteFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	activations, total, err := h.activationService.ListActivations(c.Request.Context(), siteID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list activations")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to list activations",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	responses := make([]models.ActivationResponse, 0, len(activations))
	for i := range activations {
		responses = append(responses, *toActivationResponse(&activations[i]))
	}

	c.JSON(http.StatusOK, models.ActivationListResponse{
		Activations: responses,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		HasMore:     int64(offset+len(responses)) < total,
	})
}

// Teardown handles DELETE /api/v1/domains/:hostname
// @Summary Detach a domain from its site
// @Description Best-effort provider cleanup, then the activation ends in removed
// @Tags domains
// @Produce json
// @Param hostname path string true "Hostname"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/domains/{hostname} [delete]
func (h *DomainHandlers) Teardown(c *gin.Context) {
	siteID, err := getSiteFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	err = h.activationService.Teardown(c.Request.Context(), siteID, c.Param("hostname"))
	if err != nil {
		if errors.Is(err, repository.ErrActivationNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: "activation not found",
				Code:  "NOT_FOUND",
			})
			return
		}
		log.Error().Err(err).Msg("Failed to tear down activation")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to tear down activation",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "domain detached",
	})
}

// GetActivities handles GET /api/v1/domains/:hostname/activities
// @Summary Get the audit log for an activation
// @Tags domains
// @Produce json
// @Param hostname path string true "Hostname"
// @Param limit query int false "Max entries" default(50)
// @Success 200 {array} models.ActivationActivity
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/domains/{hostname}/activities [get]
func (h *DomainHandlers) GetActivities(c *gin.Context) {
	siteID, err := getSiteFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	activities, err := h.activationService.GetActivities(c.Request.Context(), siteID, c.Param("hostname"), limit)
	if err != nil {
		if errors.Is(err, repository.ErrActivationNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: "activation not found",
				Code:  "NOT_FOUND",
			})
			return
		}
		log.Error().Err(err).Msg("Failed to get activities")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to get activities",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, activities)
}

func (h *DomainHandlers) writeActivationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidHostname):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid hostname",
			Code:    "INVALID_HOSTNAME",
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrHostnameInUse):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "hostname in use",
			Code:    "HOSTNAME_IN_USE",
			Message: "This hostname is already attached to another site",
		})
	case errors.Is(err, services.ErrPlanForbids):
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Error:   "plan does not include custom domains",
			Code:    "PLAN_FORBIDS",
			Message: "Upgrade your plan to attach custom domains",
		})
	case errors.Is(err, services.ErrBillingSuspended):
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Error:   "subscription not in good standing",
			Code:    "BILLING_SUSPENDED",
			Message: "Settle your outstanding balance to attach custom domains",
		})
	default:
		log.Error().Err(err).Msg("Failed to request activation")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "failed to request activation",
			Code:  "INTERNAL_ERROR",
		})
	}
}

// getSiteFromContext extracts the site ID set by the platform gateway
func getSiteFromContext(c *gin.Context) (uuid.UUID, error) {
	return uuid.Parse(c.GetHeader("X-Site-ID"))
}

func toActivationResponse(a *models.DomainActivation) *models.ActivationResponse {
	resp := &models.ActivationResponse{
		ID:                 a.ID,
		SiteID:             a.SiteID,
		Hostname:           a.Hostname,
		Source:             a.Source,
		State:              a.State,
		CertificateStatus:  a.CertificateStatus,
		SuspendedByBilling: a.SuspendedByBilling,
		ServingAllowed:     a.ServingAllowed(),
		DNSInstructions:    a.DNSInstructions,
		RegistrarOrderRef:  a.RegistrarOrderRef,
		FailureReason:      a.FailureReason,
		Attempts:           a.Attempts,
		MaxAttempts:        a.MaxAttempts,
		CreatedAt:          a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.Format(time.RFC3339),
	}
	resp.LastCheckedAt = formatTimePtr(a.LastCheckedAt)
	resp.NextCheckAt = formatTimePtr(a.NextCheckAt)
	resp.ActivatedAt = formatTimePtr(a.ActivatedAt)
	return resp
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
