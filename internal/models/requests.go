package models

import "github.com/google/uuid"

// RequestActivationRequest represents a request to attach an existing domain
type RequestActivationRequest struct {
	Hostname string `json:"hostname" binding:"required,fqdn"`
}

// RegistrantContact carries the registrant details required by the registrar
type RegistrantContact struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required"`
	Address   string `json:"address" binding:"required"`
	City      string `json:"city" binding:"required"`
	State     string `json:"state"`
	Zip       string `json:"zip" binding:"required"`
	Country   string `json:"country" binding:"required"`
}

// PurchaseDomainRequest represents a request to register a new domain and
// provision it in one step
type PurchaseDomainRequest struct {
	Hostname string            `json:"hostname" binding:"required,fqdn"`
	Years    int               `json:"years" binding:"omitempty,min=1,max=10"`
	Contact  RegistrantContact `json:"contact" binding:"required"`
}

// CheckAvailabilityRequest represents a bulk domain availability check
type CheckAvailabilityRequest struct {
	Names []string `json:"names" binding:"required,min=1,max=20"`
}

// ActivationResponse represents an activation in API responses
type ActivationResponse struct {
	ID                 uuid.UUID         `json:"id"`
	SiteID             uuid.UUID         `json:"site_id"`
	Hostname           string            `json:"hostname"`
	Source             ActivationSource  `json:"source"`
	State              ActivationState   `json:"state"`
	CertificateStatus  CertificateStatus `json:"certificate_status"`
	SuspendedByBilling bool              `json:"suspended_by_billing"`
	ServingAllowed     bool              `json:"serving_allowed"`
	DNSInstructions    DNSInstructions   `json:"dns_instructions,omitempty"`
	RegistrarOrderRef  string            `json:"registrar_order_ref,omitempty"`
	FailureReason      string            `json:"failure_reason,omitempty"`
	Attempts           int               `json:"attempts"`
	MaxAttempts        int               `json:"max_attempts"`
	LastCheckedAt      *string           `json:"last_checked_at,omitempty"`
	NextCheckAt        *string           `json:"next_check_at,omitempty"`
	ActivatedAt        *string           `json:"activated_at,omitempty"`
	CreatedAt          string            `json:"created_at"`
	UpdatedAt          string            `json:"updated_at"`
}

// ActivationListResponse represents a list of activations for a site
type ActivationListResponse struct {
	Activations []ActivationResponse `json:"activations"`
	Total       int64                `json:"total"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
	HasMore     bool                 `json:"has_more"`
}

// AvailabilityResponse represents the result of a bulk availability check
type AvailabilityResponse struct {
	Results []DomainAvailability `json:"results"`
}

// DomainAvailability is the normalized registrar availability result
type DomainAvailability struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Premium   bool   `json:"premium"`
}

// ServingResponse represents the serving predicate for the edge-routing layer
type ServingResponse struct {
	Hostname       string `json:"hostname"`
	ServingAllowed bool   `json:"serving_allowed"`
}

// InternalResolveResponse represents activation resolution for internal services
type InternalResolveResponse struct {
	Hostname           string          `json:"hostname"`
	SiteID             uuid.UUID       `json:"site_id"`
	State              ActivationState `json:"state"`
	ServingAllowed     bool            `json:"serving_allowed"`
	SuspendedByBilling bool            `json:"suspended_by_billing"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
