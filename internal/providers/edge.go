package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/models"

	"github.com/rs/zerolog/log"
)

// CustomHostname is the normalized result of creating a custom-hostname
// object at the edge provider
type CustomHostname struct {
	EdgeHostnameRef string
	DNSInstructions models.DNSInstructions
}

// CertStatusResult carries the provider-reported certificate sub-state.
// Known is false when the provider could not be reached; callers treat
// that as "retry later", not as failure.
type CertStatusResult struct {
	Status models.CertificateStatus
	Known  bool
}

// EdgeProvider manages custom hostnames and their certificate lifecycle at
// the multi-tenant edge. Mutating operations are idempotent: creating an
// already-existing hostname resolves to the existing object, deleting a
// missing one succeeds.
type EdgeProvider interface {
	CreateCustomHostname(ctx context.Context, hostname string) (*CustomHostname, error)
	GetCertificateStatus(ctx context.Context, edgeHostnameRef string) (*CertStatusResult, error)
	DeleteCustomHostname(ctx context.Context, edgeHostnameRef string) error
}

// EdgeClient implements EdgeProvider against the Cloudflare custom
// hostnames API
type EdgeClient struct {
	cfg        *config.EdgeConfig
	httpClient *http.Client
	baseURL    string
}

// NewEdgeClient creates a new edge provider client
func NewEdgeClient(cfg *config.EdgeConfig) *EdgeClient {
	return &EdgeClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: "https://api.cloudflare.com/client/v4",
	}
}

type edgeAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type customHostnameResult struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	SSL      struct {
		Status            string `json:"status"`
		ValidationRecords []struct {
			TxtName  string `json:"txt_name"`
			TxtValue string `json:"txt_value"`
		} `json:"validation_records"`
	} `json:"ssl"`
	OwnershipVerification struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"ownership_verification"`
}

type customHostnameResponse struct {
	Success bool                 `json:"success"`
	Errors  []edgeAPIError       `json:"errors"`
	Result  customHostnameResult `json:"result"`
}

type customHostnameListResponse struct {
	Success bool                   `json:"success"`
	Errors  []edgeAPIError         `json:"errors"`
	Result  []customHostnameResult `json:"result"`
}

// Error code the provider returns when the hostname object already exists
// in this zone
const edgeErrCodeDuplicateHostname = 1407

// CreateCustomHostname creates a custom-hostname object and returns the DNS
// records the customer must publish. A duplicate belonging to this zone is
// resolved to the existing object; a hostname claimed elsewhere is a
// non-retryable conflict.
func (c *EdgeClient) CreateCustomHostname(ctx context.Context, hostname string) (*CustomHostname, error) {
	const op = "edge.CreateCustomHostname"

	payload := map[string]interface{}{
		"hostname": hostname,
		"ssl": map[string]interface{}{
			"method": "txt",
			"type":   "dv",
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/zones/%s/custom_hostnames", c.baseURL, c.cfg.ZoneID)
	body, statusCode, err := c.do(ctx, "POST", url, jsonData)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}

	var result customHostnameResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if !result.Success {
		if hasEdgeErrorCode(result.Errors, edgeErrCodeDuplicateHostname) {
			// Retry after timeout: the object may already be ours
			existing, lookupErr := c.findByHostname(ctx, hostname)
			if lookupErr == nil && existing != nil {
				log.Debug().Str("hostname", hostname).Msg("Custom hostname already exists, reusing")
				return existing, nil
			}
			return nil, &NonRetryableError{Op: op, Reason: "hostname already claimed by another zone"}
		}
		if len(result.Errors) > 0 {
			return nil, classifyEdgeAPIError(op, statusCode, result.Errors[0])
		}
		return nil, classifyHTTPError(op, statusCode, nil)
	}

	return normalizeCustomHostname(&result.Result, c.cfg.CNAMETarget), nil
}

// GetCertificateStatus retrieves the certificate sub-state for a custom
// hostname. Transient failures yield an unknown result, never an error.
func (c *EdgeClient) GetCertificateStatus(ctx context.Context, edgeHostnameRef string) (*CertStatusResult, error) {
	const op = "edge.GetCertificateStatus"

	url := fmt.Sprintf("%s/zones/%s/custom_hostnames/%s", c.baseURL, c.cfg.ZoneID, edgeHostnameRef)
	body, statusCode, err := c.do(ctx, "GET", url, nil)
	if err != nil {
		log.Warn().Err(err).Str("ref", edgeHostnameRef).Msg("Certificate status lookup failed")
		return &CertStatusResult{Known: false}, nil
	}

	var result customHostnameResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return &CertStatusResult{Known: false}, nil
	}

	if !result.Success {
		if statusCode == http.StatusNotFound {
			return nil, &NonRetryableError{Op: op, Reason: "custom hostname no longer exists"}
		}
		if statusCode >= 500 || statusCode == 429 {
			return &CertStatusResult{Known: false}, nil
		}
		if len(result.Errors) > 0 {
			return nil, &NonRetryableError{Op: op, Reason: result.Errors[0].Message}
		}
		return &CertStatusResult{Known: false}, nil
	}

	return &CertStatusResult{
		Status: mapCertificateStatus(result.Result.SSL.Status),
		Known:  true,
	}, nil
}

// DeleteCustomHostname removes a custom-hostname object. Not-found is
// treated as success.
func (c *EdgeClient) DeleteCustomHostname(ctx context.Context, edgeHostnameRef string) error {
	const op = "edge.DeleteCustomHostname"

	url := fmt.Sprintf("%s/zones/%s/custom_hostnames/%s", c.baseURL, c.cfg.ZoneID, edgeHostnameRef)
	body, statusCode, err := c.do(ctx, "DELETE", url, nil)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}

	if statusCode == http.StatusNotFound {
		return nil
	}

	var result customHostnameResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if !result.Success {
		if len(result.Errors) > 0 {
			return classifyEdgeAPIError(op, statusCode, result.Errors[0])
		}
		return classifyHTTPError(op, statusCode, nil)
	}

	return nil
}

// findByHostname looks up an existing custom-hostname object by name
func (c *EdgeClient) findByHostname(ctx context.Context, hostname string) (*CustomHostname, error) {
	url := fmt.Sprintf("%s/zones/%s/custom_hostnames?hostname=%s", c.baseURL, c.cfg.ZoneID, hostname)
	body, _, err := c.do(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	var result customHostnameListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !result.Success || len(result.Result) == 0 {
		return nil, fmt.Errorf("hostname %s not found in zone", hostname)
	}

	return normalizeCustomHostname(&result.Result[0], c.cfg.CNAMETarget), nil
}

func (c *EdgeClient) do(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// normalizeCustomHostname converts the provider response into the internal
// result type. The routing CNAME always targets the shared edge hostname;
// the ownership TXT comes from the provider.
func normalizeCustomHostname(result *customHostnameResult, cnameTarget string) *CustomHostname {
	instructions := models.DNSInstructions{
		{
			RecordType: "CNAME",
			Host:       result.Hostname,
			Value:      cnameTarget,
			TTL:        300,
			Purpose:    "routing",
		},
	}

	if result.OwnershipVerification.Name != "" {
		instructions = append(instructions, models.DNSInstruction{
			RecordType: strings.ToUpper(result.OwnershipVerification.Type),
			Host:       result.OwnershipVerification.Name,
			Value:      result.OwnershipVerification.Value,
			TTL:        300,
			Purpose:    "ownership_validation",
		})
	}

	for _, rec := range result.SSL.ValidationRecords {
		if rec.TxtName == "" {
			continue
		}
		instructions = append(instructions, models.DNSInstruction{
			RecordType: "TXT",
			Host:       rec.TxtName,
			Value:      rec.TxtValue,
			TTL:        300,
			Purpose:    "ownership_validation",
		})
	}

	return &CustomHostname{
		EdgeHostnameRef: result.ID,
		DNSInstructions: instructions,
	}
}

// mapCertificateStatus maps provider SSL states onto the internal sub-state
// enum
func mapCertificateStatus(providerStatus string) models.CertificateStatus {
	switch providerStatus {
	case "initializing":
		return models.CertStatusInitializing
	case "pending_validation":
		return models.CertStatusPendingValidation
	case "pending_issuance", "pending_deployment":
		return models.CertStatusPendingIssuance
	case "active":
		return models.CertStatusActive
	default:
		return models.CertStatusInitializing
	}
}

func hasEdgeErrorCode(errs []edgeAPIError, code int) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}

func classifyEdgeAPIError(op string, statusCode int, apiErr edgeAPIError) error {
	if statusCode >= 500 || statusCode == 429 {
		return &TransientError{Op: op, Err: fmt.Errorf("%s (code %d)", apiErr.Message, apiErr.Code)}
	}
	return &NonRetryableError{Op: op, Reason: fmt.Sprintf("%s (code %d)", apiErr.Message, apiErr.Code)}
}
