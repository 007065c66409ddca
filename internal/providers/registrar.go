package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/models"

	"github.com/rs/zerolog/log"
)

// HostRecord is a DNS record pushed through the registrar's host-records API
// for registrar-managed domains
type HostRecord struct {
	RecordType string
	Host       string
	Value      string
	TTL        int
}

// RegistrationResult is the normalized outcome of a completed registration
type RegistrationResult struct {
	OrderRef string
}

// Registrar exposes domain availability, registration and host-record
// management. Registration is a financial operation and is never retried
// automatically; SetHostRecords is a replace-all call and therefore
// idempotent by construction.
type Registrar interface {
	CheckAvailability(ctx context.Context, names []string) ([]models.DomainAvailability, error)
	Register(ctx context.Context, name string, years int, contact models.RegistrantContact) (*RegistrationResult, error)
	SetHostRecords(ctx context.Context, name string, records []HostRecord) error
	DeleteHostRecords(ctx context.Context, name string) error
}

// RegistrarClient implements Registrar against a Namecheap-style
// XML-over-HTTP API. The wire format stays behind this type; callers only
// see the normalized result types.
type RegistrarClient struct {
	cfg        *config.RegistrarConfig
	httpClient *http.Client
}

// NewRegistrarClient creates a new registrar client
func NewRegistrarClient(cfg *config.RegistrarConfig) *RegistrarClient {
	return &RegistrarClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type registrarAPIError struct {
	Number  string `xml:"Number,attr"`
	Message string `xml:",chardata"`
}

type registrarAPIResponse struct {
	XMLName xml.Name            `xml:"ApiResponse"`
	Status  string              `xml:"Status,attr"`
	Errors  []registrarAPIError `xml:"Errors>Error"`

	CommandResponse struct {
		CheckResults []struct {
			Domain    string `xml:"Domain,attr"`
			Available bool   `xml:"Available,attr"`
			Premium   bool   `xml:"IsPremiumName,attr"`
		} `xml:"DomainCheckResult"`

		CreateResult struct {
			Domain        string `xml:"Domain,attr"`
			Registered    bool   `xml:"Registered,attr"`
			TransactionID string `xml:"TransactionID,attr"`
			OrderID       string `xml:"OrderID,attr"`
		} `xml:"DomainCreateResult"`

		SetHostsResult struct {
			Domain    string `xml:"Domain,attr"`
			IsSuccess bool   `xml:"IsSuccess,attr"`
		} `xml:"DomainDNSSetHostsResult"`
	} `xml:"CommandResponse"`
}

// CheckAvailability performs a bulk availability check
func (c *RegistrarClient) CheckAvailability(ctx context.Context, names []string) ([]models.DomainAvailability, error) {
	const op = "registrar.CheckAvailability"

	params := c.baseParams("namecheap.domains.check")
	params.Set("DomainList", strings.Join(names, ","))

	resp, err := c.call(ctx, op, params)
	if err != nil {
		return nil, err
	}

	results := make([]models.DomainAvailability, 0, len(resp.CommandResponse.CheckResults))
	for _, r := range resp.CommandResponse.CheckResults {
		results = append(results, models.DomainAvailability{
			Name:      strings.ToLower(r.Domain),
			Available: r.Available,
			Premium:   r.Premium,
		})
	}

	return results, nil
}

// Register registers a domain for the given number of years. Failures are
// returned as-is and must not be retried by the caller.
func (c *RegistrarClient) Register(ctx context.Context, name string, years int, contact models.RegistrantContact) (*RegistrationResult, error) {
	const op = "registrar.Register"

	if years <= 0 {
		years = 1
	}

	params := c.baseParams("namecheap.domains.create")
	params.Set("DomainName", name)
	params.Set("Years", strconv.Itoa(years))

	for _, role := range []string{"Registrant", "Tech", "Admin", "AuxBilling"} {
		params.Set(role+"FirstName", contact.FirstName)
		params.Set(role+"LastName", contact.LastName)
		params.Set(role+"Address1", contact.Address)
		params.Set(role+"City", contact.City)
		params.Set(role+"StateProvince", contact.State)
		params.Set(role+"PostalCode", contact.Zip)
		params.Set(role+"Country", contact.Country)
		params.Set(role+"Phone", contact.Phone)
		params.Set(role+"EmailAddress", contact.Email)
	}

	resp, err := c.call(ctx, op, params)
	if err != nil {
		return nil, err
	}

	result := resp.CommandResponse.CreateResult
	if !result.Registered {
		return nil, &NonRetryableError{Op: op, Reason: fmt.Sprintf("registration of %s was not completed", name)}
	}

	orderRef := result.OrderID
	if orderRef == "" {
		orderRef = result.TransactionID
	}

	log.Info().Str("domain", name).Str("order_ref", orderRef).Msg("Domain registered")

	return &RegistrationResult{OrderRef: orderRef}, nil
}

// SetHostRecords replaces the host records of a registrar-managed domain.
// The API is replace-all, so calling it twice with the same records is a
// no-op at the provider.
func (c *RegistrarClient) SetHostRecords(ctx context.Context, name string, records []HostRecord) error {
	const op = "registrar.SetHostRecords"

	sld, tld, err := splitRegistrable(name)
	if err != nil {
		return &NonRetryableError{Op: op, Reason: err.Error(), Err: err}
	}

	params := c.baseParams("namecheap.domains.dns.setHosts")
	params.Set("SLD", sld)
	params.Set("TLD", tld)

	for i, rec := range records {
		n := strconv.Itoa(i + 1)
		params.Set("HostName"+n, relativeHost(rec.Host, sld+"."+tld))
		params.Set("RecordType"+n, rec.RecordType)
		params.Set("Address"+n, rec.Value)
		ttl := rec.TTL
		if ttl <= 0 {
			ttl = 300
		}
		params.Set("TTL"+n, strconv.Itoa(ttl))
	}

	resp, err := c.call(ctx, op, params)
	if err != nil {
		return err
	}

	if !resp.CommandResponse.SetHostsResult.IsSuccess {
		return &NonRetryableError{Op: op, Reason: fmt.Sprintf("provider rejected host records for %s", name)}
	}

	return nil
}

// DeleteHostRecords clears the host records of a registrar-managed domain.
// Missing records are not an error.
func (c *RegistrarClient) DeleteHostRecords(ctx context.Context, name string) error {
	err := c.SetHostRecords(ctx, name, []HostRecord{})
	if IsNonRetryable(err) {
		// The domain may already be gone; teardown must not block on this
		log.Warn().Err(err).Str("domain", name).Msg("Host record cleanup rejected by registrar")
		return nil
	}
	return err
}

func (c *RegistrarClient) baseParams(command string) url.Values {
	params := url.Values{}
	params.Set("ApiUser", c.cfg.APIUser)
	params.Set("ApiKey", c.cfg.APIKey)
	params.Set("UserName", c.cfg.APIUser)
	params.Set("ClientIp", c.cfg.ClientIP)
	params.Set("Command", command)
	return params
}

func (c *RegistrarClient) call(ctx context.Context, op string, params url.Values) (*registrarAPIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &NonRetryableError{Op: op, Reason: "failed to create request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(op, resp.StatusCode, nil)
	}

	var parsed registrarAPIResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if !strings.EqualFold(parsed.Status, "OK") {
		if len(parsed.Errors) > 0 {
			return nil, &NonRetryableError{Op: op, Reason: strings.TrimSpace(parsed.Errors[0].Message)}
		}
		return nil, &NonRetryableError{Op: op, Reason: "provider returned error status"}
	}

	return &parsed, nil
}

// twoPartTLDs covers the common multi-label public suffixes the registrar
// API needs split correctly
var twoPartTLDs = map[string]bool{
	"co.uk": true, "com.au": true, "co.in": true, "co.nz": true,
	"com.br": true, "com.mx": true, "co.za": true, "com.sg": true,
	"org.uk": true, "net.au": true, "com.cn": true, "co.jp": true,
}

// splitRegistrable splits a registrable domain into SLD and TLD parts
// ("example.co.uk" -> "example", "co.uk")
func splitRegistrable(name string) (sld, tld string, err error) {
	parts := strings.Split(strings.ToLower(name), ".")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("not a registrable domain: %s", name)
	}

	lastTwo := parts[len(parts)-2] + "." + parts[len(parts)-1]
	if twoPartTLDs[lastTwo] {
		if len(parts) < 3 {
			return "", "", fmt.Errorf("not a registrable domain: %s", name)
		}
		return parts[len(parts)-3], lastTwo, nil
	}

	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// relativeHost strips the registrable-domain suffix from a fully qualified
// host ("_validation.shop.example.com" under "example.com" -> "_validation.shop"),
// using "@" for the apex as the host-records API expects
func relativeHost(host, registrable string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == registrable {
		return "@"
	}
	return strings.TrimSuffix(host, "."+registrable)
}
