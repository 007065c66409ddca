package services

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"domain-activation-service/internal/models"

	"github.com/rs/zerolog/log"
)

// DNSCheckResult contains the outcome of checking the published records
// against an activation's DNS instructions
type DNSCheckResult struct {
	Observed  bool
	Missing   []string
	Message   string
	CheckedAt time.Time
}

// InstructionChecker observes whether an activation's DNS instructions have
// been published. Lookup failures never surface as errors; an unobserved
// result means "retry later".
type InstructionChecker interface {
	CheckInstructions(ctx context.Context, activation *models.DomainActivation) (*DNSCheckResult, error)
}

// DNSChecker verifies DNS instructions with live lookups
type DNSChecker struct {
	resolver *net.Resolver
}

// NewDNSChecker creates a new DNS checker using the system resolver, which
// respects /etc/resolv.conf (CoreDNS when running in a cluster)
func NewDNSChecker() *DNSChecker {
	return &DNSChecker{
		resolver: &net.Resolver{
			PreferGo: true,
		},
	}
}

// CheckInstructions checks every instruction of the activation. All records
// must be observed before the activation can advance past awaiting_dns.
func (c *DNSChecker) CheckInstructions(ctx context.Context, activation *models.DomainActivation) (*DNSCheckResult, error) {
	result := &DNSCheckResult{
		Observed:  true,
		CheckedAt: time.Now(),
	}

	if len(activation.DNSInstructions) == 0 {
		result.Observed = false
		result.Message = "no DNS instructions issued yet"
		return result, nil
	}

	for _, instruction := range activation.DNSInstructions {
		observed, msg := c.checkRecord(ctx, instruction)
		if !observed {
			result.Observed = false
			result.Missing = append(result.Missing, fmt.Sprintf("%s %s", instruction.RecordType, instruction.Host))
			if result.Message == "" {
				result.Message = msg
			}
		}
	}

	if result.Observed {
		result.Message = "all expected DNS records observed"
	}

	return result, nil
}

func (c *DNSChecker) checkRecord(ctx context.Context, instruction models.DNSInstruction) (bool, string) {
	switch instruction.RecordType {
	case "CNAME":
		return c.checkCNAME(ctx, instruction.Host, instruction.Value)
	case "TXT":
		return c.checkTXT(ctx, instruction.Host, instruction.Value)
	default:
		// Unknown record types cannot block the pipeline
		log.Warn().Str("type", instruction.RecordType).Str("host", instruction.Host).Msg("Skipping unsupported instruction record type")
		return true, ""
	}
}

func (c *DNSChecker) checkCNAME(ctx context.Context, host, expected string) (bool, string) {
	cname, err := c.resolver.LookupCNAME(ctx, host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return false, fmt.Sprintf("CNAME record not found at %s", host)
		}
		log.Warn().Err(err).Str("host", host).Msg("CNAME lookup failed")
		return false, "DNS lookup failed, will retry"
	}

	cname = strings.TrimSuffix(strings.ToLower(cname), ".")
	expected = strings.TrimSuffix(strings.ToLower(expected), ".")

	if cname == expected {
		return true, ""
	}

	return false, fmt.Sprintf("CNAME at %s points to %s instead of %s", host, cname, expected)
}

func (c *DNSChecker) checkTXT(ctx context.Context, host, expected string) (bool, string) {
	records, err := c.resolver.LookupTXT(ctx, host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return false, fmt.Sprintf("TXT record not found at %s", host)
		}
		log.Warn().Err(err).Str("host", host).Msg("TXT lookup failed")
		return false, "DNS lookup failed, will retry"
	}

	for _, txt := range records {
		if strings.TrimSpace(txt) == expected {
			return true, ""
		}
	}

	return false, fmt.Sprintf("TXT record at %s does not match expected value", host)
}
