package services

import (
	"fmt"
	"strings"
)

// NormalizeHostname lowercases and trims a user-supplied hostname
func NormalizeHostname(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
}

// ValidateHostname validates hostname format and rejects the platform's own
// domain. Expects an already-normalized hostname.
func ValidateHostname(hostname, platformDomain string) error {
	if len(hostname) == 0 {
		return fmt.Errorf("hostname cannot be empty")
	}

	if len(hostname) > 253 {
		return fmt.Errorf("hostname exceeds maximum length of 253 characters")
	}

	for i, r := range hostname {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '.') {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	parts := strings.Split(hostname, ".")
	if len(parts) < 2 {
		return fmt.Errorf("hostname must have at least two labels")
	}

	for _, part := range parts {
		if len(part) == 0 {
			return fmt.Errorf("hostname labels cannot be empty")
		}
		if len(part) > 63 {
			return fmt.Errorf("hostname label exceeds maximum length of 63 characters")
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return fmt.Errorf("hostname labels cannot start or end with hyphen")
		}
	}

	if platformDomain != "" {
		if hostname == platformDomain || strings.HasSuffix(hostname, "."+platformDomain) {
			return fmt.Errorf("cannot use platform domain")
		}
	}

	return nil
}
