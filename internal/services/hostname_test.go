package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases",
			input:    "Shop.Example.COM",
			expected: "shop.example.com",
		},
		{
			name:     "trims whitespace",
			input:    "  shop.example.com  ",
			expected: "shop.example.com",
		},
		{
			name:     "strips trailing dot",
			input:    "shop.example.com.",
			expected: "shop.example.com",
		},
		{
			name:     "already normalized",
			input:    "shop.example.com",
			expected: "shop.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeHostname(tt.input))
		})
	}
}

func TestValidateHostname(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		wantErr  bool
	}{
		{
			name:     "valid apex domain",
			hostname: "example.com",
			wantErr:  false,
		},
		{
			name:     "valid subdomain",
			hostname: "shop.example.com",
			wantErr:  false,
		},
		{
			name:     "valid with numbers",
			hostname: "shop123.example.com",
			wantErr:  false,
		},
		{
			name:     "valid with hyphen",
			hostname: "my-shop.example.com",
			wantErr:  false,
		},
		{
			name:     "empty",
			hostname: "",
			wantErr:  true,
		},
		{
			name:     "single label",
			hostname: "example",
			wantErr:  true,
		},
		{
			name:     "platform domain itself",
			hostname: "sitebuilder.app",
			wantErr:  true,
		},
		{
			name:     "platform subdomain",
			hostname: "shop.sitebuilder.app",
			wantErr:  true,
		},
		{
			name:     "invalid character",
			hostname: "shop_1.example.com",
			wantErr:  true,
		},
		{
			name:     "leading hyphen in label",
			hostname: "-shop.example.com",
			wantErr:  true,
		},
		{
			name:     "trailing hyphen in label",
			hostname: "shop-.example.com",
			wantErr:  true,
		},
		{
			name:     "empty label",
			hostname: "shop..example.com",
			wantErr:  true,
		},
		{
			name:     "label too long",
			hostname: strings.Repeat("a", 64) + ".example.com",
			wantErr:  true,
		},
		{
			name:     "hostname too long",
			hostname: strings.Repeat(strings.Repeat("a", 60)+".", 5) + "com",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHostname(tt.hostname, "sitebuilder.app")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
