package services

import (
	"context"
	"testing"

	"domain-activation-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDNSChecker_NoInstructions(t *testing.T) {
	checker := NewDNSChecker()

	result, err := checker.CheckInstructions(context.Background(), &models.DomainActivation{
		Hostname: "shop.example.com",
	})
	require.NoError(t, err)
	assert.False(t, result.Observed)
	assert.Contains(t, result.Message, "no DNS instructions")
}

func TestDNSChecker_UnsupportedRecordTypeSkipped(t *testing.T) {
	checker := NewDNSChecker()

	observed, _ := checker.checkRecord(context.Background(), models.DNSInstruction{
		RecordType: "MX",
		Host:       "shop.example.com",
		Value:      "mail.example.com",
	})
	assert.True(t, observed)
}
