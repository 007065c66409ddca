package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"domain-activation-service/internal/config"
	"domain-activation-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEdgeClient(server *httptest.Server) *EdgeClient {
	client := NewEdgeClient(&config.EdgeConfig{
		APIToken:    "test-token",
		ZoneID:      "zone-1",
		CNAMETarget: "edge.sitebuilder.app",
		Timeout:     5 * time.Second,
	})
	client.baseURL = server.URL
	return client
}

func TestEdgeClient_CreateCustomHostname(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/zones/zone-1/custom_hostnames", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"result": {
				"id": "ch-abc",
				"hostname": "shop.example.com",
				"ssl": {
					"status": "pending_validation",
					"validation_records": [
						{"txt_name": "_acme-challenge.shop.example.com", "txt_value": "token-tls"}
					]
				},
				"ownership_verification": {
					"type": "txt",
					"name": "_cf-custom-hostname.shop.example.com",
					"value": "token-ownership"
				}
			}
		}`))
	}))
	defer server.Close()

	client := newTestEdgeClient(server)
	result, err := client.CreateCustomHostname(context.Background(), "shop.example.com")
	require.NoError(t, err)

	assert.Equal(t, "ch-abc", result.EdgeHostnameRef)
	require.Len(t, result.DNSInstructions, 3)

	routing := result.DNSInstructions[0]
	assert.Equal(t, "CNAME", routing.RecordType)
	assert.Equal(t, "shop.example.com", routing.Host)
	assert.Equal(t, "edge.sitebuilder.app", routing.Value)
	assert.Equal(t, "routing", routing.Purpose)

	ownership := result.DNSInstructions[1]
	assert.Equal(t, "TXT", ownership.RecordType)
	assert.Equal(t, "_cf-custom-hostname.shop.example.com", ownership.Host)
	assert.Equal(t, "ownership_validation", ownership.Purpose)
}

func TestEdgeClient_CreateCustomHostname_DuplicateInOwnZone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == "POST" {
			w.Write([]byte(`{"success": false, "errors": [{"code": 1407, "message": "duplicate custom hostname"}]}`))
			return
		}
		// Lookup finds the object already belonging to this zone
		w.Write([]byte(`{
			"success": true,
			"result": [{
				"id": "ch-existing",
				"hostname": "shop.example.com",
				"ssl": {"status": "pending_validation"},
				"ownership_verification": {"type": "txt", "name": "_cf.shop.example.com", "value": "tok"}
			}]
		}`))
	}))
	defer server.Close()

	client := newTestEdgeClient(server)
	result, err := client.CreateCustomHostname(context.Background(), "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, "ch-existing", result.EdgeHostnameRef)
}

func TestEdgeClient_CreateCustomHostname_ClaimedByAnotherZone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == "POST" {
			w.Write([]byte(`{"success": false, "errors": [{"code": 1407, "message": "duplicate custom hostname"}]}`))
			return
		}
		w.Write([]byte(`{"success": true, "result": []}`))
	}))
	defer server.Close()

	client := newTestEdgeClient(server)
	_, err := client.CreateCustomHostname(context.Background(), "shop.example.com")
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestEdgeClient_CreateCustomHostname_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"success": false, "errors": [{"code": 10000, "message": "upstream error"}]}`))
	}))
	defer server.Close()

	client := newTestEdgeClient(server)
	_, err := client.CreateCustomHostname(context.Background(), "shop.example.com")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestEdgeClient_GetCertificateStatus(t *testing.T) {
	tests := []struct {
		name           string
		providerStatus string
		expected       models.CertificateStatus
	}{
		{"initializing", "initializing", models.CertStatusInitializing},
		{"pending validation", "pending_validation", models.CertStatusPendingValidation},
		{"pending issuance", "pending_issuance", models.CertStatusPendingIssuance},
		{"pending deployment folds into issuance", "pending_deployment", models.CertStatusPendingIssuance},
		{"active", "active", models.CertStatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{
					"success": true,
					"result": {"id": "ch-abc", "hostname": "shop.example.com", "ssl": {"status": "` + tt.providerStatus + `"}}
				}`))
			}))
			defer server.Close()

			client := newTestEdgeClient(server)
			result, err := client.GetCertificateStatus(context.Background(), "ch-abc")
			require.NoError(t, err)
			assert.True(t, result.Known)
			assert.Equal(t, tt.expected, result.Status)
		})
	}
}

func TestEdgeClient_GetCertificateStatus_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "errors": [{"code": 1436, "message": "not found"}]}`))
	}))
	defer server.Close()

	client := newTestEdgeClient(server)
	_, err := client.GetCertificateStatus(context.Background(), "ch-gone")
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestEdgeClient_GetCertificateStatus_UnreachableYieldsUnknown(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close() // connection refused

	client := newTestEdgeClient(server)
	result, err := client.GetCertificateStatus(context.Background(), "ch-abc")
	require.NoError(t, err)
	assert.False(t, result.Known)
}

func TestEdgeClient_DeleteCustomHostname_NotFoundIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "errors": [{"code": 1436, "message": "not found"}]}`))
	}))
	defer server.Close()

	client := newTestEdgeClient(server)
	assert.NoError(t, client.DeleteCustomHostname(context.Background(), "ch-gone"))
}
