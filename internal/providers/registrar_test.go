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

func newTestRegistrarClient(server *httptest.Server) *RegistrarClient {
	return NewRegistrarClient(&config.RegistrarConfig{
		Endpoint: server.URL,
		APIUser:  "apiuser",
		APIKey:   "apikey",
		ClientIP: "10.0.0.1",
		Timeout:  5 * time.Second,
	})
}

func TestRegistrarClient_CheckAvailability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "namecheap.domains.check", r.URL.Query().Get("Command"))
		assert.Equal(t, "apiuser", r.URL.Query().Get("ApiUser"))
		assert.Equal(t, "example.com,taken.com", r.URL.Query().Get("DomainList"))

		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
			<ApiResponse Status="OK">
				<CommandResponse>
					<DomainCheckResult Domain="example.com" Available="true" IsPremiumName="false"/>
					<DomainCheckResult Domain="taken.com" Available="false" IsPremiumName="false"/>
				</CommandResponse>
			</ApiResponse>`))
	}))
	defer server.Close()

	client := newTestRegistrarClient(server)
	results, err := client.CheckAvailability(context.Background(), []string{"example.com", "taken.com"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.DomainAvailability{Name: "example.com", Available: true}, results[0])
	assert.Equal(t, models.DomainAvailability{Name: "taken.com", Available: false}, results[1])
}

func TestRegistrarClient_Register(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "namecheap.domains.create", r.URL.Query().Get("Command"))
		assert.Equal(t, "example.com", r.URL.Query().Get("DomainName"))
		assert.Equal(t, "2", r.URL.Query().Get("Years"))
		assert.Equal(t, "Ada", r.URL.Query().Get("RegistrantFirstName"))
		assert.Equal(t, "Ada", r.URL.Query().Get("TechFirstName"))

		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
			<ApiResponse Status="OK">
				<CommandResponse>
					<DomainCreateResult Domain="example.com" Registered="true" TransactionID="tx-1" OrderID="order-9"/>
				</CommandResponse>
			</ApiResponse>`))
	}))
	defer server.Close()

	client := newTestRegistrarClient(server)
	result, err := client.Register(context.Background(), "example.com", 2, models.RegistrantContact{
		FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
		Phone: "+1.5555550100", Address: "1 Main St", City: "London",
		Zip: "00001", Country: "GB",
	})
	require.NoError(t, err)
	assert.Equal(t, "order-9", result.OrderRef)
}

func TestRegistrarClient_Register_NotCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
			<ApiResponse Status="OK">
				<CommandResponse>
					<DomainCreateResult Domain="example.com" Registered="false"/>
				</CommandResponse>
			</ApiResponse>`))
	}))
	defer server.Close()

	client := newTestRegistrarClient(server)
	_, err := client.Register(context.Background(), "example.com", 1, models.RegistrantContact{})
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestRegistrarClient_SetHostRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "namecheap.domains.dns.setHosts", q.Get("Command"))
		assert.Equal(t, "example", q.Get("SLD"))
		assert.Equal(t, "com", q.Get("TLD"))
		assert.Equal(t, "@", q.Get("HostName1"))
		assert.Equal(t, "CNAME", q.Get("RecordType1"))
		assert.Equal(t, "edge.sitebuilder.app", q.Get("Address1"))
		assert.Equal(t, "_validation", q.Get("HostName2"))
		assert.Equal(t, "TXT", q.Get("RecordType2"))

		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
			<ApiResponse Status="OK">
				<CommandResponse>
					<DomainDNSSetHostsResult Domain="example.com" IsSuccess="true"/>
				</CommandResponse>
			</ApiResponse>`))
	}))
	defer server.Close()

	client := newTestRegistrarClient(server)
	err := client.SetHostRecords(context.Background(), "example.com", []HostRecord{
		{RecordType: "CNAME", Host: "example.com", Value: "edge.sitebuilder.app", TTL: 300},
		{RecordType: "TXT", Host: "_validation.example.com", Value: "token", TTL: 300},
	})
	assert.NoError(t, err)
}

func TestRegistrarClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
			<ApiResponse Status="ERROR">
				<Errors><Error Number="2030280">API key is invalid</Error></Errors>
			</ApiResponse>`))
	}))
	defer server.Close()

	client := newTestRegistrarClient(server)
	_, err := client.CheckAvailability(context.Background(), []string{"example.com"})
	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Contains(t, err.Error(), "API key is invalid")
}

func TestRegistrarClient_TransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close() // connection refused

	client := newTestRegistrarClient(server)
	_, err := client.CheckAvailability(context.Background(), []string{"example.com"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestSplitRegistrable(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		sld     string
		tld     string
		wantErr bool
	}{
		{"simple", "example.com", "example", "com", false},
		{"two-part tld", "example.co.uk", "example", "co.uk", false},
		{"subdomain ignored", "shop.example.com", "example", "com", false},
		{"single label", "example", "", "", true},
		{"bare two-part tld", "co.uk", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sld, tld, err := splitRegistrable(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sld, sld)
			assert.Equal(t, tt.tld, tld)
		})
	}
}

func TestRelativeHost(t *testing.T) {
	assert.Equal(t, "@", relativeHost("example.com", "example.com"))
	assert.Equal(t, "shop", relativeHost("shop.example.com", "example.com"))
	assert.Equal(t, "_validation.shop", relativeHost("_validation.shop.example.com", "example.com"))
	assert.Equal(t, "@", relativeHost("Example.COM.", "example.com"))
}
