package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hostcore/internal/services"
)

func TestHTTPRegistrar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer reg-key", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/domains/register":
			var req services.RegistrationRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "example.com", req.Domain)
			assert.Equal(t, 2, req.Years)
			_, _ = w.Write([]byte(`{"reference":"R-9","status":"registered","expires_at":"2028-10-19T12:00:00Z"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/domains/example.com/nameservers":
			var req map[string][]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"ns1.a.net", "ns2.a.net"}, req["nameservers"])
			_, _ = w.Write([]byte(`{"status":"updated"}`))
		case r.URL.Path == "/domains/broken.com/nameservers":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"glue records missing"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := services.NewHTTPRegistrar(srv.URL, "reg-key", 5*time.Second)

	res, err := reg.RegisterDomain(context.Background(), services.RegistrationRequest{
		Domain: "example.com", Years: 2, Nameservers: []string{"ns1.a.net", "ns2.a.net"},
	})
	require.NoError(t, err)
	assert.Equal(t, "R-9", res.Reference)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, 2028, res.ExpiresAt.Year())
	assert.NotEmpty(t, res.Raw)

	res, err = reg.UpdateNameservers(context.Background(), "example.com", []string{"ns1.a.net", "ns2.a.net"})
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Status)

	_, err = reg.UpdateNameservers(context.Background(), "broken.com", []string{"ns1.a.net", "ns2.a.net"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestSimulatedRegistrar(t *testing.T) {
	reg := services.NewSimulatedRegistrar()

	res, err := reg.RegisterDomain(context.Background(), services.RegistrationRequest{Domain: "example.com", Years: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reference)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().AddDate(3, 0, 0), *res.ExpiresAt, time.Minute)

	res, err = reg.UpdateNameservers(context.Background(), "example.com", []string{"ns1.a.net", "ns2.a.net"})
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Status)
}
