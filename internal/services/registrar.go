package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/hostcore/internal/metrics"
)

// Registrar performs domain operations at the upstream registry.
type Registrar interface {
	RegisterDomain(ctx context.Context, req RegistrationRequest) (*RegistrarResult, error)
	UpdateNameservers(ctx context.Context, domain string, nameservers []string) (*RegistrarResult, error)
}

// RegistrationRequest asks the registrar to register a name.
type RegistrationRequest struct {
	Domain      string   `json:"domain"`
	Years       int      `json:"years"`
	Nameservers []string `json:"nameservers"`
	AutoRenew   bool     `json:"auto_renew"`
}

// RegistrarResult is the registrar's answer. Raw holds the response body for the queue entry.
type RegistrarResult struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// HTTPRegistrar calls a JSON registrar API authenticated with a bearer key.
type HTTPRegistrar struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPRegistrar(baseURL, apiKey string, timeout time.Duration) *HTTPRegistrar {
	return &HTTPRegistrar{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRegistrar) RegisterDomain(ctx context.Context, req RegistrationRequest) (*RegistrarResult, error) {
	return r.do(ctx, "register", http.MethodPost, "/domains/register", req)
}

func (r *HTTPRegistrar) UpdateNameservers(ctx context.Context, domain string, nameservers []string) (*RegistrarResult, error) {
	endpoint := "/domains/" + url.PathEscape(domain) + "/nameservers"
	return r.do(ctx, "nameservers", http.MethodPut, endpoint, map[string][]string{"nameservers": nameservers})
}

func (r *HTTPRegistrar) do(ctx context.Context, operation, method, endpoint string, payload any) (*RegistrarResult, error) {
	started := time.Now()
	defer func() {
		metrics.GatewayRequestDuration.WithLabelValues("registrar_" + operation).Observe(time.Since(started).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registrar %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("registrar %s read body: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registrar %s returned status %d: %s", operation, resp.StatusCode, truncate(string(raw), 256))
	}

	var result RegistrarResult
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("registrar %s decode: %w", operation, err)
		}
		result.Raw = json.RawMessage(raw)
	}
	return &result, nil
}

// SimulatedRegistrar accepts every request. Used when no registrar endpoint is configured.
type SimulatedRegistrar struct {
	now func() time.Time
}

func NewSimulatedRegistrar() *SimulatedRegistrar {
	return &SimulatedRegistrar{now: time.Now}
}

func (r *SimulatedRegistrar) RegisterDomain(_ context.Context, req RegistrationRequest) (*RegistrarResult, error) {
	years := req.Years
	if years <= 0 {
		years = 1
	}
	expires := r.now().AddDate(years, 0, 0)
	return r.result("registered", &expires)
}

func (r *SimulatedRegistrar) UpdateNameservers(context.Context, string, []string) (*RegistrarResult, error) {
	return r.result("updated", nil)
}

func (r *SimulatedRegistrar) result(status string, expires *time.Time) (*RegistrarResult, error) {
	res := &RegistrarResult{
		Reference: "sim-" + uuid.NewString(),
		Status:    status,
		ExpiresAt: expires,
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	res.Raw = raw
	return res, nil
}
