package main

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

	"licsrv/internal/config"
	api "licsrv/pkg/contracts/api/v1"
)

// client talks to the admin routes of a licsrv instance.
type client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func newClient(baseURL, secret string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiError is a non-success answer from the server.
type apiError struct {
	Status  int
	Reason  string
	Message string
}

func (e *apiError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(config.AdminSecretHeader, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := failureOf(resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// failureOf decodes the uniform failure body. Domain failures arrive with
// status 200 and success=false.
func failureOf(status int, data []byte) error {
	var f struct {
		Success *bool  `json:"success"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &f) != nil {
		if status >= 400 {
			return &apiError{Status: status}
		}
		return nil
	}
	if status >= 400 || (f.Success != nil && !*f.Success) {
		return &apiError{Status: status, Reason: f.Reason, Message: f.Message}
	}
	return nil
}

func (c *client) issue(ctx context.Context, email, name, licenseType string) (*api.IssueResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/admin/licenses", api.IssueRequest{
		Email:       email,
		Name:        name,
		LicenseType: licenseType,
	})
	if err != nil {
		return nil, err
	}
	var resp api.IssueResponse
	return &resp, json.Unmarshal(data, &resp)
}

func (c *client) setEnabled(ctx context.Context, key string, enabled bool) (*api.AdminResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/admin/licenses/"+url.PathEscape(key)+"/enabled", api.SetEnabledRequest{Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	var resp api.AdminResponse
	return &resp, json.Unmarshal(data, &resp)
}

func (c *client) releaseDevice(ctx context.Context, key string) (*api.AdminResponse, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/admin/licenses/"+url.PathEscape(key)+"/release-device", api.ReleaseDeviceRequest{})
	if err != nil {
		return nil, err
	}
	var resp api.AdminResponse
	return &resp, json.Unmarshal(data, &resp)
}

func (c *client) list(ctx context.Context, email string) (*api.LicenseListResponse, error) {
	path := "/api/admin/licenses"
	if email != "" {
		path += "?email=" + url.QueryEscape(email)
	}
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var resp api.LicenseListResponse
	return &resp, json.Unmarshal(data, &resp)
}

func (c *client) get(ctx context.Context, key string) (*api.LicenseView, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/admin/licenses/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	var resp api.LicenseView
	return &resp, json.Unmarshal(data, &resp)
}

func (c *client) activations(ctx context.Context, key string) (*api.ActivationHistoryResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/admin/licenses/"+url.PathEscape(key)+"/activations", nil)
	if err != nil {
		return nil, err
	}
	var resp api.ActivationHistoryResponse
	return &resp, json.Unmarshal(data, &resp)
}

// export downloads the license table; format is "xlsx" or "csv".
func (c *client) export(ctx context.Context, format string) ([]byte, error) {
	if format != "xlsx" && format != "csv" {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	return c.do(ctx, http.MethodGet, "/api/admin/licenses/export."+format, nil)
}
