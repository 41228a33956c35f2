// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package endpoint issues the authenticated HTTP calls of visual-mode
// integrations: single-endpoint connection tests and full evidence syncs.
//
// Every request is built from a stored, trusted configuration. Callers
// cannot override the base URL or credentials, and all traffic flows
// through the SSRF-guarded client.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/jq"
	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/safefetch"
	"github.com/tombee/complykit/internal/secrets"
	"github.com/tombee/complykit/internal/store"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// maxPreview bounds the body text echoed back in a failed test result.
const maxPreview = 500

// TestResult reports one endpoint test.
type TestResult struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	StatusCode   int           `json:"statusCode,omitempty"`
	Data         any           `json:"data,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"responseTime"`
}

// Tester runs endpoint calls for visual-mode integrations.
type Tester struct {
	client *safefetch.Client
	jq     *jq.Executor
	logger *slog.Logger
}

// Option configures a Tester.
type Option func(*Tester)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tester) { t.logger = logger }
}

// WithExecutor replaces the jq executor used for response paths.
func WithExecutor(e *jq.Executor) Option {
	return func(t *Tester) { t.jq = e }
}

// New creates a Tester on top of a guarded client.
func New(client *safefetch.Client, opts ...Option) *Tester {
	t := &Tester{
		client: client,
		jq:     jq.NewExecutor(0, 0),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = log.WithComponent(log.OrDiscard(t.logger), "endpoint")
	return t
}

// Test calls the endpoint at index using cfg's stored base URL and
// credentials. Configuration problems and SSRF blocks are returned as
// errors; everything the remote side does is reported in the result.
func (t *Tester) Test(ctx context.Context, cfg *store.IntegrationConfig, creds map[string]string, index int) (*TestResult, error) {
	if index < 0 || index >= len(cfg.Endpoints) {
		return nil, &ckerrors.ConfigError{
			Key:    fmt.Sprintf("endpoints[%d]", index),
			Reason: fmt.Sprintf("endpoint index out of range (have %d)", len(cfg.Endpoints)),
		}
	}
	ep := cfg.Endpoints[index]
	target, err := endpointURL(cfg.BaseURL, ep.Path)
	if err != nil {
		return nil, err
	}

	headers, err := t.AuthHeaders(ctx, cfg.AuthType, creds)
	if err != nil {
		if isCallerError(err) {
			return nil, err
		}
		return &TestResult{Success: false, Message: "Authentication failed", Error: err.Error()}, nil
	}

	start := time.Now()
	status, body, err := t.call(ctx, ep, target, headers)
	elapsed := time.Since(start)
	if err != nil {
		if ckerrors.IsSSRF(err) {
			return nil, err
		}
		return &TestResult{Success: false, Message: "Request failed", Error: err.Error(), ResponseTime: elapsed}, nil
	}

	result := &TestResult{
		StatusCode:   status,
		ResponseTime: elapsed,
		Success:      status >= 200 && status < 300,
	}
	if !result.Success {
		result.Message = fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
		result.Error = preview(body)
		return result, nil
	}

	result.Message = "Connection successful"
	data, err := t.extract(ctx, ep, body)
	if err != nil {
		result.Success = false
		result.Message = "Response could not be processed"
		result.Error = err.Error()
		return result, nil
	}
	result.Data = data
	return result, nil
}

// Sync calls every configured endpoint and returns one evidence item per
// successful call. A failing endpoint is recorded in errs and does not stop
// the others.
func (t *Tester) Sync(ctx context.Context, cfg *store.IntegrationConfig, creds map[string]string) (items []evidence.Item, errs []string) {
	if len(cfg.Endpoints) == 0 {
		return nil, []string{"no endpoints configured"}
	}

	headers, err := t.AuthHeaders(ctx, cfg.AuthType, creds)
	if err != nil {
		return nil, []string{"authentication: " + err.Error()}
	}

	logger := log.WithTenant(t.logger, cfg.TenantID, cfg.IntegrationID)
	for i, ep := range cfg.Endpoints {
		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("endpoint %d", i+1)
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			break
		}

		item, err := t.syncOne(ctx, cfg.BaseURL, ep, name, headers)
		if err != nil {
			logger.Warn("endpoint sync failed", slog.String("endpoint", name), log.Error(err))
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

func (t *Tester) syncOne(ctx context.Context, baseURL string, ep store.Endpoint, name string, headers map[string]string) (evidence.Item, error) {
	target, err := endpointURL(baseURL, ep.Path)
	if err != nil {
		return evidence.Item{}, err
	}
	status, body, err := t.call(ctx, ep, target, headers)
	if err != nil {
		return evidence.Item{}, err
	}
	if status < 200 || status >= 300 {
		return evidence.Item{}, fmt.Errorf("HTTP %d %s", status, http.StatusText(status))
	}
	data, err := t.extract(ctx, ep, body)
	if err != nil {
		return evidence.Item{}, err
	}
	return evidence.Item{
		Title:       name,
		Description: fmt.Sprintf("%s %s", method(ep), ep.Path),
		Data:        data,
		Type:        evidence.TypeAPIResponse,
	}, nil
}

func (t *Tester) call(ctx context.Context, ep store.Endpoint, target string, headers map[string]string) (int, []byte, error) {
	var reqBody io.Reader
	if ep.Body != "" {
		reqBody = bytes.NewReader([]byte(ep.Body))
	}
	req, err := http.NewRequestWithContext(ctx, method(ep), target, reqBody)
	if err != nil {
		return 0, nil, &ckerrors.ConfigError{Key: "endpoint", Reason: "invalid request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if ep.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	// Credentials win over endpoint-level headers of the same name.
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// extract decodes a JSON body, applies the endpoint's response path and
// strips unsafe keys. Non-JSON bodies become a string.
func (t *Tester) extract(ctx context.Context, ep store.Endpoint, body []byte) (any, error) {
	var data any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			if ep.ResponsePath != "" {
				return nil, fmt.Errorf("response path needs a JSON response: %w", err)
			}
			return string(body), nil
		}
	}
	if ep.ResponsePath != "" {
		selected, err := t.jq.Execute(ctx, ep.ResponsePath, data)
		if err != nil {
			return nil, fmt.Errorf("response path %q: %w", ep.ResponsePath, err)
		}
		data = selected
	}
	return secrets.SafeCopy(data), nil
}

// endpointURL joins a stored base URL and a relative endpoint path.
// Absolute or scheme-relative paths are refused so an endpoint can never
// point the stored credentials at another host.
func endpointURL(baseURL, path string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		return "", &ckerrors.ConfigError{Key: "base_url", Reason: "invalid base URL", Cause: err}
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", &ckerrors.ConfigError{Key: "base_url", Reason: "base URL must use http or https"}
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", &ckerrors.ConfigError{Key: "endpoint.path", Reason: "invalid path", Cause: err}
	}
	if ref.Scheme != "" || ref.Host != "" || strings.HasPrefix(path, "//") {
		return "", &ckerrors.ConfigError{Key: "endpoint.path", Reason: "path must be relative to the base URL"}
	}

	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawPath = ""
	if ref.RawQuery != "" {
		u.RawQuery = ref.RawQuery
	}
	u.Fragment = ""
	return u.String(), nil
}

func method(ep store.Endpoint) string {
	if ep.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(ep.Method)
}

func isCallerError(err error) bool {
	var cfgErr *ckerrors.ConfigError
	return ckerrors.As(err, &cfgErr) || ckerrors.IsSSRF(err)
}

func preview(body []byte) string {
	s := strings.ToValidUTF8(string(body), "")
	if len(s) > maxPreview {
		s = s[:maxPreview]
		s = strings.ToValidUTF8(s, "")
	}
	return s
}
