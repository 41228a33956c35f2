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

// Package store persists integration configuration records.
//
// A record's AuthConfig holds only stored forms: encrypted fields, secret
// references, or non-sensitive plain values. Plaintext credentials never
// reach this package.
package store

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Mode selects how an integration collects evidence.
type Mode string

const (
	ModeVisual Mode = "visual"
	ModeCode   Mode = "code"
)

// ParseMode validates a mode string strictly.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeVisual, ModeCode:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode %q (expected visual or code)", s)
}

// AuthType names the credential scheme applied to endpoint requests.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthOAuth2 AuthType = "oauth2"
)

// ParseAuthType validates an auth type string strictly. Empty means none.
func ParseAuthType(s string) (AuthType, error) {
	if s == "" {
		return AuthNone, nil
	}
	switch a := AuthType(s); a {
	case AuthNone, AuthAPIKey, AuthBearer, AuthBasic, AuthOAuth2:
		return a, nil
	}
	return "", fmt.Errorf("invalid auth type %q (expected none, api_key, bearer, basic or oauth2)", s)
}

// Endpoint is one API call made by visual sync.
type Endpoint struct {
	Name    string            `json:"name" yaml:"name"`
	Path    string            `json:"path" yaml:"path"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// ResponsePath is an optional jq expression selecting the evidence
	// data from the JSON response.
	ResponsePath string `json:"responsePath,omitempty" yaml:"responsePath,omitempty"`
}

// TestStatus records the last endpoint test.
type TestStatus struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode,omitempty"`
	TestedAt   time.Time `json:"testedAt"`
}

// IntegrationConfig is one persisted configuration record.
type IntegrationConfig struct {
	TenantID      string            `json:"tenantId"`
	IntegrationID string            `json:"integrationId"`
	Mode          Mode              `json:"mode"`
	BaseURL       string            `json:"baseUrl"`
	Endpoints     []Endpoint        `json:"endpoints,omitempty"`
	AuthType      AuthType          `json:"authType"`
	AuthConfig    map[string]string `json:"authConfig,omitempty"`
	CustomCode    string            `json:"customCode,omitempty"`
	LastTest      *TestStatus       `json:"lastTestStatus,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	UpdatedBy     string            `json:"updatedBy,omitempty"`
}

// Clone returns a deep copy.
func (c *IntegrationConfig) Clone() *IntegrationConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.AuthConfig = maps.Clone(c.AuthConfig)
	out.Endpoints = slices.Clone(c.Endpoints)
	for i := range out.Endpoints {
		out.Endpoints[i].Headers = maps.Clone(c.Endpoints[i].Headers)
	}
	if c.LastTest != nil {
		lt := *c.LastTest
		out.LastTest = &lt
	}
	return &out
}
