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

package integration

import (
	"time"

	"github.com/tombee/complykit/internal/codepolicy"
	"github.com/tombee/complykit/internal/store"
)

// ConfigView is an integration config as shown to callers. Sensitive auth
// fields are masked.
type ConfigView struct {
	TenantID       string            `json:"tenantId"`
	IntegrationID  string            `json:"integrationId"`
	Mode           store.Mode        `json:"mode"`
	BaseURL        string            `json:"baseUrl"`
	Endpoints      []store.Endpoint  `json:"endpoints"`
	AuthType       store.AuthType    `json:"authType"`
	AuthConfig     map[string]string `json:"authConfig"`
	HasCredentials bool              `json:"hasCredentials"`
	CustomCode     string            `json:"customCode,omitempty"`
	LastTestStatus *store.TestStatus `json:"lastTestStatus,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	UpdatedBy      string            `json:"updatedBy,omitempty"`
}

// SaveRequest is the caller's desired config.
//
// AuthConfig nil leaves stored credentials untouched. A field whose value
// is a masked echo keeps its stored value; an empty value removes the
// field.
type SaveRequest struct {
	Mode       string            `json:"mode" yaml:"mode"`
	BaseURL    string            `json:"baseUrl" yaml:"baseUrl"`
	Endpoints  []store.Endpoint  `json:"endpoints" yaml:"endpoints"`
	AuthType   string            `json:"authType" yaml:"authType"`
	AuthConfig map[string]string `json:"authConfig,omitempty" yaml:"authConfig,omitempty"`
	CustomCode string            `json:"customCode,omitempty" yaml:"customCode,omitempty"`
}

// TestRequest selects the endpoint to test. BaseURL and AuthConfig are
// accepted for wire compatibility and ignored: tests always use the stored
// configuration.
type TestRequest struct {
	EndpointIndex int               `json:"endpointIndex"`
	BaseURL       string            `json:"baseUrl,omitempty"`
	AuthConfig    map[string]string `json:"authConfig,omitempty"`
}

// ValidationResult reports code policy findings.
type ValidationResult = codepolicy.Result

// SyncResult reports one sync.
type SyncResult struct {
	Success         bool     `json:"success"`
	EvidenceCreated int      `json:"evidenceCreated"`
	Message         string   `json:"message"`
	Errors          []string `json:"errors,omitempty"`

	// ErrorType classifies a failed custom-code run (sandbox_timeout,
	// sandbox_runtime, policy_violation). Empty otherwise.
	ErrorType string `json:"errorType,omitempty"`
}

// RotationResult reports a key rotation. Errors lists the integration ids
// whose credentials could not be re-encrypted.
type RotationResult struct {
	Success            bool     `json:"success"`
	CredentialsRotated int      `json:"credentialsRotated"`
	Errors             []string `json:"errors"`
}
