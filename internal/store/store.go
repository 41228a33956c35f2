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

package store

import (
	"context"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// ConfigStore persists integration configs. Each Put replaces one record
// atomically.
type ConfigStore interface {
	// Get returns the record or *errors.NotFoundError.
	Get(ctx context.Context, tenantID, integrationID string) (*IntegrationConfig, error)

	// Put inserts or replaces a record.
	Put(ctx context.Context, cfg *IntegrationConfig) error

	// UpdateTestStatus replaces only the record's last test status, leaving
	// every other field as currently stored. Returns *errors.NotFoundError
	// for a missing record.
	UpdateTestStatus(ctx context.Context, tenantID, integrationID string, status *TestStatus) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, tenantID, integrationID string) error

	// List returns every record across all tenants, ordered by tenant then
	// integration.
	List(ctx context.Context) ([]*IntegrationConfig, error)

	Close() error
}

func notFound(tenantID, integrationID string) error {
	return &ckerrors.NotFoundError{Resource: "integration_config", ID: tenantID + "/" + integrationID}
}

func validateKey(cfg *IntegrationConfig) error {
	if cfg == nil {
		return &ckerrors.ValidationError{Message: "config cannot be nil"}
	}
	if cfg.TenantID == "" {
		return &ckerrors.ValidationError{Field: "tenantId", Message: "is required"}
	}
	if cfg.IntegrationID == "" {
		return &ckerrors.ValidationError{Field: "integrationId", Message: "is required"}
	}
	return nil
}
