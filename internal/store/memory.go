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
	"cmp"
	"context"
	"slices"
	"sync"
)

type key struct{ tenant, integration string }

// MemoryStore is an in-process ConfigStore. Records are copied on the way
// in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key]*IntegrationConfig
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[key]*IntegrationConfig)}
}

func (s *MemoryStore) Get(_ context.Context, tenantID, integrationID string) (*IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.records[key{tenantID, integrationID}]
	if !ok {
		return nil, notFound(tenantID, integrationID)
	}
	return cfg.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, cfg *IntegrationConfig) error {
	if err := validateKey(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key{cfg.TenantID, cfg.IntegrationID}] = cfg.Clone()
	return nil
}

func (s *MemoryStore) UpdateTestStatus(_ context.Context, tenantID, integrationID string, status *TestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.records[key{tenantID, integrationID}]
	if !ok {
		return notFound(tenantID, integrationID)
	}
	updated := cfg.Clone()
	updated.LastTest = nil
	if status != nil {
		st := *status
		updated.LastTest = &st
	}
	s.records[key{tenantID, integrationID}] = updated
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, integrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key{tenantID, integrationID})
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*IntegrationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*IntegrationConfig, 0, len(s.records))
	for _, cfg := range s.records {
		out = append(out, cfg.Clone())
	}
	slices.SortFunc(out, func(a, b *IntegrationConfig) int {
		return cmp.Or(cmp.Compare(a.TenantID, b.TenantID), cmp.Compare(a.IntegrationID, b.IntegrationID))
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
