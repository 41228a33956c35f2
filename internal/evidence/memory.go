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

package evidence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) CreateFromItems(ctx context.Context, tenantID, integrationID string, items []Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		s.records = append(s.records, Record{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			IntegrationID: integrationID,
			CreatedAt:     time.Now().UTC(),
			Item:          item,
		})
	}
	return len(items), nil
}

// Records returns the records stored for a tenant, oldest first.
func (s *MemorySink) Records(tenantID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}
