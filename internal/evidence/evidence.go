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

// Package evidence receives evidence items produced by a sync and turns
// them into stored records.
package evidence

import (
	"context"
	"time"
)

// Item types.
const (
	TypeAutomated   = "automated"
	TypeAPIResponse = "api_response"
)

// Item is one piece of evidence produced by visual or custom-code sync.
type Item struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Data        any    `json:"data,omitempty"`
	Type        string `json:"type"`
}

// Record is a stored Item.
type Record struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	IntegrationID string    `json:"integrationId"`
	CreatedAt     time.Time `json:"createdAt"`
	Item
}

// Sink stores evidence. CreateFromItems returns how many items were stored;
// on error the count covers the items stored before the failure.
type Sink interface {
	CreateFromItems(ctx context.Context, tenantID, integrationID string, items []Item) (int, error)
}
