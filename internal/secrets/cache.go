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

package secrets

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a resolved secret may be reused within a scope.
const DefaultCacheTTL = 5 * time.Minute

// Cache holds resolved secret values for the lifetime of one request or
// sync run. Values are keyed by scope, so one request never observes
// another's entries, and Clear drops a whole scope at once.
//
// Secrets are never persisted; a Cache is owned by whoever creates it.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]map[string]cachedSecret
}

type cachedSecret struct {
	value      string
	resolvedAt time.Time
}

// NewCache creates a cache whose entries expire after ttl. A non-positive
// ttl uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]cachedSecret),
	}
}

// Get returns the cached value for reference in scope if it has not expired.
func (c *Cache) Get(scope, reference string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[scope][reference]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.resolvedAt) > c.ttl {
		delete(c.entries[scope], reference)
		return "", false
	}
	return entry.value, true
}

// Set caches value for reference in scope.
func (c *Cache) Set(scope, reference, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[scope] == nil {
		c.entries[scope] = make(map[string]cachedSecret)
	}
	c.entries[scope][reference] = cachedSecret{value: value, resolvedAt: c.now()}
}

// Clear removes every cached secret for scope.
func (c *Cache) Clear(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, scope)
}

// ClearAll removes every cached secret.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[string]cachedSecret)
}

// CacheStats reports cache occupancy for observability.
type CacheStats struct {
	ScopeCount  int `json:"scope_count"`
	SecretCount int `json:"secret_count"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{ScopeCount: len(c.entries)}
	for _, scoped := range c.entries {
		stats.SecretCount += len(scoped)
	}
	return stats
}

type scopeKey struct{}

// WithScope returns a context carrying a cache scope. Store.Get caches
// resolved references only when a scope is present.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the cache scope carried by ctx.
func ScopeFrom(ctx context.Context) (string, bool) {
	scope, ok := ctx.Value(scopeKey{}).(string)
	return scope, ok && scope != ""
}
