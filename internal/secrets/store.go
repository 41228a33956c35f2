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
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tombee/complykit/internal/cryptobox"
	"github.com/tombee/complykit/internal/log"
)

// Store encrypts credential fields for persistence and resolves them back.
// It is safe for concurrent use.
type Store struct {
	box      atomic.Pointer[cryptobox.Box]
	registry *Registry
	cache    *Cache
	logger   *slog.Logger

	externalScheme string
	externalOn     func() bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithExternalScheme names the provider that new credentials are written to
// when external secrets are enabled.
func WithExternalScheme(scheme string) StoreOption {
	return func(s *Store) {
		s.externalScheme = scheme
	}
}

// WithExternalEnabled supplies the switch consulted on every Put. It is
// usually bound to a feature flag.
func WithExternalEnabled(enabled func() bool) StoreOption {
	return func(s *Store) {
		s.externalOn = enabled
	}
}

// WithCache enables caching of resolved references for contexts carrying a
// scope (see WithScope).
func WithCache(cache *Cache) StoreOption {
	return func(s *Store) {
		s.cache = cache
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store. registry may be nil when no providers exist.
func NewStore(box *cryptobox.Box, registry *Registry, opts ...StoreOption) *Store {
	s := &Store{
		registry:   registry,
		externalOn: func() bool { return true },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.WithComponent(log.OrDiscard(s.logger), "secrets")
	s.box.Store(box)
	return s
}

// Box returns the box currently used for inline encryption.
func (s *Store) Box() *cryptobox.Box {
	return s.box.Load()
}

// SetBox switches inline encryption to box. Callers must make sure no
// record still needs the previous key.
func (s *Store) SetBox(box *cryptobox.Box) {
	s.box.Store(box)
}

// Put prepares value for persistence under (tenantID, integrationID, field).
// A reference to a registered provider is kept only when it names this
// field's own slot (ReferenceName); any other reference to a registered
// provider fails with ErrForeignReference and ciphertext fails with
// ErrSuppliedCiphertext. Every other value is a literal credential: it goes
// to the external provider when one is enabled and reachable, or is
// encrypted inline.
func (s *Store) Put(ctx context.Context, tenantID, integrationID, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if ref, ok := ParseReference(value); ok && s.registry.Provider(ref.Scheme) != nil {
		if ref.Name != ReferenceName(tenantID, integrationID, field) {
			return "", fmt.Errorf("%w: %s", ErrForeignReference, field)
		}
		return value, nil
	}
	if cryptobox.IsEncrypted(value) {
		return "", fmt.Errorf("%w: %s", ErrSuppliedCiphertext, field)
	}

	if provider := s.external(ctx); provider != nil {
		name := ReferenceName(tenantID, integrationID, field)
		err := provider.Set(ctx, name, value)
		if err == nil {
			return Reference{Scheme: provider.Scheme(), Name: name}.String(), nil
		}
		s.logger.Warn("external secrets provider write failed, encrypting inline",
			log.TenantIDKey, tenantID,
			log.IntegrationIDKey, integrationID,
			"scheme", provider.Scheme(),
			log.Error(err))
	}

	return s.box.Load().Encrypt(value)
}

func (s *Store) external(ctx context.Context) Provider {
	if s.externalScheme == "" || !s.externalOn() {
		return nil
	}
	provider := s.registry.Provider(s.externalScheme)
	if provider == nil || isReadOnly(provider) || !provider.Enabled(ctx) {
		return nil
	}
	return provider
}

// Get resolves a stored value for tenantID. References are fetched from
// their provider, encrypted fields are decrypted, anything else is returned
// as is. Unresolvable values return ("", false).
func (s *Store) Get(ctx context.Context, stored, tenantID string) (string, bool) {
	if ref, ok := ParseReference(stored); ok {
		return s.resolveReference(ctx, ref, tenantID)
	}

	if cryptobox.IsEncrypted(stored) {
		value, err := s.box.Load().Decrypt(stored)
		if err != nil {
			s.logger.Warn("failed to decrypt stored credential", log.TenantIDKey, tenantID, log.Error(err))
			return "", false
		}
		return value, true
	}

	return stored, true
}

func (s *Store) resolveReference(ctx context.Context, ref Reference, tenantID string) (string, bool) {
	if !ref.BelongsTo(tenantID) {
		s.logger.Warn("secret reference does not belong to tenant", log.TenantIDKey, tenantID, "scheme", ref.Scheme)
		return "", false
	}

	scope, scoped := ScopeFrom(ctx)
	if scoped && s.cache != nil {
		if value, ok := s.cache.Get(scope, ref.String()); ok {
			return value, true
		}
	}

	provider := s.registry.Provider(ref.Scheme)
	if provider == nil || !provider.Enabled(ctx) {
		s.logger.Warn("no enabled provider for secret reference", log.TenantIDKey, tenantID, "scheme", ref.Scheme)
		return "", false
	}

	value, err := provider.Get(ctx, ref.Name)
	if err != nil {
		s.logger.Warn("failed to resolve secret reference", log.TenantIDKey, tenantID, "scheme", ref.Scheme, log.Error(err))
		return "", false
	}

	if scoped && s.cache != nil {
		s.cache.Set(scope, ref.String(), value)
	}
	return value, true
}

// ResolveAll resolves every field of a stored credential map. Fields that
// cannot be resolved are omitted from the result and listed in missing.
func (s *Store) ResolveAll(ctx context.Context, fields map[string]string, tenantID string) (resolved map[string]string, missing []string) {
	resolved = make(map[string]string, len(fields))
	for k, stored := range fields {
		if !IsSafeKey(k) {
			continue
		}
		if value, ok := s.Get(ctx, stored, tenantID); ok {
			resolved[k] = value
		} else {
			missing = append(missing, k)
		}
	}
	return resolved, missing
}

// Cleanup deletes every external secret referenced from config that belongs
// to tenantID. It is best effort: failures are logged and counted, never
// returned. Returns the number of secrets deleted.
func (s *Store) Cleanup(ctx context.Context, tenantID, integrationID string, config map[string]any) int {
	deleted := 0
	Walk(config, func(path []string, value string) {
		ref, ok := ParseReference(value)
		if !ok || !ref.BelongsTo(tenantID) {
			return
		}
		provider := s.registry.Provider(ref.Scheme)
		if provider == nil || isReadOnly(provider) {
			return
		}
		if err := provider.Delete(ctx, ref.Name); err != nil && !errors.Is(err, ErrSecretNotFound) {
			s.logger.Warn("failed to delete external secret",
				log.TenantIDKey, tenantID,
				log.IntegrationIDKey, integrationID,
				"field", fmt.Sprint(path),
				log.Error(err))
			return
		}
		deleted++
	})
	return deleted
}
