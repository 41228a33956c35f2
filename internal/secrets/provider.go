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
)

var (
	// ErrSecretNotFound is returned when a secret name does not exist in a provider.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrProviderUnavailable is returned when a provider cannot be used in the current environment.
	ErrProviderUnavailable = errors.New("secrets provider unavailable")

	// ErrReadOnlyProvider is returned when attempting to modify a read-only provider.
	ErrReadOnlyProvider = errors.New("secrets provider is read-only")

	// ErrForeignReference is returned by Store.Put when a supplied reference
	// names a slot other than the field being written.
	ErrForeignReference = errors.New("secret reference does not name this field")

	// ErrSuppliedCiphertext is returned by Store.Put for values already in
	// encrypted form. Ciphertext is only ever produced by the store itself.
	ErrSuppliedCiphertext = errors.New("encrypted values cannot be supplied")
)

// Provider stores secrets outside of integration configuration. Names are
// provider-local paths such as "tenant/t1/integration/i1/apiKey".
type Provider interface {
	// Scheme returns the reference scheme this provider serves (e.g., "vault").
	Scheme() string

	// Enabled reports whether the provider is configured and reachable.
	Enabled(ctx context.Context) bool

	// Set stores value under name, replacing any existing value.
	Set(ctx context.Context, name, value string) error

	// Get retrieves a secret. Returns ErrSecretNotFound if not present.
	Get(ctx context.Context, name string) (string, error)

	// Delete removes a secret. Returns ErrSecretNotFound if not present.
	Delete(ctx context.Context, name string) error
}

// ReadOnlyProvider is implemented by providers that reject Set and Delete.
type ReadOnlyProvider interface {
	Provider
	ReadOnly() bool
}

func isReadOnly(p Provider) bool {
	ro, ok := p.(ReadOnlyProvider)
	return ok && ro.ReadOnly()
}
