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
	"strings"

	"github.com/zalando/go-keyring"
)

// KeychainScheme is the reference scheme for the OS keychain.
const KeychainScheme = "keychain"

// KeychainProvider stores secrets in the system keychain.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
type KeychainProvider struct {
	service   string
	available bool
}

// NewKeychainProvider creates a keychain provider under the given service
// name and probes whether the keyring is reachable.
func NewKeychainProvider(service string) *KeychainProvider {
	k := &KeychainProvider{service: service, available: true}

	_, err := keyring.Get(service, "__complykit_availability_test__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		k.available = false
	}
	return k
}

// Scheme returns "keychain".
func (k *KeychainProvider) Scheme() string {
	return KeychainScheme
}

// Enabled reports whether the keyring responded to the availability probe.
func (k *KeychainProvider) Enabled(ctx context.Context) bool {
	return k.available
}

// Get retrieves a secret from the keychain.
func (k *KeychainProvider) Get(ctx context.Context, name string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain service unavailable", ErrProviderUnavailable)
	}

	value, err := keyring.Get(k.service, name)
	if err != nil {
		return "", keychainError(err, name)
	}
	return value, nil
}

// Set stores a secret in the keychain.
func (k *KeychainProvider) Set(ctx context.Context, name, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service unavailable", ErrProviderUnavailable)
	}

	if err := keyring.Set(k.service, name, value); err != nil {
		return keychainError(err, name)
	}
	return nil
}

// Delete removes a secret from the keychain.
func (k *KeychainProvider) Delete(ctx context.Context, name string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain service unavailable", ErrProviderUnavailable)
	}

	if err := keyring.Delete(k.service, name); err != nil {
		return keychainError(err, name)
	}
	return nil
}

func keychainError(err error, name string) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if isKeychainUnavailableError(err) {
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, err.Error())
	}
	return fmt.Errorf("keychain error: %w", err)
}

// isKeychainUnavailableError checks if an error indicates the keychain is locked or inaccessible.
func isKeychainUnavailableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
