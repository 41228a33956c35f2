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

/*
Package secrets stores integration credentials safely at rest.

Sensitive values are either encrypted inline with a cryptobox.Box or, when an
external provider is enabled, written to that provider and replaced by a
SecretReference of the form scheme://name. Only the encrypted text or the
reference is ever persisted alongside integration configuration.

# Providers

	vault    - local AES-256-GCM file vault keyed with argon2id
	keychain - OS keychain (macOS Keychain, Linux Secret Service, Windows Credential Manager)
	env      - read-only COMPLYKIT_SECRET_* environment variables

Providers are routed by scheme through a Registry:

	registry := secrets.NewRegistry()
	registry.Register(secrets.NewKeychainProvider("complykit"))

# Store

Store ties the box, the registry and a request-scoped Cache together:

	store := secrets.NewStore(box, registry, secrets.WithExternalScheme("keychain"))
	stored, err := store.Put(ctx, tenantID, integrationID, "apiKey", value)
	value, ok := store.Get(ctx, stored, tenantID)

Put treats every value as a literal credential except a reference to a
registered provider that names the field's own slot, for example
"env://tenant/t1/integration/i1/apiKey" for an operator-provisioned
variable. References to other slots and ciphertext are refused. Callers
that want to keep a stored value compare against it before calling Put.

# Masking

Mask shows the first and last four characters of a value with a fixed
marker between them. It is idempotent on its own output.
*/
package secrets
