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
	"fmt"
	"os"
	"strings"
)

const (
	// EnvScheme is the reference scheme for operator-provisioned environment secrets.
	EnvScheme = "env"

	// EnvPrefix is prepended to the normalized secret name to form the variable name.
	EnvPrefix = "COMPLYKIT_SECRET_"
)

// EnvProvider resolves secrets from COMPLYKIT_SECRET_* environment
// variables. It is read-only: operators provision the variables, the
// application never writes them.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider creates an environment secret provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Scheme returns "env".
func (e *EnvProvider) Scheme() string {
	return EnvScheme
}

// Enabled always reports true.
func (e *EnvProvider) Enabled(ctx context.Context) bool {
	return true
}

// ReadOnly implements ReadOnlyProvider.
func (e *EnvProvider) ReadOnly() bool {
	return true
}

// Get returns the value of the variable named by EnvVarName(name).
func (e *EnvProvider) Get(ctx context.Context, name string) (string, error) {
	value, ok := e.lookup(EnvVarName(name))
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// Set always fails with ErrReadOnlyProvider.
func (e *EnvProvider) Set(ctx context.Context, name, value string) error {
	return ErrReadOnlyProvider
}

// Delete always fails with ErrReadOnlyProvider.
func (e *EnvProvider) Delete(ctx context.Context, name string) error {
	return ErrReadOnlyProvider
}

// EnvVarName maps a secret name to its environment variable. The mapping is
// one-to-one and preserves case: "/" becomes "__" and any other byte outside
// [A-Za-z0-9] becomes "_" followed by two upper-case hex digits, so
// "tenant/t1/integration/i-1/apiKey" becomes
// "COMPLYKIT_SECRET_tenant__t1__integration__i_2D1__apiKey".
func EnvVarName(name string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '/':
			b.WriteString("__")
		default:
			b.WriteByte('_')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
