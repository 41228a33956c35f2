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

// Package featureflags provides runtime feature flag management for complykit.
package featureflags

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// Environment variables that control the flags.
const (
	EnvCustomCode      = "COMPLYKIT_CUSTOM_CODE_ENABLED"
	EnvExternalSecrets = "COMPLYKIT_EXTERNAL_SECRETS_ENABLED"
)

// Flags holds all feature flags with thread-safe access.
type Flags struct {
	mu sync.RWMutex

	// CustomCodeEnabled gates execution of user-authored sync code.
	// When off, code is still validated but never run.
	CustomCodeEnabled bool

	// ExternalSecretsEnabled routes new credentials to the configured
	// external secrets provider instead of inline encryption.
	ExternalSecretsEnabled bool
}

var (
	globalFlags *Flags
	once        sync.Once
)

// Get returns the process-wide feature flags, loaded from the environment
// on first use.
func Get() *Flags {
	once.Do(func() {
		globalFlags = New()
		globalFlags.loadFromEnv()
	})
	return globalFlags
}

// New returns flags with every feature off. Both features are opt-in.
func New() *Flags {
	return &Flags{}
}

// FromEnv returns a fresh Flags populated from environment variables.
func FromEnv() *Flags {
	f := New()
	f.loadFromEnv()
	return f
}

func (f *Flags) loadFromEnv() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if val := os.Getenv(EnvCustomCode); val != "" {
		f.CustomCodeEnabled = parseBool(val)
	}
	if val := os.Getenv(EnvExternalSecrets); val != "" {
		f.ExternalSecretsEnabled = parseBool(val)
	}
}

// IsCustomCodeEnabled returns whether sandboxed sync code may execute.
func (f *Flags) IsCustomCodeEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.CustomCodeEnabled
}

// IsExternalSecretsEnabled returns whether the external secrets provider is used.
func (f *Flags) IsExternalSecretsEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ExternalSecretsEnabled
}

// SetCustomCodeEnabled sets the custom code flag.
func (f *Flags) SetCustomCodeEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CustomCodeEnabled = enabled
}

// SetExternalSecretsEnabled sets the external secrets flag.
func (f *Flags) SetExternalSecretsEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExternalSecretsEnabled = enabled
}

// parseBool converts a string to a boolean value.
// Accepts: "1", "t", "T", "true", "TRUE", "True"
func parseBool(val string) bool {
	val = strings.TrimSpace(val)
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return false
}
