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

package featureflags

import (
	"sync"
	"testing"
)

func TestFlags_Defaults(t *testing.T) {
	f := New()

	if f.IsCustomCodeEnabled() {
		t.Error("expected custom code to be disabled by default")
	}
	if f.IsExternalSecretsEnabled() {
		t.Error("expected external secrets to be disabled by default")
	}
}

func TestFlags_LoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		check    func(*Flags) bool
	}{
		{
			name:     "custom code enabled true",
			envKey:   EnvCustomCode,
			envValue: "true",
			check:    func(f *Flags) bool { return f.IsCustomCodeEnabled() },
		},
		{
			name:     "custom code enabled 1",
			envKey:   EnvCustomCode,
			envValue: "1",
			check:    func(f *Flags) bool { return f.IsCustomCodeEnabled() },
		},
		{
			name:     "custom code disabled 0",
			envKey:   EnvCustomCode,
			envValue: "0",
			check:    func(f *Flags) bool { return !f.IsCustomCodeEnabled() },
		},
		{
			name:     "external secrets enabled",
			envKey:   EnvExternalSecrets,
			envValue: "TRUE",
			check:    func(f *Flags) bool { return f.IsExternalSecretsEnabled() },
		},
		{
			name:     "garbage value is false",
			envKey:   EnvExternalSecrets,
			envValue: "yes please",
			check:    func(f *Flags) bool { return !f.IsExternalSecretsEnabled() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envValue)

			f := FromEnv()
			if !tt.check(f) {
				t.Errorf("flag check failed for %s=%s", tt.envKey, tt.envValue)
			}
		})
	}
}

func TestFlags_Setters(t *testing.T) {
	f := New()

	f.SetCustomCodeEnabled(true)
	if !f.IsCustomCodeEnabled() {
		t.Error("SetCustomCodeEnabled(true) did not take effect")
	}

	f.SetExternalSecretsEnabled(true)
	f.SetExternalSecretsEnabled(false)
	if f.IsExternalSecretsEnabled() {
		t.Error("SetExternalSecretsEnabled(false) did not take effect")
	}
}

func TestFlags_ConcurrentAccess(t *testing.T) {
	f := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			f.SetCustomCodeEnabled(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			_ = f.IsCustomCodeEnabled()
		}()
	}
	wg.Wait()
}

func TestGet_ReturnsSameInstance(t *testing.T) {
	if Get() != Get() {
		t.Error("Get() should return the same instance")
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true},
		{" 1 ", true},
		{"T", true},
		{"false", false},
		{"0", false},
		{"", false},
		{"on", false},
	}

	for _, tt := range tests {
		if got := parseBool(tt.input); got != tt.want {
			t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
