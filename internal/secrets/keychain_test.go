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
	"testing"

	"github.com/zalando/go-keyring"
)

func TestKeychainProvider_MockKeyring(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	k := NewKeychainProvider("complykit-test")
	if !k.Enabled(ctx) {
		t.Fatal("mock keyring should be available")
	}
	if k.Scheme() != "keychain" {
		t.Errorf("Scheme() = %q", k.Scheme())
	}

	if err := k.Set(ctx, "tenant/t1/integration/i1/token", "tok-123456"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := k.Get(ctx, "tenant/t1/integration/i1/token")
	if err != nil || got != "tok-123456" {
		t.Fatalf("Get() = %q, %v", got, err)
	}

	if err := k.Delete(ctx, "tenant/t1/integration/i1/token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := k.Get(ctx, "tenant/t1/integration/i1/token"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrSecretNotFound", err)
	}
}

func TestKeychainProvider_UnavailableKeyring(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: connection refused"))
	defer keyring.MockInit()

	k := NewKeychainProvider("complykit-test")
	if k.Enabled(context.Background()) {
		t.Error("provider should be disabled when the keyring errors")
	}
	if _, err := k.Get(context.Background(), "x"); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Get() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestIsKeychainUnavailableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("keychain is locked"), true},
		{errors.New("failed to connect to dbus"), true},
		{errors.New("something else"), false},
	}
	for _, tt := range tests {
		if got := isKeychainUnavailableError(tt.err); got != tt.want {
			t.Errorf("isKeychainUnavailableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
