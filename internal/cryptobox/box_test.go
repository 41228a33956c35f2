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

package cryptobox

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

const (
	testKey  = "0123456789abcdef0123456789abcdef"
	otherKey = "fedcba9876543210fedcba9876543210"
)

// newTestBox uses cheap scrypt parameters so tests stay fast.
func newTestBox(t *testing.T, key string) *Box {
	t.Helper()
	b, err := New(key, WithScryptParams(1024, 8, 1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

// legacyEncrypt produces a three-part field the way historical clients did.
func legacyEncrypt(t *testing.T, b *Box, plaintext string) string {
	t.Helper()
	key, err := b.legacy()
	if err != nil {
		t.Fatalf("legacy key: %v", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		t.Fatalf("newGCM: %v", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatal(err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - TagSize
	return (&Legacy{IV: iv, AuthTag: sealed[split:], Ciphertext: sealed[:split]}).String()
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New("too-short")
	var cfgErr *ckerrors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	b := newTestBox(t, testKey)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"api key", "sk-live-12345"},
		{"empty", ""},
		{"unicode", "pässwörd-✓"},
		{"contains separator", "user:pass:extra"},
		{"long", strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := b.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if parts := strings.Split(text, ":"); len(parts) != 4 {
				t.Fatalf("Encrypt() produced %d parts, want 4", len(parts))
			}
			got, err := b.Decrypt(text)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	b := newTestBox(t, testKey)

	first, err := b.Encrypt("same value")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Encrypt("same value")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("two encryptions of the same plaintext produced identical text")
	}

	f1, _ := Parse(first)
	f2, _ := Parse(second)
	if string(f1.(*Salted).Salt) == string(f2.(*Salted).Salt) {
		t.Error("salt was reused across encryptions")
	}
}

func TestDecrypt_DefaultParams(t *testing.T) {
	b, err := New(testKey)
	if err != nil {
		t.Fatal(err)
	}
	text, err := b.Encrypt("sk-live-12345")
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Decrypt(text)
	if err != nil || got != "sk-live-12345" {
		t.Errorf("Decrypt() = %q, %v", got, err)
	}
}

func TestDecrypt_Legacy(t *testing.T) {
	b := newTestBox(t, testKey)
	text := legacyEncrypt(t, b, "legacy-secret")

	if parts := strings.Split(text, ":"); len(parts) != 3 {
		t.Fatalf("legacy text has %d parts, want 3", len(parts))
	}

	got, err := b.Decrypt(text)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if got != "legacy-secret" {
		t.Errorf("Decrypt() = %q, want %q", got, "legacy-secret")
	}
}

func TestDecrypt_Failures(t *testing.T) {
	b := newTestBox(t, testKey)
	good, err := b.Encrypt("value")
	if err != nil {
		t.Fatal(err)
	}

	other := newTestBox(t, otherKey)

	// Flip one hex digit of the tag.
	parts := strings.Split(good, ":")
	tag := []byte(parts[2])
	if tag[0] == '0' {
		tag[0] = '1'
	} else {
		tag[0] = '0'
	}
	tampered := strings.Join([]string{parts[0], parts[1], string(tag), parts[3]}, ":")

	tests := []struct {
		name string
		box  *Box
		text string
	}{
		{"wrong key", other, good},
		{"tampered tag", b, tampered},
		{"bad hex", b, "zz:" + parts[1] + ":" + parts[2] + ":" + parts[3]},
		{"wrong part count", b, "aa:bb"},
		{"plain text", b, "not encrypted"},
		{"short iv", b, parts[0] + ":abcd:" + parts[2] + ":" + parts[3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.box.Decrypt(tt.text)
			var decErr *ckerrors.DecryptionError
			if !errors.As(err, &decErr) {
				t.Fatalf("Decrypt() error = %v, want DecryptionError", err)
			}
			if strings.Contains(err.Error(), "value") {
				t.Error("error message leaks plaintext")
			}
		})
	}
}

func TestDecrypt_NestedDepth(t *testing.T) {
	b := newTestBox(t, testKey)

	wrap := func(layers int) string {
		text := "inner"
		for i := 0; i < layers; i++ {
			var err error
			text, err = b.Encrypt(text)
			if err != nil {
				t.Fatal(err)
			}
		}
		return text
	}

	for layers := 1; layers <= MaxNestedDepth; layers++ {
		got, err := b.Decrypt(wrap(layers))
		if err != nil {
			t.Fatalf("%d layers: Decrypt() error = %v", layers, err)
		}
		if got != "inner" {
			t.Errorf("%d layers: Decrypt() = %q, want %q", layers, got, "inner")
		}
	}

	_, err := b.Decrypt(wrap(MaxNestedDepth + 1))
	var decErr *ckerrors.DecryptionError
	if !errors.As(err, &decErr) {
		t.Fatalf("Decrypt() beyond max depth error = %v, want DecryptionError", err)
	}
}

func TestDecryptOrOriginal(t *testing.T) {
	b := newTestBox(t, testKey)
	other := newTestBox(t, otherKey)

	enc, err := b.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	if got := b.DecryptOrOriginal(enc); got != "secret" {
		t.Errorf("DecryptOrOriginal(valid) = %q, want %q", got, "secret")
	}
	if got := other.DecryptOrOriginal(enc); got != enc {
		t.Error("DecryptOrOriginal(wrong key) should return original text")
	}
	if got := b.DecryptOrOriginal("plain"); got != "plain" {
		t.Errorf("DecryptOrOriginal(plain) = %q, want %q", got, "plain")
	}
}

func TestReencrypt(t *testing.T) {
	oldBox := newTestBox(t, testKey)
	newBox, err := oldBox.WithKey(otherKey)
	if err != nil {
		t.Fatal(err)
	}

	enc, err := oldBox.Encrypt("rotate-me")
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := oldBox.Reencrypt(enc, newBox)
	if err != nil {
		t.Fatalf("Reencrypt() error = %v", err)
	}
	if got, err := newBox.Decrypt(rotated); err != nil || got != "rotate-me" {
		t.Errorf("new box Decrypt() = %q, %v", got, err)
	}
	if _, err := oldBox.Decrypt(rotated); err == nil {
		t.Error("old box should not open a value rotated to the new key")
	}

	if _, err := oldBox.Reencrypt("garbage:text:here", newBox); err == nil {
		t.Error("Reencrypt() should fail hard on undecryptable input")
	}
}

func TestParseAndIsEncrypted(t *testing.T) {
	b := newTestBox(t, testKey)
	salted, _ := b.Encrypt("x")
	legacy := legacyEncrypt(t, b, "x")

	f, err := Parse(salted)
	if err != nil {
		t.Fatalf("Parse(salted) error = %v", err)
	}
	if _, ok := f.(*Salted); !ok {
		t.Errorf("Parse(salted) = %T, want *Salted", f)
	}
	if f.String() != salted {
		t.Error("Salted.String() does not reproduce input")
	}

	f, err = Parse(legacy)
	if err != nil {
		t.Fatalf("Parse(legacy) error = %v", err)
	}
	if _, ok := f.(*Legacy); !ok {
		t.Errorf("Parse(legacy) = %T, want *Legacy", f)
	}

	tests := []struct {
		input string
		want  bool
	}{
		{salted, true},
		{legacy, true},
		{"", false},
		{"sk-live-12345", false},
		{"a:b:c", false},
		{"sk-l••••2345", false},
		{"vault://tenant/t1/integration/i1/apiKey", false},
	}
	for _, tt := range tests {
		if got := IsEncrypted(tt.input); got != tt.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
