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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	// VaultScheme is the reference scheme for the local file vault.
	VaultScheme = "vault"

	argon2Time        = 3
	argon2Memory      = 64 * 1024 // KB
	argon2Parallelism = 4
	argon2KeyLength   = 32

	gcmNonceSize = 12
)

// VaultProvider keeps secrets in a single encrypted JSON file. The file key
// is derived with argon2id from a vault key and a salt that changes on
// every write.
type VaultProvider struct {
	path     string
	vaultKey []byte
	mu       sync.RWMutex

	time    uint32
	memory  uint32
	threads uint8
}

// VaultOption configures a VaultProvider.
type VaultOption func(*VaultProvider)

// WithArgon2Params overrides the argon2id cost parameters.
func WithArgon2Params(time, memoryKB uint32, threads uint8) VaultOption {
	return func(v *VaultProvider) {
		v.time, v.memory, v.threads = time, memoryKB, threads
	}
}

// vaultFile is the on-disk structure.
type vaultFile struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewVaultProvider creates a file vault at path. An empty vaultKey yields a
// provider that reports itself disabled.
func NewVaultProvider(path, vaultKey string, opts ...VaultOption) (*VaultProvider, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		path = filepath.Join(configDir, "complykit", "vault.enc")
	}

	v := &VaultProvider{
		path:     path,
		vaultKey: []byte(vaultKey),
		time:     argon2Time,
		memory:   argon2Memory,
		threads:  argon2Parallelism,
	}
	for _, opt := range opts {
		opt(v)
	}

	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	return v, nil
}

// Scheme returns "vault".
func (v *VaultProvider) Scheme() string {
	return VaultScheme
}

// Enabled reports whether a vault key is configured.
func (v *VaultProvider) Enabled(ctx context.Context) bool {
	return len(v.vaultKey) > 0
}

// Get retrieves a secret from the vault file.
func (v *VaultProvider) Get(ctx context.Context, name string) (string, error) {
	if !v.Enabled(ctx) {
		return "", fmt.Errorf("%w: vault key not configured", ErrProviderUnavailable)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	secrets, err := v.load()
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("failed to load vault: %w", err)
	}

	value, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// Set stores a secret in the vault file.
func (v *VaultProvider) Set(ctx context.Context, name, value string) error {
	if !v.Enabled(ctx) {
		return fmt.Errorf("%w: vault key not configured", ErrProviderUnavailable)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load vault: %w", err)
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[name] = value

	if err := v.save(secrets); err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}
	return nil
}

// Delete removes a secret from the vault file.
func (v *VaultProvider) Delete(ctx context.Context, name string) error {
	if !v.Enabled(ctx) {
		return fmt.Errorf("%w: vault key not configured", ErrProviderUnavailable)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	secrets, err := v.load()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return fmt.Errorf("failed to load vault: %w", err)
	}
	if _, ok := secrets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	delete(secrets, name)
	if err := v.save(secrets); err != nil {
		return fmt.Errorf("failed to save vault: %w", err)
	}
	return nil
}

func (v *VaultProvider) load() (map[string]string, error) {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return nil, err
	}

	var file vaultFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("invalid vault format: %w", err)
	}

	key := argon2.IDKey(v.vaultKey, file.Salt, v.time, v.memory, v.threads, argon2KeyLength)
	defer zeroBytes(key)

	gcm, err := newVaultGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, file.Nonce, file.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong vault key or corrupted data): %w", err)
	}
	defer zeroBytes(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("invalid decrypted vault format: %w", err)
	}
	return secrets, nil
}

func (v *VaultProvider) save(secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer zeroBytes(plaintext)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(v.vaultKey, salt, v.time, v.memory, v.threads, argon2KeyLength)
	defer zeroBytes(key)

	gcm, err := newVaultGCM(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	raw, err := json.Marshal(vaultFile{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plaintext, nil),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	// Write to a temp file, then rename over the vault.
	tmpPath := v.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, v.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return verifyFilePermissions(v.path)
}

func newVaultGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("parent path exists but is not a directory: %s", dir)
		}
		return nil
	}
	return os.MkdirAll(dir, 0700)
}

// verifyFilePermissions checks that a file is not a symlink and is 0600 or stricter.
func verifyFilePermissions(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return errors.New("file is a symlink")
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("file permissions too open (got %o, want 0600)", perm)
	}
	return nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
