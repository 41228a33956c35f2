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

// Package cryptobox provides authenticated encryption of credential fields
// with a key derived per value from a process-wide master key.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/metrics"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

const (
	// MinKeyLength is the minimum master key length in bytes.
	MinKeyLength = 32

	// MaxNestedDepth bounds how many encryption layers Decrypt will peel
	// off a single value.
	MaxNestedDepth = 3

	// scrypt defaults
	defaultScryptN = 16384
	defaultScryptR = 8
	defaultScryptP = 1
	keyLength      = 32

	// legacySalt is the fixed salt used by three-part fields.
	legacySalt = "salt"
)

// Box encrypts and decrypts fields under one master key. A Box is immutable
// and safe for concurrent use. Key rotation produces a new Box.
type Box struct {
	masterKey []byte
	n, r, p   int
	logger    *slog.Logger

	legacyOnce sync.Once
	legacyKey  []byte
	legacyErr  error
}

// Option configures a Box.
type Option func(*Box)

// WithLogger sets the logger used to report decryption fallbacks.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Box) {
		b.logger = logger
	}
}

// WithScryptParams overrides the scrypt cost parameters. Values produced
// with different parameters are not interchangeable.
func WithScryptParams(n, r, p int) Option {
	return func(b *Box) {
		b.n, b.r, b.p = n, r, p
	}
}

// New creates a Box for masterKey. The key is supplied by the operator and
// is never generated or persisted here.
func New(masterKey string, opts ...Option) (*Box, error) {
	if len(masterKey) < MinKeyLength {
		return nil, &ckerrors.ConfigError{
			Key:    "master_key",
			Reason: fmt.Sprintf("must be at least %d characters", MinKeyLength),
		}
	}

	b := &Box{
		masterKey: []byte(masterKey),
		n:         defaultScryptN,
		r:         defaultScryptR,
		p:         defaultScryptP,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = log.WithComponent(log.OrDiscard(b.logger), "cryptobox")
	return b, nil
}

// WithKey returns a new Box with the same options and a different master key.
func (b *Box) WithKey(masterKey string) (*Box, error) {
	return New(masterKey, WithLogger(b.logger), WithScryptParams(b.n, b.r, b.p))
}

// Encrypt seals plaintext under a fresh salt and IV and returns the
// four-part text form. Two calls never return the same text.
func (b *Box) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	key, err := b.deriveKey(salt)
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - TagSize

	field := &Salted{
		Salt:       salt,
		IV:         iv,
		AuthTag:    sealed[split:],
		Ciphertext: sealed[:split],
	}
	return field.String(), nil
}

// Decrypt opens a three- or four-part field. If the plaintext is itself an
// encrypted field it is opened again, up to MaxNestedDepth layers.
func (b *Box) Decrypt(text string) (string, error) {
	return b.decrypt(text, 1)
}

func (b *Box) decrypt(text string, depth int) (string, error) {
	field, err := Parse(text)
	if err != nil {
		metrics.RecordDecryptFailure("format")
		return "", &ckerrors.DecryptionError{Reason: "unrecognized field format", Cause: err}
	}

	plaintext, err := b.open(field)
	if err != nil {
		metrics.RecordDecryptFailure("auth")
		return "", err
	}

	// Values that were encrypted twice by earlier clients.
	if IsEncrypted(plaintext) {
		if depth >= MaxNestedDepth {
			metrics.RecordDecryptFailure("depth")
			return "", &ckerrors.DecryptionError{
				Reason: fmt.Sprintf("nested encryption deeper than %d layers", MaxNestedDepth),
			}
		}
		b.logger.Warn("decrypted value was itself encrypted, decrypting again", "depth", depth)
		return b.decrypt(plaintext, depth+1)
	}

	return plaintext, nil
}

func (b *Box) open(field Field) (string, error) {
	var (
		key  []byte
		iv   []byte
		tag  []byte
		data []byte
		err  error
	)

	switch f := field.(type) {
	case *Salted:
		key, err = b.deriveKey(f.Salt)
		if err != nil {
			return "", err
		}
		defer zeroBytes(key)
		iv, tag, data = f.IV, f.AuthTag, f.Ciphertext
	case *Legacy:
		key, err = b.legacy()
		if err != nil {
			return "", err
		}
		iv, tag, data = f.IV, f.AuthTag, f.Ciphertext
	default:
		return "", &ckerrors.DecryptionError{Reason: "unknown field type"}
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(data)+len(tag))
	sealed = append(sealed, data...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", &ckerrors.DecryptionError{Reason: "authentication failed (wrong key or corrupted data)", Cause: err}
	}
	return string(plaintext), nil
}

// DecryptOrOriginal returns the decrypted value, or text unchanged when text
// is not encrypted or cannot be opened. Failures are logged without content.
func (b *Box) DecryptOrOriginal(text string) string {
	if !IsEncrypted(text) {
		return text
	}
	plaintext, err := b.Decrypt(text)
	if err != nil {
		b.logger.Warn("failed to decrypt field, returning stored value", log.Error(err))
		return text
	}
	return plaintext
}

// Reencrypt opens text with b and seals it under to. Any decryption failure
// is returned; nothing is passed through.
func (b *Box) Reencrypt(text string, to *Box) (string, error) {
	plaintext, err := b.Decrypt(text)
	if err != nil {
		return "", err
	}
	return to.Encrypt(plaintext)
}

func (b *Box) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(b.masterKey, salt, b.n, b.r, b.p, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// legacy derives the fixed-salt key once per Box.
func (b *Box) legacy() ([]byte, error) {
	b.legacyOnce.Do(func() {
		b.legacyKey, b.legacyErr = b.deriveKey([]byte(legacySalt))
	})
	return b.legacyKey, b.legacyErr
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
