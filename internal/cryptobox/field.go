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
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// IVSize is the GCM nonce length in bytes.
	IVSize = 16
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
	// SaltSize is the per-value scrypt salt length in bytes.
	SaltSize = 16

	separator = ":"
)

// Field is a parsed encrypted value. It is either a *Legacy or a *Salted;
// callers switch on the concrete type rather than counting parts.
type Field interface {
	// String returns the hex wire form.
	String() string

	isField()
}

// Legacy is the historical three-part form "iv:tag:ciphertext". Its key was
// derived with a fixed salt, so it is only ever decrypted, never produced.
type Legacy struct {
	IV         []byte
	AuthTag    []byte
	Ciphertext []byte
}

func (*Legacy) isField() {}

// String returns "iv:tag:ciphertext" in hex.
func (l *Legacy) String() string {
	return strings.Join([]string{
		hex.EncodeToString(l.IV),
		hex.EncodeToString(l.AuthTag),
		hex.EncodeToString(l.Ciphertext),
	}, separator)
}

// Salted is the current four-part form "salt:iv:tag:ciphertext".
type Salted struct {
	Salt       []byte
	IV         []byte
	AuthTag    []byte
	Ciphertext []byte
}

func (*Salted) isField() {}

// String returns "salt:iv:tag:ciphertext" in hex.
func (s *Salted) String() string {
	return strings.Join([]string{
		hex.EncodeToString(s.Salt),
		hex.EncodeToString(s.IV),
		hex.EncodeToString(s.AuthTag),
		hex.EncodeToString(s.Ciphertext),
	}, separator)
}

// Parse decodes text into a Field. It fails on anything that is not exactly
// three or four hex parts with correctly sized salt, IV and tag.
func Parse(text string) (Field, error) {
	parts := strings.Split(text, separator)

	switch len(parts) {
	case 3:
		decoded, err := decodeParts(parts, IVSize, TagSize, -1)
		if err != nil {
			return nil, err
		}
		return &Legacy{IV: decoded[0], AuthTag: decoded[1], Ciphertext: decoded[2]}, nil

	case 4:
		decoded, err := decodeParts(parts, SaltSize, IVSize, TagSize, -1)
		if err != nil {
			return nil, err
		}
		return &Salted{Salt: decoded[0], IV: decoded[1], AuthTag: decoded[2], Ciphertext: decoded[3]}, nil

	default:
		return nil, fmt.Errorf("expected 3 or 4 parts, got %d", len(parts))
	}
}

// decodeParts hex-decodes each part and checks its length. A size of -1
// accepts any length.
func decodeParts(parts []string, sizes ...int) ([][]byte, error) {
	out := make([][]byte, len(parts))
	for i, part := range parts {
		b, err := hex.DecodeString(part)
		if err != nil {
			return nil, fmt.Errorf("part %d is not valid hex", i)
		}
		if sizes[i] >= 0 && len(b) != sizes[i] {
			return nil, fmt.Errorf("part %d has length %d, want %d", i, len(b), sizes[i])
		}
		out[i] = b
	}
	return out, nil
}

// IsEncrypted reports whether text has the shape of an encrypted field.
// Signature detection only; it says nothing about which key opens it.
func IsEncrypted(text string) bool {
	if text == "" || !strings.Contains(text, separator) {
		return false
	}
	_, err := Parse(text)
	return err == nil
}
