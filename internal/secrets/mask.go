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
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaskMarker separates the visible ends of a masked value.
	MaskMarker = "••••"

	// FullMask replaces values too short to show any characters.
	FullMask = "••••••••"

	maskVisible = 4
)

// Mask returns value with only its first and last four characters visible.
// Values shorter than eight characters are fully redacted. Masking an
// already-masked value returns it unchanged.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if IsMasked(value) {
		return value
	}

	runes := []rune(value)
	if len(runes) < 2*maskVisible {
		return FullMask
	}
	return string(runes[:maskVisible]) + MaskMarker + string(runes[len(runes)-maskVisible:])
}

// IsMasked reports whether value is a display mask rather than a credential.
func IsMasked(value string) bool {
	return strings.Contains(value, MaskMarker)
}

var sensitiveFieldPattern = regexp.MustCompile(
	`(apikey|apisecret|secret|token|password|passwd|passphrase|credential|privatekey|accesskey|signingkey|clientsecret)`)

// IsSensitiveField reports whether a config field name holds a credential.
// Matching ignores case and separators, so "api_key", "apiKey" and
// "API-KEY" are all sensitive.
func IsSensitiveField(name string) bool {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return sensitiveFieldPattern.MatchString(b.String())
}

// minRedactLength is the shortest value a Redactor will replace. Shorter
// values would redact unrelated text.
const minRedactLength = 4

// Redactor replaces known secret values inside free text such as sandbox
// console output and error messages.
type Redactor struct {
	values []string
}

// NewRedactor creates a redactor for the given secret values.
func NewRedactor(values ...string) *Redactor {
	r := &Redactor{}
	for _, v := range values {
		r.Add(v)
	}
	return r
}

// Add registers another value to redact.
func (r *Redactor) Add(value string) {
	if utf8.RuneCountInString(value) >= minRedactLength {
		r.values = append(r.values, value)
	}
}

// Redact replaces every registered value in s with FullMask.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return s
	}
	for _, v := range r.values {
		if strings.Contains(s, v) {
			s = strings.ReplaceAll(s, v, FullMask)
		}
	}
	return s
}
