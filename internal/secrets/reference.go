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
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var referencePattern = regexp.MustCompile(`^([a-z][a-z0-9]*)://([A-Za-z0-9_.~%/-]+)$`)

// Reference points at a secret held by a provider: scheme://name.
type Reference struct {
	Scheme string
	Name   string
}

// String returns the scheme://name form persisted in configuration.
func (r Reference) String() string {
	return r.Scheme + "://" + r.Name
}

// BelongsTo reports whether the reference is scoped to tenantID.
func (r Reference) BelongsTo(tenantID string) bool {
	if tenantID == "" {
		return false
	}
	return strings.HasPrefix(r.Name, "tenant/"+url.PathEscape(tenantID)+"/")
}

// webSchemes are URL schemes that appear in plain config values such as a
// token endpoint. They never name a provider.
var webSchemes = map[string]bool{"http": true, "https": true}

// ParseReference parses a scheme://name reference. Names containing empty,
// "." or ".." segments are rejected, as are web URLs.
func ParseReference(s string) (Reference, bool) {
	m := referencePattern.FindStringSubmatch(s)
	if m == nil || webSchemes[m[1]] {
		return Reference{}, false
	}
	for _, seg := range strings.Split(m[2], "/") {
		if seg == "" || seg == "." || seg == ".." {
			return Reference{}, false
		}
	}
	return Reference{Scheme: m[1], Name: m[2]}, true
}

// IsReference reports whether s is a well-formed secret reference.
func IsReference(s string) bool {
	_, ok := ParseReference(s)
	return ok
}

// ReferenceName builds the provider-local name for one credential field.
func ReferenceName(tenantID, integrationID, field string) string {
	return fmt.Sprintf("tenant/%s/integration/%s/%s",
		url.PathEscape(tenantID), url.PathEscape(integrationID), url.PathEscape(field))
}
