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

import "regexp"

var safeKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)

var forbiddenKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// IsSafeKey reports whether key may be followed during a recursive walk of
// client-supplied configuration. Keys are identifiers of at most 64
// characters and never prototype-related names.
func IsSafeKey(key string) bool {
	return safeKeyPattern.MatchString(key) && !forbiddenKeys[key]
}

// IsForbiddenKey reports whether key names a prototype slot. Such keys are
// dropped even where arbitrary key shapes are otherwise kept.
func IsForbiddenKey(key string) bool {
	return forbiddenKeys[key]
}

// Walk calls fn for every string value reachable from v through safe map
// keys and slice elements. path is the sequence of keys leading to the
// value; slice indexes are not included.
func Walk(v any, fn func(path []string, value string)) {
	walk(v, nil, fn, 0)
}

// maxWalkDepth stops runaway recursion on adversarial input.
const maxWalkDepth = 32

func walk(v any, path []string, fn func([]string, string), depth int) {
	if depth > maxWalkDepth {
		return
	}
	switch val := v.(type) {
	case string:
		fn(path, val)
	case map[string]any:
		for k, child := range val {
			if !IsSafeKey(k) {
				continue
			}
			walk(child, append(path[:len(path):len(path)], k), fn, depth+1)
		}
	case map[string]string:
		for k, child := range val {
			if !IsSafeKey(k) {
				continue
			}
			fn(append(path[:len(path):len(path)], k), child)
		}
	case []any:
		for _, child := range val {
			walk(child, path, fn, depth+1)
		}
	}
}

// SafeCopy returns a deep copy of v in which maps keep only safe keys.
// Values nested deeper than the walk limit are dropped. Scalars are
// returned unchanged.
func SafeCopy(v any) any {
	return safeCopy(v, 0)
}

func safeCopy(v any, depth int) any {
	if depth > maxWalkDepth {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if IsSafeKey(k) {
				out[k] = safeCopy(child, depth+1)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = safeCopy(child, depth+1)
		}
		return out
	default:
		return v
	}
}
