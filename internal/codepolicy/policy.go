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

// Package codepolicy statically screens user-authored sync scripts before
// they are stored or executed. It is a pre-filter: isolation is enforced by
// the sandbox realm, not by these patterns.
package codepolicy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/tombee/complykit/internal/metrics"
)

// MaxSourceBytes is the largest script accepted for validation or execution.
const MaxSourceBytes = 100 * 1024

// MaxViolations caps the deny-list findings listed in a Result.
const MaxViolations = 50

// Options controls which checks run.
type Options struct {
	// ExecutionEnabled selects a real parse for the syntax check. When
	// false, only execution-free balance heuristics run and their findings
	// are warnings.
	ExecutionEnabled bool
}

// Result is the outcome of validating one script.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type rule struct {
	pattern *regexp.Regexp
	message string
}

var denyRules = []rule{
	{regexp.MustCompile(`\beval\b`), "eval is not allowed"},
	{regexp.MustCompile(`\bnew\s+Function\b`), "Function construction is not allowed"},
	{regexp.MustCompile(`\bFunction\s*\(`), "Function construction is not allowed"},
	{regexp.MustCompile(`\bglobalThis\b`), "globalThis access is not allowed"},
	{regexp.MustCompile(`\bglobal\b`), "global access is not allowed"},
	{regexp.MustCompile(`\bwindow\b`), "window access is not allowed"},
	{regexp.MustCompile(`\bself\b`), "self access is not allowed"},
	{regexp.MustCompile(`\bprocess\b`), "process access is not allowed"},
	{regexp.MustCompile(`\[\s*['"\x60]\s*(constructor|__proto__|prototype)\s*['"\x60]\s*\]`), "bracketed prototype access is not allowed"},
	{regexp.MustCompile(`\bconstructor\b`), "constructor access is not allowed"},
	{regexp.MustCompile(`__proto__`), "__proto__ access is not allowed"},
	{regexp.MustCompile(`\bprototype\b`), "prototype access is not allowed"},
	{regexp.MustCompile(`\.\s*caller\b|\barguments\s*\.\s*callee\b`), "caller/callee access is not allowed"},
	{regexp.MustCompile(`\brequire\s*\(`), "require is not allowed"},
	{regexp.MustCompile(`\bimport\s*\(`), "dynamic import is not allowed"},
	{regexp.MustCompile(`(?m)^\s*import\b|\bimport\s+[\w{*][^;]*\bfrom\b`), "import statements are not allowed"},
	{regexp.MustCompile(`\bchild_process\b`), "child_process is not allowed"},
	{regexp.MustCompile(`['"\x60](node:)?(fs|net|http|https|os|vm|dgram|dns|tls|worker_threads|cluster)(/[\w/]*)?['"\x60]`), "low-level module names are not allowed"},
	{regexp.MustCompile(`\bset(Timeout|Interval|Immediate)\b`), "timers are not allowed"},
	{regexp.MustCompile(`\bReflect\b`), "Reflect is not allowed"},
	{regexp.MustCompile(`\bProxy\b`), "Proxy is not allowed"},
	{regexp.MustCompile(`\bWebAssembly\b`), "WebAssembly is not allowed"},
	{regexp.MustCompile(`\\u[0-9a-fA-F{]`), "unicode escapes are not allowed"},
	{regexp.MustCompile(`\\x[0-9a-fA-F]{2}`), "hex escapes are not allowed"},
	{regexp.MustCompile(`\bfromCharCode\b|\bfromCodePoint\b`), "character code construction is not allowed"},
	{regexp.MustCompile(`\batob\b|\bbtoa\b`), "base64 helpers are not allowed"},
	{regexp.MustCompile(`\bBuffer\b`), "Buffer is not allowed"},
}

var (
	entryPattern   = regexp.MustCompile(`\bfunction\s+sync\s*\(|\bsync\s*[:=(]|\bexports\s*\.\s*sync\b`)
	exportsPattern = regexp.MustCompile(`\bmodule\s*\.\s*exports\b|\bexports\s*\.`)
)

// Validate checks source against the size limit, the deny list, the entry
// point requirement and a syntax check. It never executes the script.
func Validate(source string, opts Options) Result {
	if len(source) > MaxSourceBytes {
		return Result{
			Errors: []string{fmt.Sprintf("code exceeds maximum size of %d bytes", MaxSourceBytes)},
		}
	}
	if strings.TrimSpace(source) == "" {
		return Result{Errors: []string{"code is empty"}}
	}

	var res Result

	// Every line a rule matches on is reported once per message, up to
	// MaxViolations findings.
	type finding struct {
		line    int
		message string
	}
	seen := make(map[finding]bool)
	total := 0
	for _, r := range denyRules {
		for _, loc := range r.pattern.FindAllStringIndex(source, -1) {
			f := finding{lineOf(source, loc[0]), r.message}
			if seen[f] {
				continue
			}
			seen[f] = true
			total++
			if total <= MaxViolations {
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: %s", f.line, f.message))
			}
		}
	}
	if total > MaxViolations {
		res.Errors = append(res.Errors, fmt.Sprintf("%d more violations not shown", total-MaxViolations))
	}
	metrics.RecordPolicyViolations(total)

	if !entryPattern.MatchString(source) {
		res.Errors = append(res.Errors, "code must define a sync function (function sync, sync: or exports.sync)")
	}
	if !exportsPattern.MatchString(source) {
		res.Warnings = append(res.Warnings, "code does not assign module.exports or exports; a global sync function will be used")
	}

	if opts.ExecutionEnabled {
		if _, err := goja.Parse("sync.js", source); err != nil {
			res.Errors = append(res.Errors, "syntax error: "+firstLine(err.Error()))
		}
	} else {
		res.Warnings = append(res.Warnings, checkBalance(source)...)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func lineOf(s string, offset int) int {
	return strings.Count(s[:offset], "\n") + 1
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
