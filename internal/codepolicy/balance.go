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

package codepolicy

import "fmt"

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// checkBalance is an execution-free syntax heuristic. It tracks brackets
// outside of strings and comments. Regex literals are not recognised, so
// every finding is a warning.
func checkBalance(src string) []string {
	var (
		warnings []string
		stack    []rune
		quote    rune
		line     = 1
	)

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '\n' {
			line++
		}

		if quote != 0 {
			switch {
			case c == '\\':
				i++
			case c == quote:
				quote = 0
			case c == '\n' && quote != '\x60':
				warnings = append(warnings, fmt.Sprintf("line %d: unterminated string literal", line-1))
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'', '\x60':
			quote = c
		case '/':
			if i+1 < len(runes) && runes[i+1] == '/' {
				for i < len(runes) && runes[i] != '\n' {
					i++
				}
				line++
			} else if i+1 < len(runes) && runes[i+1] == '*' {
				i += 2
				for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
					if runes[i] == '\n' {
						line++
					}
					i++
				}
				if i+1 >= len(runes) {
					warnings = append(warnings, "unterminated block comment")
				}
				i++
			}
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != closers[c] {
				warnings = append(warnings, fmt.Sprintf("line %d: unbalanced %q", line, c))
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}

	if quote != 0 {
		warnings = append(warnings, "unterminated string literal at end of code")
	}
	if len(stack) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d unclosed bracket(s) at end of code", len(stack)))
	}
	return warnings
}
