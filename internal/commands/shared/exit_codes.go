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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitFailed       = 1
	ExitInvalidInput = 2
	ExitConfig       = 3
	ExitRateLimited  = 4
	ExitBlocked      = 5
	ExitNotFound     = 6
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewExitError wraps cause with msg and the exit code matching its error
// category.
func NewExitError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitCodeFor(cause), Message: msg, Cause: cause}
}

// ExitCodeFor maps an error category to a process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch ckerrors.TypeOf(err) {
	case "validation", "policy_violation":
		return ExitInvalidInput
	case "configuration", "decryption":
		return ExitConfig
	case "rate_limited":
		return ExitRateLimited
	case "ssrf_blocked":
		return ExitBlocked
	case "not_found":
		return ExitNotFound
	default:
		return ExitFailed
	}
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(printError(os.Stderr, err))
}

func printError(w io.Writer, err error) int {
	code := ExitCodeFor(err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	fmt.Fprintln(w, "Error:", err.Error())
	printUserVisibleSuggestion(w, err)
	return code
}

// printUserVisibleSuggestion prints the suggestion of the first
// UserVisibleError in err's chain.
func printUserVisibleSuggestion(w io.Writer, err error) {
	var userErr ckerrors.UserVisibleError
	if !errors.As(err, &userErr) || !userErr.IsUserVisible() {
		return
	}
	if s := userErr.Suggestion(); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}
