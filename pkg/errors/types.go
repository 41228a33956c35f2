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

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "integration_config", "secret")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConfigError represents integration or service configuration problems:
// a missing or invalid base URL, an endpoint index out of range, or a
// mode mismatch. These are reported to the caller and never retried.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "base_url", "endpoints[2]")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., URL parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "configuration" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// DecryptionError is returned when an encrypted field cannot be opened:
// the authentication tag does not verify, a hex part is malformed, the
// field shape is unknown, or nested re-decryption went too deep.
type DecryptionError struct {
	// Reason is a short, non-sensitive description. It never contains
	// plaintext or key material.
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DecryptionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *DecryptionError) ErrorType() string { return "decryption" }

// IsRetryable implements ErrorClassifier.
func (e *DecryptionError) IsRetryable() bool { return false }

// SSRFError is returned when an outbound request targets a blocked
// destination (private, loopback, link-local or metadata address, or a
// host outside the allowlist). It is always surfaced, never swallowed.
type SSRFError struct {
	// Host is the host (or resolved address) that was blocked
	Host string

	// Reason explains which rule blocked the request
	Reason string
}

// Error implements the error interface.
func (e *SSRFError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request blocked by SSRF protection: %s (%s)", e.Host, e.Reason)
	}
	return fmt.Sprintf("request blocked by SSRF protection: %s", e.Host)
}

// ErrorType implements ErrorClassifier.
func (e *SSRFError) ErrorType() string { return "ssrf_blocked" }

// IsRetryable implements ErrorClassifier.
func (e *SSRFError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError.
func (e *SSRFError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *SSRFError) UserMessage() string {
	return "Request blocked: the target address is not allowed"
}

// Suggestion implements UserVisibleError.
func (e *SSRFError) Suggestion() string {
	return "Use a publicly routable HTTPS endpoint for the integration base URL"
}

// PolicyViolationError carries the structured findings of the code policy
// validator. Code that produced this error never reached execution.
type PolicyViolationError struct {
	// Violations lists every finding, not just the first
	Violations []string
}

// Error implements the error interface.
func (e *PolicyViolationError) Error() string {
	if len(e.Violations) == 0 {
		return "code policy violation"
	}
	return fmt.Sprintf("code policy violation: %s", strings.Join(e.Violations, "; "))
}

// ErrorType implements ErrorClassifier.
func (e *PolicyViolationError) ErrorType() string { return "policy_violation" }

// IsRetryable implements ErrorClassifier.
func (e *PolicyViolationError) IsRetryable() bool { return false }

// RateLimitError is returned when a tenant has exhausted its execution
// window. Callers should back off until RetryAfter has elapsed.
type RateLimitError struct {
	// TenantID is the tenant that was throttled
	TenantID string

	// Limit is the number of executions allowed per window
	Limit int

	// RetryAfter is the time remaining until the window resets
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d executions per window, retry after %v", e.Limit, e.RetryAfter.Round(time.Second))
}

// ErrorType implements ErrorClassifier.
func (e *RateLimitError) ErrorType() string { return "rate_limited" }

// IsRetryable implements ErrorClassifier.
func (e *RateLimitError) IsRetryable() bool { return true }

// TimeoutError represents operation timeouts outside the sandbox.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "secrets provider", "oauth2 token fetch")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// SandboxTimeoutError is returned when user code exceeds its wall-clock
// budget. No partial result accompanies it.
type SandboxTimeoutError struct {
	// Limit is the configured execution timeout
	Limit time.Duration
}

// Error implements the error interface.
func (e *SandboxTimeoutError) Error() string {
	return fmt.Sprintf("sync code timed out after %v", e.Limit)
}

// ErrorType implements ErrorClassifier.
func (e *SandboxTimeoutError) ErrorType() string { return "sandbox_timeout" }

// IsRetryable implements ErrorClassifier.
func (e *SandboxTimeoutError) IsRetryable() bool { return false }

// SandboxRuntimeError wraps an exception raised by user code. Message holds
// only the script-level message; host stack traces are never included.
type SandboxRuntimeError struct {
	Message string
}

// Error implements the error interface.
func (e *SandboxRuntimeError) Error() string {
	return fmt.Sprintf("sync code failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *SandboxRuntimeError) ErrorType() string { return "sandbox_runtime" }

// IsRetryable implements ErrorClassifier.
func (e *SandboxRuntimeError) IsRetryable() bool { return false }
