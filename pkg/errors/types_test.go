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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "validation with field",
			err:     &ckerrors.ValidationError{Field: "mode", Message: "must be visual or code"},
			wantMsg: "validation failed on mode: must be visual or code",
		},
		{
			name:    "validation without field",
			err:     &ckerrors.ValidationError{Message: "invalid format"},
			wantMsg: "validation failed: invalid format",
		},
		{
			name:    "not found",
			err:     &ckerrors.NotFoundError{Resource: "integration_config", ID: "int-1"},
			wantMsg: "integration_config not found: int-1",
		},
		{
			name:    "config with key",
			err:     &ckerrors.ConfigError{Key: "base_url", Reason: "missing"},
			wantMsg: "config error at base_url: missing",
		},
		{
			name:    "decryption",
			err:     &ckerrors.DecryptionError{Reason: "authentication tag mismatch"},
			wantMsg: "decryption failed: authentication tag mismatch",
		},
		{
			name:    "ssrf with reason",
			err:     &ckerrors.SSRFError{Host: "127.0.0.1", Reason: "loopback"},
			wantMsg: "request blocked by SSRF protection: 127.0.0.1 (loopback)",
		},
		{
			name:    "sandbox timeout",
			err:     &ckerrors.SandboxTimeoutError{Limit: 30 * time.Second},
			wantMsg: "sync code timed out after 30s",
		},
		{
			name:    "sandbox runtime",
			err:     &ckerrors.SandboxRuntimeError{Message: "boom"},
			wantMsg: "sync code failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestPolicyViolationError_ListsEveryViolation(t *testing.T) {
	err := &ckerrors.PolicyViolationError{Violations: []string{"eval is not allowed", "require is not allowed"}}
	msg := err.Error()
	for _, v := range err.Violations {
		if !strings.Contains(msg, v) {
			t.Errorf("message %q missing violation %q", msg, v)
		}
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		err       error
		wantType  string
		retryable bool
	}{
		{&ckerrors.ConfigError{Reason: "x"}, "configuration", false},
		{&ckerrors.DecryptionError{Reason: "x"}, "decryption", false},
		{&ckerrors.SSRFError{Host: "x"}, "ssrf_blocked", false},
		{&ckerrors.PolicyViolationError{}, "policy_violation", false},
		{&ckerrors.RateLimitError{Limit: 10}, "rate_limited", true},
		{&ckerrors.SandboxTimeoutError{}, "sandbox_timeout", false},
		{&ckerrors.SandboxRuntimeError{}, "sandbox_runtime", false},
		{errors.New("plain"), "internal", false},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if got := ckerrors.TypeOf(wrapped); got != tt.wantType {
				t.Errorf("TypeOf() = %q, want %q", got, tt.wantType)
			}
			if got := ckerrors.IsRetryable(wrapped); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestIsHelpers(t *testing.T) {
	rl := ckerrors.Wrap(&ckerrors.RateLimitError{TenantID: "t1", Limit: 10}, "execute sync")
	if !ckerrors.IsRateLimited(rl) {
		t.Error("IsRateLimited() = false for wrapped RateLimitError")
	}
	if ckerrors.IsSSRF(rl) {
		t.Error("IsSSRF() = true for RateLimitError")
	}

	ssrf := ckerrors.Wrapf(&ckerrors.SSRFError{Host: "10.0.0.1"}, "fetch %s", "http://10.0.0.1")
	if !ckerrors.IsSSRF(ssrf) {
		t.Error("IsSSRF() = false for wrapped SSRFError")
	}
	if ckerrors.Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("parse error")
	err := &ckerrors.ConfigError{Key: "base_url", Reason: "invalid", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}
