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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{&ckerrors.ValidationError{Field: "mode"}, ExitInvalidInput},
		{&ckerrors.PolicyViolationError{}, ExitInvalidInput},
		{&ckerrors.ConfigError{Reason: "x"}, ExitConfig},
		{&ckerrors.DecryptionError{Reason: "x"}, ExitConfig},
		{&ckerrors.RateLimitError{Limit: 10}, ExitRateLimited},
		{&ckerrors.SSRFError{Host: "10.0.0.1"}, ExitBlocked},
		{&ckerrors.NotFoundError{Resource: "integration_config"}, ExitNotFound},
		{errors.New("boom"), ExitFailed},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestPrintError(t *testing.T) {
	t.Run("explicit code wins", func(t *testing.T) {
		var buf bytes.Buffer
		code := printError(&buf, &ExitError{Code: ExitFailed, Message: "sync failed", Cause: &ckerrors.ConfigError{Reason: "x"}})
		assert.Equal(t, ExitFailed, code)
		assert.True(t, strings.HasPrefix(buf.String(), "Error: sync failed"))
	})

	t.Run("suggestion printed", func(t *testing.T) {
		var buf bytes.Buffer
		code := printError(&buf, ckerrors.Wrap(&ckerrors.SSRFError{Host: "169.254.169.254"}, "test endpoint"))
		assert.Equal(t, ExitBlocked, code)
		assert.Contains(t, buf.String(), "Suggestion: Use a publicly routable HTTPS endpoint")
	})

	t.Run("new exit error uses category", func(t *testing.T) {
		err := NewExitError("invalid config file", &ckerrors.ValidationError{Message: "bad"})
		assert.Equal(t, ExitInvalidInput, err.Code)
		assert.Equal(t, "invalid config file: validation failed: bad", err.Error())
	})
}

func TestReadLine(t *testing.T) {
	got, err := ReadLine(strings.NewReader("secret-value\r\nsecond line\n"))
	assert.NoError(t, err)
	assert.Equal(t, "secret-value", got)

	got, err = ReadLine(strings.NewReader("no newline"))
	assert.NoError(t, err)
	assert.Equal(t, "no newline", got)
}
