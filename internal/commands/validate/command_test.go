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

package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/complykit/internal/commands/shared"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("COMPLYKIT_CONFIG", "")
	t.Setenv("COMPLYKIT_CUSTOM_CODE_ENABLED", "true")

	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.js")
	require.NoError(t, os.WriteFile(path, []byte("module.exports = { sync: async () => ({ evidence: [] }) }"), 0o600))

	out, err := run(t, "", path)
	require.NoError(t, err)
	assert.Contains(t, out, "passes")
}

func TestValidate_ViolationsFromStdin(t *testing.T) {
	out, err := run(t, "module.exports = { sync: () => eval('process.exit()') }", "-")

	var exitErr *shared.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, shared.ExitInvalidInput, exitErr.Code)
	assert.Contains(t, out, "error: ")
}

func TestValidate_JSON(t *testing.T) {
	shared.SetJSONForTest(true)
	defer shared.SetJSONForTest(false)

	out, err := run(t, "module.exports = { sync: () => require('fs') }", "-")
	require.Error(t, err)

	var got struct {
		Command string   `json:"command"`
		Success bool     `json:"success"`
		Valid   bool     `json:"valid"`
		Errors  []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "validate", got.Command)
	assert.False(t, got.Success)
	assert.False(t, got.Valid)
	assert.NotEmpty(t, got.Errors)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := run(t, "", filepath.Join(t.TempDir(), "missing.js"))
	assert.Error(t, err)
}
