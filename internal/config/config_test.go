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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/complykit/internal/featureflags"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

const testKey = "0123456789abcdef0123456789abcdef"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "COMPLYKIT_") || strings.HasPrefix(name, "LOG_") || name == "OTEL_EXPORTER_OTLP_ENDPOINT" {
			t.Setenv(name, "")
		}
	}
	t.Setenv("XDG_DATA_HOME", t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.True(t, strings.HasSuffix(cfg.Store.Path, filepath.Join("complykit", "complykit.db")))
	assert.Equal(t, "blob", cfg.Evidence.Backend)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 10, cfg.Sandbox.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Sandbox.Window)
	assert.False(t, cfg.Sandbox.CustomCodeEnabled)
	assert.False(t, cfg.SafeFetch.AllowPrivateIPs)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: text
store:
  backend: memory
sandbox:
  custom_code_enabled: true
  timeout: 5s
  max_requests: 3
safe_fetch:
  allowed_hosts: ["*.example.com"]
audit:
  destinations:
    - type: file
      path: `+filepath.Join(dir, "audit.log")+`
`), 0o600))

	t.Setenv("COMPLYKIT_RATE_LIMIT", "20")
	t.Setenv("COMPLYKIT_MASTER_KEY", testKey)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, cfg.Sandbox.CustomCodeEnabled)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 20, cfg.Sandbox.MaxRequests, "env wins over file")
	assert.Equal(t, []string{"*.example.com"}, cfg.SafeFetch.AllowedHosts)
	require.Len(t, cfg.Audit.Destinations, 1)
	assert.Equal(t, testKey, cfg.MasterKey)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	t.Setenv("COMPLYKIT_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *ckerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.applyDefaults()
	cfg.MasterKey = "short"
	cfg.Log.Level = "loud"
	cfg.Store.Backend = "postgres"
	cfg.Secrets.Provider = "aws"
	cfg.Sandbox.MaxRequests = -1

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"master key", "log.level", "store.backend", "secrets.provider", "sandbox.max_requests"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestResolveMasterKey(t *testing.T) {
	t.Run("env value", func(t *testing.T) {
		cfg := &Config{MasterKey: testKey}
		key, err := cfg.ResolveMasterKey()
		require.NoError(t, err)
		assert.Equal(t, testKey, key)
	})

	t.Run("key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "master.key")
		require.NoError(t, os.WriteFile(path, []byte(testKey+"\n"), 0o600))
		cfg := &Config{MasterKeyFile: path}
		key, err := cfg.ResolveMasterKey()
		require.NoError(t, err)
		assert.Equal(t, testKey, key)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := (&Config{}).ResolveMasterKey()
		var cfgErr *ckerrors.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := (&Config{MasterKey: "abc"}).ResolveMasterKey()
		assert.Error(t, err)
	})
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.CustomCodeEnabled = true
	f := featureflags.New()
	cfg.ApplyFlags(f)
	assert.True(t, f.IsCustomCodeEnabled())
	assert.False(t, f.IsExternalSecretsEnabled())
}

func TestDataDir_HonoursXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "complykit"), DataDir())
}
