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

// Package config loads complykit configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/complykit/internal/audit"
	"github.com/tombee/complykit/internal/featureflags"
	"github.com/tombee/complykit/internal/tracing"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// MinMasterKeyLength is the shortest accepted master encryption key.
const MinMasterKeyLength = 32

// Config is the complete complykit configuration.
type Config struct {
	// MasterKey encrypts credentials at rest. It is read from the
	// environment or MasterKeyFile and never from the YAML file itself.
	MasterKey string `yaml:"-"`

	// MasterKeyFile names a file holding the master key.
	MasterKeyFile string `yaml:"master_key_file,omitempty"`

	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	SafeFetch SafeFetchConfig `yaml:"safe_fetch"`
	Audit     AuditConfig     `yaml:"audit"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// StoreConfig selects the integration config store.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
}

// EvidenceConfig selects the evidence sink.
type EvidenceConfig struct {
	// Backend is "blob" or "memory".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir,omitempty"`
}

// SecretsConfig configures the external secrets provider.
type SecretsConfig struct {
	// ExternalEnabled stores new credentials in Provider instead of
	// encrypting them inline.
	ExternalEnabled bool `yaml:"external_enabled"`

	// Provider is "vault", "keychain" or "env".
	Provider string `yaml:"provider"`

	VaultPath       string `yaml:"vault_path,omitempty"`
	VaultKey        string `yaml:"-"`
	KeychainService string `yaml:"keychain_service,omitempty"`

	// CacheTTL bounds how long a resolved secret is reused within one
	// request scope.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SandboxConfig configures custom-code execution.
type SandboxConfig struct {
	CustomCodeEnabled bool          `yaml:"custom_code_enabled"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRequests       int           `yaml:"max_requests"`
	Window            time.Duration `yaml:"window"`
}

// SafeFetchConfig configures outbound request guarding.
type SafeFetchConfig struct {
	AllowPrivateIPs   bool          `yaml:"allow_private_ips"`
	AllowedHosts      []string      `yaml:"allowed_hosts,omitempty"`
	BlockedHosts      []string      `yaml:"blocked_hosts,omitempty"`
	MaxResponseBytes  int64         `yaml:"max_response_bytes"`
	MaxRedirects      int           `yaml:"max_redirects"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// AuditConfig configures audit destinations.
type AuditConfig struct {
	Destinations []audit.DestinationConfig `yaml:"destinations"`
	BufferSize   int                       `yaml:"buffer_size,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Evidence: EvidenceConfig{
			Backend: "blob",
		},
		Secrets: SecretsConfig{
			Provider:        "vault",
			KeychainService: "complykit",
			CacheTTL:        5 * time.Minute,
		},
		Sandbox: SandboxConfig{
			Timeout:     30 * time.Second,
			MaxRequests: 10,
			Window:      time.Minute,
		},
		SafeFetch: SafeFetchConfig{
			MaxResponseBytes: 10 * 1024 * 1024,
			MaxRedirects:     5,
			Timeout:          30 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: audit.DefaultBufferSize,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Load reads configPath (optional), applies defaults and environment
// overrides, and validates the result. Environment variables take
// precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = os.Getenv("COMPLYKIT_CONFIG")
	}
	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &ckerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &ckerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left by a minimal file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Store.Backend == "sqlite" && c.Store.Path == "" {
		c.Store.Path = filepath.Join(DataDir(), "complykit.db")
	}
	if c.Evidence.Backend == "" {
		c.Evidence.Backend = d.Evidence.Backend
	}
	if c.Evidence.Backend == "blob" && c.Evidence.Dir == "" {
		c.Evidence.Dir = filepath.Join(DataDir(), "evidence")
	}
	if c.Secrets.Provider == "" {
		c.Secrets.Provider = d.Secrets.Provider
	}
	if c.Secrets.KeychainService == "" {
		c.Secrets.KeychainService = d.Secrets.KeychainService
	}
	if c.Secrets.CacheTTL == 0 {
		c.Secrets.CacheTTL = d.Secrets.CacheTTL
	}
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = d.Sandbox.Timeout
	}
	if c.Sandbox.MaxRequests == 0 {
		c.Sandbox.MaxRequests = d.Sandbox.MaxRequests
	}
	if c.Sandbox.Window == 0 {
		c.Sandbox.Window = d.Sandbox.Window
	}
	if c.SafeFetch.MaxResponseBytes == 0 {
		c.SafeFetch.MaxResponseBytes = d.SafeFetch.MaxResponseBytes
	}
	if c.SafeFetch.Timeout == 0 {
		c.SafeFetch.Timeout = d.SafeFetch.Timeout
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = d.Audit.BufferSize
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("COMPLYKIT_MASTER_KEY"); val != "" {
		c.MasterKey = val
	}
	if val := os.Getenv("COMPLYKIT_MASTER_KEY_FILE"); val != "" {
		c.MasterKeyFile = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("COMPLYKIT_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	if val := os.Getenv("COMPLYKIT_STORE_BACKEND"); val != "" {
		c.Store.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("COMPLYKIT_STORE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("COMPLYKIT_EVIDENCE_DIR"); val != "" {
		c.Evidence.Dir = val
	}

	if val := os.Getenv(featureflags.EnvExternalSecrets); val != "" {
		c.Secrets.ExternalEnabled = parseBool(val)
	}
	if val := os.Getenv("COMPLYKIT_SECRETS_PROVIDER"); val != "" {
		c.Secrets.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("COMPLYKIT_VAULT_PATH"); val != "" {
		c.Secrets.VaultPath = val
	}
	if val := os.Getenv("COMPLYKIT_VAULT_KEY"); val != "" {
		c.Secrets.VaultKey = val
	}

	if val := os.Getenv(featureflags.EnvCustomCode); val != "" {
		c.Sandbox.CustomCodeEnabled = parseBool(val)
	}
	if val := os.Getenv("COMPLYKIT_SYNC_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Sandbox.Timeout = d
		}
	}
	if val := os.Getenv("COMPLYKIT_RATE_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Sandbox.MaxRequests = n
		}
	}

	if val := os.Getenv("COMPLYKIT_ALLOW_PRIVATE_IPS"); val != "" {
		c.SafeFetch.AllowPrivateIPs = parseBool(val)
	}

	if val := os.Getenv("COMPLYKIT_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Exporters = append(c.Tracing.Exporters, tracing.ExporterConfig{
			Type:     "otlp-http",
			Endpoint: strings.TrimPrefix(strings.TrimPrefix(val, "https://"), "http://"),
			Insecure: strings.HasPrefix(val, "http://"),
		})
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.MasterKey != "" && len(c.MasterKey) < MinMasterKeyLength {
		errs = append(errs, fmt.Sprintf("master key must be at least %d characters", MinMasterKeyLength))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be one of [sqlite, memory], got %q", c.Store.Backend))
	}

	switch c.Evidence.Backend {
	case "memory":
	case "blob":
		if c.Evidence.Dir == "" {
			errs = append(errs, "evidence.dir is required for the blob backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("evidence.backend must be one of [blob, memory], got %q", c.Evidence.Backend))
	}

	switch c.Secrets.Provider {
	case "vault", "keychain", "env":
	default:
		errs = append(errs, fmt.Sprintf("secrets.provider must be one of [vault, keychain, env], got %q", c.Secrets.Provider))
	}
	if c.Secrets.CacheTTL < 0 {
		errs = append(errs, "secrets.cache_ttl cannot be negative")
	}

	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("sandbox.timeout must be positive, got %v", c.Sandbox.Timeout))
	}
	if c.Sandbox.MaxRequests <= 0 {
		errs = append(errs, fmt.Sprintf("sandbox.max_requests must be positive, got %d", c.Sandbox.MaxRequests))
	}
	if c.Sandbox.Window <= 0 {
		errs = append(errs, fmt.Sprintf("sandbox.window must be positive, got %v", c.Sandbox.Window))
	}

	if c.SafeFetch.MaxResponseBytes < 0 {
		errs = append(errs, "safe_fetch.max_response_bytes cannot be negative")
	}
	if c.SafeFetch.RequestsPerSecond < 0 {
		errs = append(errs, "safe_fetch.requests_per_second cannot be negative")
	}

	for i, d := range c.Audit.Destinations {
		switch d.Type {
		case "file":
			if d.Path == "" {
				errs = append(errs, fmt.Sprintf("audit.destinations[%d]: file destination requires path", i))
			}
		case "webhook":
			if d.URL == "" {
				errs = append(errs, fmt.Sprintf("audit.destinations[%d]: webhook destination requires url", i))
			}
		case "stdout":
		default:
			errs = append(errs, fmt.Sprintf("audit.destinations[%d]: unknown type %q", i, d.Type))
		}
	}

	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ResolveMasterKey returns the master key from the environment or the key
// file. A missing or short key is a ConfigError.
func (c *Config) ResolveMasterKey() (string, error) {
	key := c.MasterKey
	if key == "" && c.MasterKeyFile != "" {
		data, err := os.ReadFile(expandHome(c.MasterKeyFile))
		if err != nil {
			return "", &ckerrors.ConfigError{Key: "master_key_file", Reason: "cannot read master key file", Cause: err}
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return "", &ckerrors.ConfigError{Key: "master_key", Reason: "COMPLYKIT_MASTER_KEY or master_key_file must be set"}
	}
	if len(key) < MinMasterKeyLength {
		return "", &ckerrors.ConfigError{Key: "master_key", Reason: fmt.Sprintf("must be at least %d characters", MinMasterKeyLength)}
	}
	return key, nil
}

// ApplyFlags copies the feature switches into f.
func (c *Config) ApplyFlags(f *featureflags.Flags) {
	f.SetCustomCodeEnabled(c.Sandbox.CustomCodeEnabled)
	f.SetExternalSecretsEnabled(c.Secrets.ExternalEnabled)
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	return err == nil && b
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
