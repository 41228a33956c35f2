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
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/complykit/internal/audit"
	"github.com/tombee/complykit/internal/config"
	"github.com/tombee/complykit/internal/cryptobox"
	"github.com/tombee/complykit/internal/endpoint"
	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/featureflags"
	"github.com/tombee/complykit/internal/integration"
	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/ratelimit"
	"github.com/tombee/complykit/internal/safefetch"
	"github.com/tombee/complykit/internal/sandbox"
	"github.com/tombee/complykit/internal/secrets"
	"github.com/tombee/complykit/internal/store"
	"github.com/tombee/complykit/internal/tracing"
	"github.com/tombee/complykit/pkg/httpclient"
)

// Runtime is the fully wired service stack used by the commands.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Flags   *featureflags.Flags
	Service *integration.Service

	// Blob is set when evidence is written to a directory.
	Blob *evidence.BlobSink

	closers []func(context.Context) error
}

// LoadConfig loads the configuration named by --config (or
// COMPLYKIT_CONFIG) and applies the global verbosity flags.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, err
	}
	switch {
	case GetVerbose():
		cfg.Log.Level = "debug"
	case GetQuiet():
		cfg.Log.Level = "error"
	}
	return cfg, nil
}

// NewLogger builds the process logger from cfg. Logs go to stderr so
// command output on stdout stays parseable.
func NewLogger(cfg *config.Config) *slog.Logger {
	return log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
		Output:    os.Stderr,
	})
}

// Open loads configuration and wires every collaborator of the
// integration service. Close must be called to flush audit entries and
// spans.
func Open(ctx context.Context) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: NewLogger(cfg), Flags: featureflags.New()}
	cfg.ApplyFlags(rt.Flags)

	if err := rt.open(ctx); err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	cfg, logger := rt.Config, rt.Logger

	tp, err := tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, tp.Shutdown)

	key, err := cfg.ResolveMasterKey()
	if err != nil {
		return err
	}
	box, err := cryptobox.New(key, cryptobox.WithLogger(logger))
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	cache := secrets.NewCache(cfg.Secrets.CacheTTL)
	secretStore := secrets.NewStore(box, registry,
		secrets.WithExternalScheme(cfg.Secrets.Provider),
		secrets.WithExternalEnabled(rt.Flags.IsExternalSecretsEnabled),
		secrets.WithCache(cache),
		secrets.WithStoreLogger(logger),
	)

	client := safefetch.New(safefetch.Options{
		AllowPrivateIPs:   cfg.SafeFetch.AllowPrivateIPs,
		AllowedHosts:      cfg.SafeFetch.AllowedHosts,
		BlockedHosts:      cfg.SafeFetch.BlockedHosts,
		MaxResponseBytes:  cfg.SafeFetch.MaxResponseBytes,
		MaxRedirects:      cfg.SafeFetch.MaxRedirects,
		Timeout:           cfg.SafeFetch.Timeout,
		RequestsPerSecond: cfg.SafeFetch.RequestsPerSecond,
		Burst:             cfg.SafeFetch.Burst,
		Logger:            logger,
	})

	configs, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return configs.Close() })

	var sink evidence.Sink
	switch cfg.Evidence.Backend {
	case "memory":
		sink = evidence.NewMemorySink()
	default:
		rt.Blob, err = evidence.NewBlobSink(cfg.Evidence.Dir, logger)
		if err != nil {
			return err
		}
		sink = rt.Blob
	}

	auditLog, err := newAuditLogger(cfg, client, logger)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return auditLog.Close() })

	runner := sandbox.NewRunner(sandbox.Config{Timeout: cfg.Sandbox.Timeout}, client,
		sandbox.WithLimiter(ratelimit.New(cfg.Sandbox.MaxRequests, cfg.Sandbox.Window)),
		sandbox.WithEnabled(rt.Flags.IsCustomCodeEnabled),
		sandbox.WithLogger(logger),
	)

	rt.Service, err = integration.New(integration.Deps{
		Store:                configs,
		Secrets:              secretStore,
		Tester:               endpoint.New(client, endpoint.WithLogger(logger)),
		Runner:               runner,
		Evidence:             sink,
		Audit:                auditLog,
		Cache:                cache,
		CodeExecutionEnabled: rt.Flags.IsCustomCodeEnabled,
		Logger:               logger,
	})
	return err
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// newRegistry registers the env provider and, when configured, the vault
// and keychain providers.
func newRegistry(cfg *config.Config) (*secrets.Registry, error) {
	providers := []secrets.Provider{secrets.NewEnvProvider()}

	if cfg.Secrets.VaultKey != "" {
		path := cfg.Secrets.VaultPath
		if path == "" {
			path = filepath.Join(config.DataDir(), "secrets.vault")
		}
		vault, err := secrets.NewVaultProvider(path, cfg.Secrets.VaultKey)
		if err != nil {
			return nil, err
		}
		providers = append(providers, vault)
	}
	if cfg.Secrets.Provider == secrets.KeychainScheme {
		providers = append(providers, secrets.NewKeychainProvider(cfg.Secrets.KeychainService))
	}
	return secrets.NewRegistry(providers...), nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.ConfigStore, error) {
	if cfg.Store.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(ctx, cfg.Store.Path)
}

// newAuditLogger builds the audit destinations. Webhooks go through the
// SSRF-guarded client with retries; entries carry ids, so POSTs are
// retried. With no destinations configured, entries are
// appended to audit.log in the data directory.
func newAuditLogger(cfg *config.Config, client *safefetch.Client, logger *slog.Logger) (*audit.Logger, error) {
	retryCfg := httpclient.DefaultConfig()
	retryCfg.AllowNonIdempotentRetry = true
	webhookClient, err := httpclient.Wrap(client.HTTPClient(), retryCfg, logger)
	if err != nil {
		return nil, err
	}

	var dests []audit.Destination
	for _, dc := range cfg.Audit.Destinations {
		d, err := audit.NewDestination(dc, webhookClient)
		if err != nil {
			for _, opened := range dests {
				_ = opened.Close()
			}
			return nil, err
		}
		dests = append(dests, d)
	}
	if len(dests) == 0 {
		d, err := audit.NewFileDestination(filepath.Join(config.DataDir(), "audit.log"), "json")
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return audit.NewLogger(dests, audit.WithBufferSize(cfg.Audit.BufferSize), audit.WithLogger(logger)), nil
}

// WithRuntime opens a Runtime for the duration of fn.
func WithRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
			rt.Logger.Warn("shutdown failed", log.Error(cerr))
		}
	}()
	return fn(ctx, rt)
}

// DefaultActor names the operator recorded in audit entries when --actor
// is not given.
func DefaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
