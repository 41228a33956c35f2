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

// Package integration is the entry point of the integration core. It ties
// credential storage, endpoint testing, sandboxed sync and key rotation to
// the persisted integration configs.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/complykit/internal/audit"
	"github.com/tombee/complykit/internal/codepolicy"
	"github.com/tombee/complykit/internal/endpoint"
	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/featureflags"
	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/sandbox"
	"github.com/tombee/complykit/internal/secrets"
	"github.com/tombee/complykit/internal/store"
	"github.com/tombee/complykit/internal/tracing"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store    store.ConfigStore
	Secrets  *secrets.Store
	Tester   *endpoint.Tester
	Runner   *sandbox.Runner
	Evidence evidence.Sink

	// Audit defaults to a sink that discards entries.
	Audit audit.Sink

	// Cache, when set, is scoped to each operation and cleared when it
	// returns.
	Cache *secrets.Cache

	// CodeExecutionEnabled reports whether custom code may run. It decides
	// how thoroughly ValidateCode checks syntax. Defaults to the process
	// feature flag.
	CodeExecutionEnabled func() bool

	Logger *slog.Logger
}

// Service implements the integration operations. It is safe for
// concurrent use.
type Service struct {
	// mu serializes key rotation against every path that reads or writes
	// ciphertext. Ordinary operations hold it for reading and never across
	// outbound HTTP.
	mu sync.RWMutex

	// records serializes read-modify-write cycles on a single record.
	records recordLocks

	store    store.ConfigStore
	secrets  *secrets.Store
	tester   *endpoint.Tester
	runner   *sandbox.Runner
	evidence evidence.Sink
	audit    audit.Sink
	cache    *secrets.Cache
	codeOn   func() bool

	logger *slog.Logger
	ops    *log.OperationLogger
	now    func() time.Time
}

// New creates a Service.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("integration: store is required")
	case deps.Secrets == nil:
		return nil, fmt.Errorf("integration: secret store is required")
	case deps.Tester == nil:
		return nil, fmt.Errorf("integration: endpoint tester is required")
	case deps.Runner == nil:
		return nil, fmt.Errorf("integration: sandbox runner is required")
	case deps.Evidence == nil:
		return nil, fmt.Errorf("integration: evidence sink is required")
	}

	s := &Service{
		store:    deps.Store,
		secrets:  deps.Secrets,
		tester:   deps.Tester,
		runner:   deps.Runner,
		evidence: deps.Evidence,
		audit:    deps.Audit,
		cache:    deps.Cache,
		codeOn:   deps.CodeExecutionEnabled,
		now:      time.Now,
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.codeOn == nil {
		s.codeOn = featureflags.Get().IsCustomCodeEnabled
	}
	s.logger = log.WithComponent(log.OrDiscard(deps.Logger), "integration")
	s.ops = log.NewOperationLogger(s.logger)
	return s, nil
}

// operation wraps fn with a span, start/finish logging and a request
// scope for the secret cache.
func (s *Service) operation(ctx context.Context, op *log.Operation, fn func(ctx context.Context) error) error {
	ctx, span := tracing.Start(ctx, "integration."+op.Name, op.TenantID, op.IntegrationID)

	if s.cache != nil {
		scope := uuid.NewString()
		ctx = secrets.WithScope(ctx, scope)
		defer s.cache.Clear(scope)
	}

	err := s.ops.Run(ctx, op, fn)
	tracing.End(span, err)
	return err
}

// GetConfig returns the integration config with sensitive fields masked.
func (s *Service) GetConfig(ctx context.Context, integrationID, tenantID string) (*ConfigView, error) {
	var view *ConfigView
	err := s.operation(ctx, &log.Operation{Name: "get_config", TenantID: tenantID, IntegrationID: integrationID},
		func(ctx context.Context) error {
			s.mu.RLock()
			defer s.mu.RUnlock()

			cfg, err := s.store.Get(ctx, tenantID, integrationID)
			if err != nil {
				return err
			}
			view = s.view(ctx, cfg)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// SaveConfig validates and stores a config. New sensitive auth values are
// encrypted or sent to the external provider; stored credentials are kept
// when the caller omits them or echoes their mask. Returns the masked
// result.
func (s *Service) SaveConfig(ctx context.Context, integrationID, tenantID, actor string, req SaveRequest) (*ConfigView, error) {
	var view *ConfigView
	err := s.operation(ctx, &log.Operation{Name: "save_config", TenantID: tenantID, IntegrationID: integrationID, Actor: actor},
		func(ctx context.Context) error {
			mode, authType, err := validateSave(req)
			if err != nil {
				return err
			}

			s.mu.RLock()
			defer s.mu.RUnlock()
			defer s.records.lock(tenantID, integrationID)()

			existing, err := s.store.Get(ctx, tenantID, integrationID)
			var nf *ckerrors.NotFoundError
			if err != nil && !ckerrors.As(err, &nf) {
				return err
			}

			now := s.now().UTC()
			cfg := &store.IntegrationConfig{
				TenantID:      tenantID,
				IntegrationID: integrationID,
				Mode:          mode,
				BaseURL:       strings.TrimSpace(req.BaseURL),
				Endpoints:     slices.Clone(req.Endpoints),
				AuthType:      authType,
				CustomCode:    req.CustomCode,
				CreatedAt:     now,
				UpdatedAt:     now,
				UpdatedBy:     actor,
			}

			var previous map[string]string
			if existing != nil {
				cfg.CreatedAt = existing.CreatedAt
				cfg.LastTest = existing.LastTest
				if existing.AuthType == authType || req.AuthConfig == nil {
					previous = existing.AuthConfig
				}
			}

			auth, changed, err := s.mergeAuth(ctx, tenantID, integrationID, previous, req.AuthConfig)
			if err != nil {
				return err
			}
			cfg.AuthConfig = auth

			if err := s.store.Put(ctx, cfg); err != nil {
				s.audit.Log(ctx, audit.Entry{
					Action: audit.ActionConfigSaved, TenantID: tenantID, IntegrationID: integrationID,
					Actor: actor, Outcome: audit.OutcomeFailure,
				})
				return err
			}

			s.audit.Log(ctx, audit.Entry{
				Action:        audit.ActionConfigSaved,
				TenantID:      tenantID,
				IntegrationID: integrationID,
				Actor:         actor,
				Details: map[string]any{
					"mode":           string(mode),
					"auth_type":      string(authType),
					"created":        existing == nil,
					"fields_changed": changed,
				},
			})
			view = s.view(ctx, cfg)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeleteConfig removes a config after deleting the external secrets it
// references. Secret cleanup is best effort.
func (s *Service) DeleteConfig(ctx context.Context, integrationID, tenantID, actor string) error {
	return s.operation(ctx, &log.Operation{Name: "delete_config", TenantID: tenantID, IntegrationID: integrationID, Actor: actor},
		func(ctx context.Context) error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			defer s.records.lock(tenantID, integrationID)()

			cfg, err := s.store.Get(ctx, tenantID, integrationID)
			if err != nil {
				return err
			}

			refs := make(map[string]any, len(cfg.AuthConfig))
			for k, v := range cfg.AuthConfig {
				refs[k] = v
			}
			deleted := s.secrets.Cleanup(ctx, tenantID, integrationID, map[string]any{"authConfig": refs})

			if err := s.store.Delete(ctx, tenantID, integrationID); err != nil {
				return err
			}
			s.audit.Log(ctx, audit.Entry{
				Action:        audit.ActionConfigDeleted,
				TenantID:      tenantID,
				IntegrationID: integrationID,
				Actor:         actor,
				Details:       map[string]any{"secrets_deleted": deleted},
			})
			return nil
		})
}

// ValidateCode checks source against the code policy. Syntax is parsed
// only when custom code execution is enabled.
func (s *Service) ValidateCode(code string) ValidationResult {
	return codepolicy.Validate(code, codepolicy.Options{ExecutionEnabled: s.codeOn()})
}

func validateSave(req SaveRequest) (store.Mode, store.AuthType, error) {
	mode, err := store.ParseMode(req.Mode)
	if err != nil {
		return "", "", &ckerrors.ValidationError{Field: "mode", Message: err.Error()}
	}
	authType, err := store.ParseAuthType(req.AuthType)
	if err != nil {
		return "", "", &ckerrors.ValidationError{Field: "authType", Message: err.Error()}
	}

	if base := strings.TrimSpace(req.BaseURL); base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return "", "", &ckerrors.ValidationError{Field: "baseUrl", Message: "must be an absolute http or https URL"}
		}
		if u.User != nil {
			return "", "", &ckerrors.ValidationError{Field: "baseUrl", Message: "must not contain credentials"}
		}
	}

	for k := range req.AuthConfig {
		if !secrets.IsSafeKey(k) {
			return "", "", &ckerrors.ValidationError{Field: "authConfig", Message: fmt.Sprintf("invalid field name %q", k)}
		}
	}

	for i, ep := range req.Endpoints {
		if strings.TrimSpace(ep.Path) == "" {
			return "", "", &ckerrors.ValidationError{Field: fmt.Sprintf("endpoints[%d].path", i), Message: "is required"}
		}
		if ep.ResponsePath != "" {
			if err := jqValidate(ep.ResponsePath); err != nil {
				return "", "", &ckerrors.ValidationError{Field: fmt.Sprintf("endpoints[%d].responsePath", i), Message: err.Error()}
			}
		}
	}

	if len(req.CustomCode) > codepolicy.MaxSourceBytes {
		return "", "", &ckerrors.ValidationError{
			Field:   "customCode",
			Message: fmt.Sprintf("exceeds maximum size of %d bytes", codepolicy.MaxSourceBytes),
		}
	}
	return mode, authType, nil
}

// mergeAuth combines stored fields with requested ones. It returns the
// new stored map and the sorted names of fields whose stored form changed.
func (s *Service) mergeAuth(ctx context.Context, tenantID, integrationID string, previous, requested map[string]string) (map[string]string, []string, error) {
	out := make(map[string]string, len(previous)+len(requested))
	for k, v := range previous {
		out[k] = v
	}
	if requested == nil {
		return out, nil, nil
	}

	var changed []string
	for field, value := range requested {
		switch {
		case value == "":
			if _, ok := out[field]; ok {
				delete(out, field)
				changed = append(changed, field)
			}
		case secrets.IsMasked(value):
			// Masked echo of the stored value; a mask for a field we never
			// stored carries nothing to keep.
		case previous[field] == value:
			// Verbatim echo of the stored form.
		case secrets.IsSensitiveField(field) || isProtected(value):
			stored, err := s.secrets.Put(ctx, tenantID, integrationID, field, value)
			if ckerrors.Is(err, secrets.ErrForeignReference) || ckerrors.Is(err, secrets.ErrSuppliedCiphertext) {
				return nil, nil, &ckerrors.ValidationError{
					Field:      "authConfig." + field,
					Message:    err.Error(),
					Suggestion: "Send the plain credential value; it is encrypted on save",
				}
			}
			if err != nil {
				return nil, nil, ckerrors.Wrapf(err, "store credential %s", field)
			}
			out[field] = stored
			changed = append(changed, field)
		default:
			if out[field] != value {
				changed = append(changed, field)
			}
			out[field] = value
		}
	}
	sort.Strings(changed)
	return out, changed, nil
}

// view masks cfg for display. Sensitive values are resolved only to be
// masked; unresolvable ones show the full mask.
func (s *Service) view(ctx context.Context, cfg *store.IntegrationConfig) *ConfigView {
	v := &ConfigView{
		TenantID:       cfg.TenantID,
		IntegrationID:  cfg.IntegrationID,
		Mode:           cfg.Mode,
		BaseURL:        cfg.BaseURL,
		Endpoints:      slices.Clone(cfg.Endpoints),
		AuthType:       cfg.AuthType,
		AuthConfig:     make(map[string]string, len(cfg.AuthConfig)),
		CustomCode:     cfg.CustomCode,
		LastTestStatus: cfg.LastTest,
		UpdatedAt:      cfg.UpdatedAt,
		UpdatedBy:      cfg.UpdatedBy,
	}
	if v.Endpoints == nil {
		v.Endpoints = []store.Endpoint{}
	}

	for field, stored := range cfg.AuthConfig {
		if !secrets.IsSafeKey(field) {
			continue
		}
		if !secrets.IsSensitiveField(field) && !isProtected(stored) {
			v.AuthConfig[field] = stored
			continue
		}
		v.HasCredentials = true
		plain, ok := s.secrets.Get(ctx, stored, cfg.TenantID)
		if !ok {
			v.AuthConfig[field] = secrets.FullMask
			continue
		}
		v.AuthConfig[field] = secrets.Mask(plain)
	}
	return v
}
