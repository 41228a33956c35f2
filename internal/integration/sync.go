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

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tombee/complykit/internal/audit"
	"github.com/tombee/complykit/internal/cryptobox"
	"github.com/tombee/complykit/internal/endpoint"
	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/jq"
	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/sandbox"
	"github.com/tombee/complykit/internal/secrets"
	"github.com/tombee/complykit/internal/store"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// TestEndpoint calls one configured endpoint with the stored base URL and
// credentials and records the outcome as the config's last test status.
// Overrides in req other than the index are ignored.
func (s *Service) TestEndpoint(ctx context.Context, integrationID, tenantID, actor string, req TestRequest) (*endpoint.TestResult, error) {
	var result *endpoint.TestResult
	err := s.operation(ctx, &log.Operation{Name: "test_endpoint", TenantID: tenantID, IntegrationID: integrationID, Actor: actor},
		func(ctx context.Context) error {
			if req.BaseURL != "" || len(req.AuthConfig) > 0 {
				s.logger.Warn("ignoring base URL and auth overrides on endpoint test",
					log.TenantIDKey, tenantID, log.IntegrationIDKey, integrationID)
			}

			cfg, creds, err := s.load(ctx, tenantID, integrationID)
			if err != nil {
				return err
			}
			if cfg.Mode != store.ModeVisual {
				return &ckerrors.ConfigError{Key: "mode", Reason: "endpoint tests require visual mode"}
			}

			result, err = s.tester.Test(ctx, cfg, creds, req.EndpointIndex)
			outcome := audit.OutcomeSuccess
			if err != nil || !result.Success {
				outcome = audit.OutcomeFailure
			}
			s.audit.Log(ctx, audit.Entry{
				Action:        audit.ActionEndpointTested,
				TenantID:      tenantID,
				IntegrationID: integrationID,
				Actor:         actor,
				Outcome:       outcome,
				Details:       map[string]any{"endpoint_index": req.EndpointIndex},
			})
			if err != nil {
				return err
			}

			s.recordTest(ctx, tenantID, integrationID, result)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExecuteSync collects evidence for an integration. Visual mode calls
// every endpoint; code mode runs the stored script in the sandbox. Rate
// limit rejections, disabled custom code and configuration problems are
// returned as errors. Script failures are reported in the result.
func (s *Service) ExecuteSync(ctx context.Context, integrationID, tenantID, actor string) (*SyncResult, error) {
	var result *SyncResult
	err := s.operation(ctx, &log.Operation{Name: "execute_sync", TenantID: tenantID, IntegrationID: integrationID, Actor: actor},
		func(ctx context.Context) error {
			cfg, creds, err := s.load(ctx, tenantID, integrationID)
			if err != nil {
				return err
			}

			var items []evidence.Item
			var errs []string
			switch cfg.Mode {
			case store.ModeCode:
				items, result, err = s.runCode(ctx, cfg, creds)
				if err != nil {
					s.auditSync(ctx, cfg, actor, audit.OutcomeRejected, 0, ckerrors.TypeOf(err))
					return err
				}
				if result != nil {
					s.auditSync(ctx, cfg, actor, audit.OutcomeFailure, 0, result.ErrorType)
					return nil
				}
			default:
				items, errs = s.tester.Sync(ctx, cfg, creds)
			}

			created := 0
			if len(items) > 0 {
				created, err = s.evidence.CreateFromItems(ctx, tenantID, integrationID, items)
				if err != nil {
					errs = append(errs, "evidence: "+err.Error())
				}
			}

			result = &SyncResult{
				Success:         len(errs) == 0,
				EvidenceCreated: created,
				Errors:          errs,
			}
			switch {
			case len(errs) == 0:
				result.Message = fmt.Sprintf("Created %d evidence items", created)
			case created > 0:
				result.Message = fmt.Sprintf("Created %d evidence items with %d errors", created, len(errs))
			default:
				result.Message = "Sync failed"
			}

			outcome := audit.OutcomeSuccess
			if !result.Success {
				outcome = audit.OutcomeFailure
			}
			s.auditSync(ctx, cfg, actor, outcome, created, "")
			return nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// runCode executes the stored script. It returns either the evidence, a
// failed SyncResult for script-level failures, or an error for rejections
// the caller must handle distinctly.
func (s *Service) runCode(ctx context.Context, cfg *store.IntegrationConfig, creds map[string]string) ([]evidence.Item, *SyncResult, error) {
	if cfg.CustomCode == "" {
		return nil, nil, &ckerrors.ConfigError{Key: "custom_code", Reason: "no sync code configured"}
	}

	headers, err := s.tester.AuthHeaders(ctx, cfg.AuthType, creds)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.runner.Execute(ctx, sandbox.Request{
		TenantID:      cfg.TenantID,
		IntegrationID: cfg.IntegrationID,
		Code:          cfg.CustomCode,
		BaseURL:       cfg.BaseURL,
		AuthHeaders:   headers,
		Secrets:       sensitiveValues(creds),
	})
	if err != nil {
		switch ckerrors.TypeOf(err) {
		case "sandbox_timeout", "sandbox_runtime", "policy_violation":
			return nil, &SyncResult{
				Success:   false,
				Message:   "Sync code failed",
				Errors:    []string{err.Error()},
				ErrorType: ckerrors.TypeOf(err),
			}, nil
		}
		return nil, nil, err
	}
	return res.Evidence, nil, nil
}

func (s *Service) auditSync(ctx context.Context, cfg *store.IntegrationConfig, actor, outcome string, created int, errType string) {
	details := map[string]any{
		"mode":             string(cfg.Mode),
		"evidence_created": created,
	}
	if errType != "" {
		details["error_type"] = errType
	}
	s.audit.Log(ctx, audit.Entry{
		Action:        audit.ActionSyncExecuted,
		TenantID:      cfg.TenantID,
		IntegrationID: cfg.IntegrationID,
		Actor:         actor,
		Outcome:       outcome,
		Details:       details,
	})
}

// load reads a config and resolves its credentials under the read lock.
// The lock is released before any outbound request is made.
func (s *Service) load(ctx context.Context, tenantID, integrationID string) (*store.IntegrationConfig, map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, err := s.store.Get(ctx, tenantID, integrationID)
	if err != nil {
		return nil, nil, err
	}
	creds, missing := s.secrets.ResolveAll(ctx, cfg.AuthConfig, tenantID)
	if len(missing) > 0 {
		sort.Strings(missing)
		s.logger.Warn("some credentials could not be resolved",
			log.TenantIDKey, tenantID,
			log.IntegrationIDKey, integrationID,
			slog.Any("fields", missing))
	}
	return cfg, creds, nil
}

// recordTest stores the test outcome. Failures are logged; the test result
// itself is still returned.
func (s *Service) recordTest(ctx context.Context, tenantID, integrationID string, result *endpoint.TestResult) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defer s.records.lock(tenantID, integrationID)()

	status := &store.TestStatus{
		Success:    result.Success,
		Message:    result.Message,
		StatusCode: result.StatusCode,
		TestedAt:   s.now().UTC(),
	}
	if err := s.store.UpdateTestStatus(ctx, tenantID, integrationID, status); err != nil {
		s.logger.Warn("failed to record test status", log.TenantIDKey, tenantID, log.Error(err))
	}
}

func sensitiveValues(creds map[string]string) []string {
	var out []string
	for k, v := range creds {
		if secrets.IsSensitiveField(k) && v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isProtected(stored string) bool {
	return cryptobox.IsEncrypted(stored) || secrets.IsReference(stored)
}

var responsePathValidator = jq.NewExecutor(0, 0)

func jqValidate(expr string) error {
	return responsePathValidator.Validate(expr)
}
