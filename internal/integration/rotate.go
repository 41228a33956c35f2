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

	"github.com/tombee/complykit/internal/audit"
	"github.com/tombee/complykit/internal/cryptobox"
	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/metrics"
	"github.com/tombee/complykit/internal/store"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// RotateEncryptionKey re-encrypts every inline-encrypted credential under
// newKey and then switches the secret store to it.
//
// Each record is rewritten only if all of its fields re-encrypt; a record
// with any undecryptable field is left untouched and its integration id is
// reported in Errors. Rotation holds the write lock for its whole run and
// ignores caller cancellation once started. External references are not
// touched.
func (s *Service) RotateEncryptionKey(ctx context.Context, newKey string) (*RotationResult, error) {
	var result *RotationResult
	err := s.operation(ctx, &log.Operation{Name: "rotate_key"},
		func(ctx context.Context) error {
			next, err := s.secrets.Box().WithKey(newKey)
			if err != nil {
				return err
			}

			ctx = context.WithoutCancel(ctx)

			s.mu.Lock()
			defer s.mu.Unlock()

			records, err := s.store.List(ctx)
			if err != nil {
				return ckerrors.Wrap(err, "list integration configs")
			}

			current := s.secrets.Box()
			result = &RotationResult{Errors: []string{}}
			for _, rec := range records {
				rotated, touched, err := reencryptRecord(rec, current, next)
				if err != nil {
					metrics.RecordRotation("failed")
					s.logger.Error("credential rotation failed for integration",
						log.TenantIDKey, rec.TenantID,
						log.IntegrationIDKey, rec.IntegrationID,
						log.Error(err))
					result.Errors = append(result.Errors, rec.IntegrationID)
					continue
				}
				if !touched {
					continue
				}
				if err := s.store.Put(ctx, rotated); err != nil {
					metrics.RecordRotation("failed")
					s.logger.Error("failed to persist rotated credentials",
						log.TenantIDKey, rec.TenantID,
						log.IntegrationIDKey, rec.IntegrationID,
						log.Error(err))
					result.Errors = append(result.Errors, rec.IntegrationID)
					continue
				}
				metrics.RecordRotation("rotated")
				result.CredentialsRotated++
			}

			s.secrets.SetBox(next)
			result.Success = len(result.Errors) == 0

			outcome := audit.OutcomeSuccess
			if !result.Success {
				outcome = audit.OutcomeFailure
			}
			s.audit.Log(ctx, audit.Entry{
				Action:  audit.ActionKeyRotated,
				Outcome: outcome,
				Details: map[string]any{
					"records":             len(records),
					"credentials_rotated": result.CredentialsRotated,
					"failed":              len(result.Errors),
				},
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reencryptRecord returns a copy of rec with every encrypted auth field
// moved from one box to the other. touched is false when rec holds no
// encrypted fields.
func reencryptRecord(rec *store.IntegrationConfig, from, to *cryptobox.Box) (*store.IntegrationConfig, bool, error) {
	out := rec.Clone()
	touched := false
	for field, stored := range rec.AuthConfig {
		if !cryptobox.IsEncrypted(stored) {
			continue
		}
		text, err := from.Reencrypt(stored, to)
		if err != nil {
			return nil, false, ckerrors.Wrapf(err, "field %s", field)
		}
		out.AuthConfig[field] = text
		touched = true
	}
	return out, touched, nil
}
