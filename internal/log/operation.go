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

package log

import (
	"context"
	"log/slog"
	"time"
)

// Operation describes an orchestrator call for logging purposes.
type Operation struct {
	// Name is the operation name (e.g., "execute_sync", "rotate_key").
	Name string

	// TenantID is the tenant the operation runs for.
	TenantID string

	// IntegrationID is the integration being operated on, if any.
	IntegrationID string

	// Actor is the user or system principal that initiated the call.
	Actor string
}

func (op *Operation) attrs() []any {
	attrs := []any{OperationKey, op.Name}
	if op.TenantID != "" {
		attrs = append(attrs, TenantIDKey, op.TenantID)
	}
	if op.IntegrationID != "" {
		attrs = append(attrs, IntegrationIDKey, op.IntegrationID)
	}
	if op.Actor != "" {
		attrs = append(attrs, "actor", op.Actor)
	}
	return attrs
}

// OperationLogger logs the start and completion of orchestrator operations.
type OperationLogger struct {
	logger *slog.Logger
}

// NewOperationLogger creates a new operation logger.
func NewOperationLogger(logger *slog.Logger) *OperationLogger {
	return &OperationLogger{logger: OrDiscard(logger)}
}

// Run executes fn, logging the operation when it starts and when it
// completes. Failures are logged at error level with the error's text;
// callers must not put secret values in returned errors.
func (l *OperationLogger) Run(ctx context.Context, op *Operation, fn func(ctx context.Context) error) error {
	start := time.Now()
	l.logger.DebugContext(ctx, "operation started", append(op.attrs(), EventKey, "operation_start")...)

	err := fn(ctx)

	attrs := append(op.attrs(),
		EventKey, "operation_complete",
		DurationKey, time.Since(start).Milliseconds(),
		"success", err == nil,
	)
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		l.logger.ErrorContext(ctx, "operation failed", attrs...)
		return err
	}
	l.logger.InfoContext(ctx, "operation completed", attrs...)
	return nil
}
