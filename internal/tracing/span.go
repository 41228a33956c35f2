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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

const instrumentationName = "github.com/tombee/complykit"

// Attribute keys shared by every integration span.
const (
	AttrTenantID      = attribute.Key("complykit.tenant_id")
	AttrIntegrationID = attribute.Key("complykit.integration_id")
	AttrErrorType     = attribute.Key("complykit.error_type")
)

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Start begins an internal span carrying the tenant and integration ids.
func Start(ctx context.Context, name, tenantID, integrationID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+2)
	if tenantID != "" {
		all = append(all, AttrTenantID.String(tenantID))
	}
	if integrationID != "" {
		all = append(all, AttrIntegrationID.String(integrationID))
	}
	all = append(all, attrs...)
	return Tracer().Start(ctx, name, trace.WithAttributes(all...))
}

// End records err on span, if any, and ends it. The error type is attached
// so traces can be filtered by failure category.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(AttrErrorType.String(ckerrors.TypeOf(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
