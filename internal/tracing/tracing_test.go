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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	ckerrors "github.com/tombee/complykit/pkg/errors"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	cfg := DefaultConfig()
	cfg.Enabled = true
	p, err := Setup(context.Background(), cfg, nil, sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return rec
}

func TestStartEnd_RecordsAttributesAndErrors(t *testing.T) {
	rec := setupRecorder(t)

	_, span := Start(context.Background(), "integration.execute_sync", "t1", "i1")
	End(span, &ckerrors.RateLimitError{TenantID: "t1", Limit: 10})

	_, ok := Start(context.Background(), "integration.get_config", "t1", "")
	End(ok, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	failed := spans[0]
	assert.Equal(t, "integration.execute_sync", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
	attrs := map[string]string{}
	for _, kv := range failed.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "t1", attrs[string(AttrTenantID)])
	assert.Equal(t, "i1", attrs[string(AttrIntegrationID)])
	assert.Equal(t, "rate_limited", attrs[string(AttrErrorType)])

	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	for _, kv := range spans[1].Attributes() {
		assert.NotEqual(t, AttrIntegrationID, kv.Key)
	}
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	p, err := Setup(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestCreateExporter(t *testing.T) {
	exp, err := CreateExporter(context.Background(), ExporterConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = CreateExporter(context.Background(), ExporterConfig{Type: "console"})
	require.NoError(t, err)
	assert.NotNil(t, exp)

	_, err = CreateExporter(context.Background(), ExporterConfig{Type: "zipkin"})
	assert.Error(t, err)

	_, err = CreateExporter(context.Background(), ExporterConfig{Type: "otlp", CACertPath: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores everything", Config{SampleRate: 5}, false},
		{"ok", Config{Enabled: true, SampleRate: 0.5, Exporters: []ExporterConfig{{Type: "otlp", Endpoint: "collector:4317"}}}, false},
		{"bad rate", Config{Enabled: true, SampleRate: 2}, true},
		{"missing endpoint", Config{Enabled: true, SampleRate: 1, Exporters: []ExporterConfig{{Type: "otlp-http"}}}, true},
		{"unknown type", Config{Enabled: true, SampleRate: 1, Exporters: []ExporterConfig{{Type: "jaeger"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
}
