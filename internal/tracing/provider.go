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
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tombee/complykit/internal/log"
)

// Provider owns the SDK tracer provider installed by Setup.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs a global tracer provider built from cfg. When tracing is
// disabled it installs nothing and returns a Provider whose methods are
// no-ops. Exporters that fail to build are logged and skipped.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	logger = log.WithComponent(log.OrDiscard(logger), "tracing")

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	all := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	}
	for i, ec := range cfg.Exporters {
		exp, err := CreateExporter(ctx, ec)
		if err != nil {
			logger.Warn("failed to create exporter, skipping",
				slog.Int("index", i),
				slog.String("type", ec.Type),
				log.Error(err))
			continue
		}
		if exp == nil {
			continue
		}
		var bopts []sdktrace.BatchSpanProcessorOption
		if cfg.BatchTimeout > 0 {
			bopts = append(bopts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
		}
		all = append(all, sdktrace.WithBatcher(exp, bopts...))
	}
	all = append(all, opts...)

	tp := sdktrace.NewTracerProvider(all...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and releases exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// newSampler samples rate of root traces and follows the parent decision
// for everything else.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

var errNoEndpoint = errors.New("exporter endpoint is required")

// Validate checks the exporter list.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	for i, ec := range c.Exporters {
		switch ec.Type {
		case "otlp", "otlp-http", "otlp_http":
			if ec.Endpoint == "" {
				return fmt.Errorf("tracing exporters[%d]: %w", i, errNoEndpoint)
			}
		case "console", "none", "":
		default:
			return fmt.Errorf("tracing exporters[%d]: unknown type %q", i, ec.Type)
		}
	}
	return nil
}
