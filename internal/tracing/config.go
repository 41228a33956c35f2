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

// Package tracing configures OpenTelemetry for the integration core and
// offers small helpers for starting and ending operation spans.
package tracing

import "time"

// Config holds tracing configuration.
type Config struct {
	// Enabled controls whether spans are recorded and exported.
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// SampleRate is the fraction of root traces recorded (0.0 - 1.0).
	SampleRate float64 `yaml:"sample_rate"`

	Exporters []ExporterConfig `yaml:"exporters"`

	// BatchTimeout is how often batched spans are flushed.
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// ExporterConfig defines one export destination.
type ExporterConfig struct {
	// Type is "otlp" (gRPC), "otlp-http", "console" or "none".
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`

	// Insecure disables TLS. Development only.
	Insecure bool `yaml:"insecure,omitempty"`

	// CACertPath adds a custom CA for the collector's certificate.
	CACertPath string `yaml:"ca_cert_path,omitempty"`
}

// DefaultConfig returns tracing disabled with full sampling once enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "complykit",
		ServiceVersion: "dev",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}
