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

package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DestinationConfig configures a single destination.
type DestinationConfig struct {
	// Type is one of file, stdout or webhook.
	Type    string            `yaml:"type" json:"type"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Format  string            `yaml:"format,omitempty" json:"format,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// NewDestination builds a destination from configuration. client is used
// by webhook destinations and should be the SSRF-guarded client.
func NewDestination(cfg DestinationConfig, client *http.Client) (Destination, error) {
	switch cfg.Type {
	case "file":
		return NewFileDestination(cfg.Path, cfg.Format)
	case "stdout":
		return NewWriterDestination(os.Stdout, cfg.Format)
	case "webhook":
		return NewWebhookDestination(cfg.URL, cfg.Headers, client)
	default:
		return nil, fmt.Errorf("unknown audit destination type: %q", cfg.Type)
	}
}

// WriterDestination writes one line per entry to an io.Writer.
type WriterDestination struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	format string
}

// NewWriterDestination writes entries to w in format json (default) or
// text.
func NewWriterDestination(w io.Writer, format string) (*WriterDestination, error) {
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("unknown audit format: %q", format)
	}
	return &WriterDestination{w: w, format: format}, nil
}

// NewFileDestination appends entries to the file at path, creating it with
// owner-only permissions.
func NewFileDestination(path, format string) (*WriterDestination, error) {
	if path == "" {
		return nil, fmt.Errorf("file destination requires path")
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	d, err := NewWriterDestination(file, format)
	if err != nil {
		file.Close()
		return nil, err
	}
	d.closer = file
	return d, nil
}

// Write implements Destination.
func (d *WriterDestination) Write(entry Entry) error {
	var line []byte
	switch d.format {
	case "json":
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		line = append(b, '\n')
	case "text":
		line = fmt.Appendf(nil, "[%s] %s tenant=%s integration=%s actor=%s outcome=%s\n",
			entry.Timestamp.Format(time.RFC3339),
			entry.Action,
			entry.TenantID,
			entry.IntegrationID,
			entry.Actor,
			entry.Outcome,
		)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.w.Write(line)
	return err
}

// Close implements Destination.
func (d *WriterDestination) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// WebhookDestination posts each entry as JSON.
type WebhookDestination struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookDestination creates a webhook destination.
func NewWebhookDestination(url string, headers map[string]string, client *http.Client) (*WebhookDestination, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook destination requires url")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDestination{url: url, headers: headers, client: client}, nil
}

// Write implements Destination.
func (d *WebhookDestination) Write(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned error: %d %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close implements Destination.
func (d *WebhookDestination) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
