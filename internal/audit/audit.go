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

// Package audit records who changed what on an integration. Entries are
// buffered and written by a single background loop to one or more
// destinations.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/metrics"
)

// Actions recorded by the integration core.
const (
	ActionConfigSaved    = "integration.config_saved"
	ActionConfigDeleted  = "integration.config_deleted"
	ActionEndpointTested = "integration.endpoint_tested"
	ActionSyncExecuted   = "integration.sync_executed"
	ActionKeyRotated     = "integration.encryption_key_rotated"
)

// Outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Entry is one audit record. Details never carry plaintext credentials;
// callers pass masked values only.
type Entry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Action        string         `json:"action"`
	TenantID      string         `json:"tenant_id,omitempty"`
	IntegrationID string         `json:"integration_id,omitempty"`
	Actor         string         `json:"actor,omitempty"`
	Outcome       string         `json:"outcome"`
	Details       map[string]any `json:"details,omitempty"`
}

// Sink receives audit entries. Log never blocks on I/O.
type Sink interface {
	Log(ctx context.Context, entry Entry)
}

// Destination is where the writer loop sends entries.
type Destination interface {
	Write(entry Entry) error
	Close() error
}

// DefaultBufferSize is the number of entries held before Log starts
// dropping.
const DefaultBufferSize = 1000

// Logger is a buffered Sink fanning out to destinations.
type Logger struct {
	mu           sync.RWMutex
	destinations []Destination
	buffer       chan Entry
	bufferSize   int
	logger       *slog.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Logger.
type Option func(*Logger)

// WithBufferSize sets the buffer capacity.
func WithBufferSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.bufferSize = n
		}
	}
}

// WithLogger sets the operational logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// NewLogger starts a Logger writing to dests. Close must be called to
// flush buffered entries.
func NewLogger(dests []Destination, opts ...Option) *Logger {
	l := &Logger{
		destinations: dests,
		bufferSize:   DefaultBufferSize,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = log.WithComponent(log.OrDiscard(l.logger), "audit")
	l.buffer = make(chan Entry, l.bufferSize)
	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Log stamps and buffers entry. When the buffer is full the entry is
// dropped and counted.
func (l *Logger) Log(_ context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSuccess
	}

	select {
	case l.buffer <- entry:
	default:
		metrics.RecordAuditDropped()
		l.logger.Warn("audit buffer full, dropping entry",
			slog.String("action", entry.Action),
			slog.String("tenant_id", entry.TenantID),
			slog.String("integration_id", entry.IntegrationID),
		)
	}
}

// Close drains the buffer and closes every destination.
func (l *Logger) Close() error {
	l.cancel()
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, dest := range l.destinations {
		if err := dest.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close audit destination: %w", err)
		}
	}
	return firstErr
}

// BufferUtilization returns the fraction of the buffer in use.
func (l *Logger) BufferUtilization() float64 {
	return float64(len(l.buffer)) / float64(l.bufferSize)
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case entry := <-l.buffer:
			l.write(entry)
		case <-l.ctx.Done():
			for {
				select {
				case entry := <-l.buffer:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(entry Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, dest := range l.destinations {
		if err := dest.Write(entry); err != nil {
			l.logger.Error("audit write failed", slog.String("action", entry.Action), log.Error(err))
		}
	}
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Log implements Sink.
func (r *Recorder) Log(_ context.Context, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Nop discards entries.
type Nop struct{}

// Log implements Sink.
func (Nop) Log(context.Context, Entry) {}
