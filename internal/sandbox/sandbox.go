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

// Package sandbox runs tenant-authored sync scripts in an isolated goja
// realm.
//
// Each run gets a fresh runtime whose globals are cut down to a small
// allowlist, whose code-generating constructors are neutralised and whose
// intrinsics are frozen. The only capabilities exposed are a captured
// console and a fetch bound to the SSRF-guarded client. Static screening by
// package codepolicy runs first on every execution, but isolation does not
// depend on it.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dop251/goja"

	"github.com/tombee/complykit/internal/codepolicy"
	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/featureflags"
	"github.com/tombee/complykit/internal/log"
	"github.com/tombee/complykit/internal/metrics"
	"github.com/tombee/complykit/internal/secrets"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultGrace            = 2 * time.Second
	DefaultMaxCallStackSize = 1024
	DefaultMaxConsoleLines  = 100
	DefaultMaxLineLength    = 1000
	DefaultMaxFetches       = 50
	DefaultMaxEvidenceItems = 500
)

// State is a step of one execution.
type State int

const (
	StateDisabled State = iota
	StateEnabled
	StateRateChecked
	StatePolicyChecked
	StateRunning
	StateCompleted
	StateTimedOut
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateRateChecked:
		return "rate_checked"
	case StatePolicyChecked:
		return "policy_checked"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Config holds execution limits. Zero fields take the defaults.
type Config struct {
	Timeout          time.Duration
	Grace            time.Duration
	MaxCallStackSize int
	MaxConsoleLines  int
	MaxLineLength    int
	MaxFetches       int
	MaxEvidenceItems int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = DefaultMaxCallStackSize
	}
	if c.MaxConsoleLines <= 0 {
		c.MaxConsoleLines = DefaultMaxConsoleLines
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	if c.MaxFetches <= 0 {
		c.MaxFetches = DefaultMaxFetches
	}
	if c.MaxEvidenceItems <= 0 {
		c.MaxEvidenceItems = DefaultMaxEvidenceItems
	}
	return c
}

// Request is one execution of a tenant's stored script.
type Request struct {
	TenantID      string
	IntegrationID string
	Code          string

	// BaseURL resolves relative fetch URLs. AuthHeaders are attached only
	// to requests for the same host and are never visible to the script.
	BaseURL     string
	AuthHeaders map[string]string

	// Secrets are additional plaintext values masked out of console output
	// and error messages.
	Secrets []string
}

// ConsoleLine is a captured console call.
type ConsoleLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Result is the outcome of a completed run.
type Result struct {
	State    State
	Evidence []evidence.Item
	Console  []ConsoleLine
	Duration time.Duration
}

// Fetcher sends HTTP requests on behalf of scripts. *safefetch.Client
// satisfies it.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Limiter admits executions per tenant. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Admit(tenantID string) bool
	RetryAfter(tenantID string) time.Duration
	Limit() int
}

// Runner executes scripts. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	cfg     Config
	fetcher Fetcher
	limiter Limiter
	enabled func() bool
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLimiter sets the per-tenant execution limiter. Without one every
// execution is admitted.
func WithLimiter(l Limiter) Option {
	return func(r *Runner) {
		r.limiter = l
	}
}

// WithEnabled overrides the custom-code feature flag lookup.
func WithEnabled(enabled func() bool) Option {
	return func(r *Runner) {
		r.enabled = enabled
	}
}

// WithLogger sets the host logger that receives relayed console output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner whose scripts reach the network only through
// fetcher.
func NewRunner(cfg Config, fetcher Fetcher, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		enabled: featureflags.Get().IsCustomCodeEnabled,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.WithComponent(log.OrDiscard(r.logger), "sandbox")
	return r
}

// Execute runs req.Code through the full state machine: feature gate, rate
// limit, policy check, then isolated execution. On timeout the partial
// result is discarded.
func (r *Runner) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	logger := log.WithTenant(r.logger, req.TenantID, req.IntegrationID)

	if !r.enabled() {
		metrics.RecordSandboxRun("disabled", 0)
		return nil, &ckerrors.ConfigError{Key: "custom_code", Reason: "custom code execution is disabled"}
	}

	if r.limiter != nil && !r.limiter.Admit(req.TenantID) {
		metrics.RecordRateLimitRejection()
		metrics.RecordSandboxRun("rate_limited", 0)
		return nil, &ckerrors.RateLimitError{
			TenantID:   req.TenantID,
			Limit:      r.limiter.Limit(),
			RetryAfter: r.limiter.RetryAfter(req.TenantID),
		}
	}

	policy := codepolicy.Validate(req.Code, codepolicy.Options{ExecutionEnabled: true})
	if !policy.Valid {
		metrics.RecordSandboxRun("policy_rejected", 0)
		return nil, &ckerrors.PolicyViolationError{Violations: policy.Errors}
	}

	program, err := goja.Compile("sync.js", req.Code, true)
	if err != nil {
		metrics.RecordSandboxRun("error", 0)
		return nil, &ckerrors.SandboxRuntimeError{Message: firstLine(err.Error())}
	}

	redactor := secrets.NewRedactor(req.Secrets...)
	for _, v := range req.AuthHeaders {
		redactor.Add(v)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	vm := goja.New()
	run := &run{
		ctx:      runCtx,
		vm:       vm,
		cfg:      r.cfg,
		req:      req,
		fetcher:  r.fetcher,
		redactor: redactor,
	}

	done := make(chan outcome, 1)
	go func() {
		done <- run.execute(program)
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		vm.Interrupt("execution timeout")
		select {
		case out = <-done:
		case <-time.After(r.cfg.Grace):
			logger.Warn("sandbox run did not stop within grace period")
		}
		out.state = StateTimedOut
	}

	duration := time.Since(start)
	r.relayConsole(logger, run.consoleLines())

	switch out.state {
	case StateCompleted:
		metrics.RecordSandboxRun("completed", duration)
		return &Result{
			State:    StateCompleted,
			Evidence: out.evidence,
			Console:  run.consoleLines(),
			Duration: duration,
		}, nil
	case StateTimedOut:
		metrics.RecordSandboxRun("timeout", duration)
		if err := ctx.Err(); err != nil {
			return nil, ckerrors.Wrap(err, "sandbox run cancelled")
		}
		return nil, &ckerrors.SandboxTimeoutError{Limit: r.cfg.Timeout}
	default:
		metrics.RecordSandboxRun("error", duration)
		return nil, &ckerrors.SandboxRuntimeError{Message: redactor.Redact(out.message)}
	}
}

func (r *Runner) relayConsole(logger *slog.Logger, lines []ConsoleLine) {
	for _, line := range lines {
		level := slog.LevelInfo
		switch line.Level {
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		case "debug":
			level = slog.LevelDebug
		}
		logger.Log(context.Background(), level, "sandbox console", "message", line.Message)
	}
}

// outcome is what the run goroutine reports back.
type outcome struct {
	state    State
	evidence []evidence.Item
	message  string
}

// errPending marks a returned promise that never settled.
var errPending = errors.New("sync promise never settled")
