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

// Package ratelimit throttles sandbox executions per tenant.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 10
	DefaultWindow      = time.Minute
)

// bucket tracks one tenant's executions in the current fixed window.
type bucket struct {
	count int
	start time.Time
}

// Limiter is an in-memory fixed-window limiter keyed by tenant. Windows are
// created lazily, rebuilt once they have expired, and swept from memory at
// most once per window length. State is never persisted.
type Limiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	windows   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter admitting maxRequests per window. Non-positive
// values select the defaults.
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		max:     maxRequests,
		window:  window,
		windows: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Admit reports whether the tenant may execute now and, if so, counts the
// execution. The check and increment happen under one lock.
func (l *Limiter) Admit(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep()
	w := l.current(tenantID)
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many executions the tenant has left in its window.
func (l *Limiter) Remaining(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[tenantID]
	if !ok || l.expired(w) {
		return l.max
	}
	return l.max - w.count
}

// RetryAfter returns the time until the tenant's window resets, or zero if
// the tenant is not currently throttled.
func (l *Limiter) RetryAfter(tenantID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[tenantID]
	if !ok || l.expired(w) || w.count < l.max {
		return 0
	}
	return w.start.Add(l.window).Sub(l.now())
}

// Reset clears the tenant's window.
func (l *Limiter) Reset(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, tenantID)
}

// Limit returns the number of executions allowed per window.
func (l *Limiter) Limit() int {
	return l.max
}

// current returns the tenant's live window, starting a new one if needed.
// Must be called while holding l.mu.
func (l *Limiter) current(tenantID string) *bucket {
	w, ok := l.windows[tenantID]
	if !ok || l.expired(w) {
		w = &bucket{start: l.now()}
		l.windows[tenantID] = w
	}
	return w
}

// sweep evicts expired windows once a full window has passed since the last
// sweep. Must be called while holding l.mu.
func (l *Limiter) sweep() {
	now := l.now()
	if now.Sub(l.lastSweep) <= l.window {
		return
	}
	l.lastSweep = now
	for tenantID, w := range l.windows {
		if l.expired(w) {
			delete(l.windows, tenantID)
		}
	}
}

func (l *Limiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) expired(w *bucket) bool {
	return l.now().Sub(w.start) > l.window
}
