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

package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/tombee/complykit/internal/evidence"
	"github.com/tombee/complykit/internal/secrets"
)

var errPreludeShape = errors.New("sandbox prelude returned a non-function")

// run is the state of a single execution. Only the run goroutine touches
// vm; console is shared with the caller and guarded by mu.
type run struct {
	ctx      context.Context
	vm       *goja.Runtime
	cfg      Config
	req      Request
	fetcher  Fetcher
	redactor *secrets.Redactor

	fetches int

	mu      sync.Mutex
	console []ConsoleLine
	dropped int
}

func (r *run) execute(program *goja.Program) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			if _, ok := p.(*goja.InterruptedError); ok {
				out = outcome{state: StateTimedOut}
				return
			}
			out = outcome{state: StateErrored, message: "internal sandbox error"}
		}
	}()

	r.vm.SetMaxCallStackSize(r.cfg.MaxCallStackSize)

	freeze, err := harden(r.vm)
	if err != nil {
		return r.fail(err)
	}
	ctxObj, err := r.install(freeze)
	if err != nil {
		return r.fail(err)
	}

	if _, err := r.vm.RunProgram(program); err != nil {
		return r.fail(err)
	}

	entry, ok := r.entryPoint()
	if !ok {
		return outcome{state: StateErrored, message: "no sync function exported"}
	}

	ret, err := entry(goja.Undefined(), ctxObj)
	if err != nil {
		return r.fail(err)
	}

	if promise, ok := ret.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			ret = promise.Result()
		case goja.PromiseStateRejected:
			return outcome{state: StateErrored, message: valueMessage(promise.Result())}
		default:
			return r.fail(errPending)
		}
	}

	return outcome{state: StateCompleted, evidence: r.evidence(ret)}
}

// fail classifies an error raised while running user code.
func (r *run) fail(err error) outcome {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || errors.Is(err, errPending) {
		return outcome{state: StateTimedOut}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return outcome{state: StateErrored, message: valueMessage(ex.Value())}
	}
	return outcome{state: StateErrored, message: firstLine(err.Error())}
}

// entryPoint finds sync on module.exports, exports, or the global scope,
// in that order.
func (r *run) entryPoint() (goja.Callable, bool) {
	var candidates []goja.Value
	if module := r.vm.Get("module"); isObject(module) {
		if exp := module.ToObject(r.vm).Get("exports"); isObject(exp) {
			candidates = append(candidates, exp.ToObject(r.vm).Get("sync"))
		}
	}
	if exp := r.vm.Get("exports"); isObject(exp) {
		candidates = append(candidates, exp.ToObject(r.vm).Get("sync"))
	}
	if global, err := r.vm.RunString("typeof sync === 'function' ? sync : undefined"); err == nil {
		candidates = append(candidates, global)
	}

	for _, c := range candidates {
		if c == nil {
			continue
		}
		if fn, ok := goja.AssertFunction(c); ok {
			return fn, true
		}
	}
	return nil, false
}

// evidence extracts ret.evidence. Anything that is not an array of objects
// yields no items.
func (r *run) evidence(ret goja.Value) []evidence.Item {
	if !isObject(ret) {
		return nil
	}
	ev := ret.ToObject(r.vm).Get("evidence")
	if ev == nil {
		return nil
	}
	raw, ok := ev.Export().([]any)
	if !ok {
		return nil
	}

	items := make([]evidence.Item, 0, len(raw))
	for _, entry := range raw {
		if len(items) >= r.cfg.MaxEvidenceItems {
			break
		}
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := evidence.Item{
			Title:       stringField(m, "title"),
			Description: stringField(m, "description"),
			Type:        stringField(m, "type"),
			Data:        secrets.SafeCopy(m["data"]),
		}
		if item.Title == "" {
			item.Title = "Custom sync evidence"
		}
		if item.Type == "" {
			item.Type = evidence.TypeAutomated
		}
		items = append(items, item)
	}
	return items
}

func (r *run) consoleLines() []ConsoleLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConsoleLine, len(r.console), len(r.console)+1)
	copy(out, r.console)
	if r.dropped > 0 {
		out = append(out, ConsoleLine{Level: "warn", Message: "console output truncated"})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func isObject(v goja.Value) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	_, ok := v.(*goja.Object)
	return ok
}

// valueMessage renders a thrown value without host stack traces.
func valueMessage(v goja.Value) string {
	if v == nil {
		return "unknown error"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return firstLine(v.String())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
