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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dop251/goja"

	"github.com/tombee/complykit/internal/secrets"
)

// install exposes the host bindings and returns the frozen context object
// passed to sync.
func (r *run) install(freeze goja.Callable) (goja.Value, error) {
	vm := r.vm

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.consoleFunc(level)); err != nil {
			return nil, err
		}
	}
	if _, err := freeze(goja.Undefined(), console); err != nil {
		return nil, err
	}

	fetch := vm.ToValue(r.fetch)
	if _, err := freeze(goja.Undefined(), fetch); err != nil {
		return nil, err
	}

	exports := vm.NewObject()
	module := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}

	ctxObj := vm.NewObject()
	for k, v := range map[string]string{
		"tenantId":      r.req.TenantID,
		"integrationId": r.req.IntegrationID,
		"baseUrl":       r.req.BaseURL,
	} {
		if err := ctxObj.Set(k, v); err != nil {
			return nil, err
		}
	}
	frozen, err := freeze(goja.Undefined(), ctxObj)
	if err != nil {
		return nil, err
	}

	for name, value := range map[string]any{
		"console": console,
		"fetch":   fetch,
		"module":  module,
		"exports": exports,
	} {
		if err := vm.Set(name, value); err != nil {
			return nil, err
		}
	}
	return frozen, nil
}

func (r *run) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, formatArg(arg))
		}
		msg := r.redactor.Redact(strings.Join(parts, " "))
		if runes := []rune(msg); len(runes) > r.cfg.MaxLineLength {
			msg = string(runes[:r.cfg.MaxLineLength]) + "…"
		}

		r.mu.Lock()
		if len(r.console) < r.cfg.MaxConsoleLines {
			r.console = append(r.console, ConsoleLine{Level: level, Message: msg})
		} else {
			r.dropped++
		}
		r.mu.Unlock()
		return goja.Undefined()
	}
}

func formatArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.Export().(string); ok {
		return v.String()
	}
	if _, ok := v.(*goja.Object); ok {
		if b, err := json.Marshal(v.Export()); err == nil {
			return string(b)
		}
	}
	return v.String()
}

// fetch implements fetch(url, init). The request runs synchronously through
// the guarded client and the returned promise is already settled.
func (r *run) fetch(call goja.FunctionCall) goja.Value {
	promise, resolve, reject := r.vm.NewPromise()

	resp, err := r.doFetch(call)
	if err != nil {
		reject(r.vm.NewGoError(fmt.Errorf("fetch failed: %s", r.redactor.Redact(err.Error()))))
	} else {
		resolve(resp)
	}
	return r.vm.ToValue(promise)
}

func (r *run) doFetch(call goja.FunctionCall) (goja.Value, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("network access is not available")
	}
	r.fetches++
	if r.fetches > r.cfg.MaxFetches {
		return nil, fmt.Errorf("more than %d requests in one run", r.cfg.MaxFetches)
	}

	target, err := r.resolveURL(call.Argument(0))
	if err != nil {
		return nil, err
	}

	method := http.MethodGet
	var body io.Reader
	headers := http.Header{}
	if init := call.Argument(1); isObject(init) {
		obj := init.ToObject(r.vm)
		if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) {
			method = strings.ToUpper(m.String())
		}
		if h := obj.Get("headers"); isObject(h) {
			hobj := h.ToObject(r.vm)
			for _, k := range hobj.Keys() {
				headers.Set(k, hobj.Get(k).String())
			}
		}
		if b := obj.Get("body"); b != nil && !goja.IsUndefined(b) && !goja.IsNull(b) {
			if s, ok := b.Export().(string); ok {
				body = strings.NewReader(s)
			} else {
				encoded, err := json.Marshal(b.Export())
				if err != nil {
					return nil, fmt.Errorf("encode body: %w", err)
				}
				body = bytes.NewReader(encoded)
				if headers.Get("Content-Type") == "" {
					headers.Set("Content-Type", "application/json")
				}
			}
		}
	}

	req, err := http.NewRequestWithContext(r.ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	if r.sameHostAsBase(target) {
		for k, v := range r.req.AuthHeaders {
			req.Header.Set(k, v)
		}
	}

	resp, err := r.fetcher.Do(r.ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return r.response(resp, target, data), nil
}

func (r *run) resolveURL(arg goja.Value) (*url.URL, error) {
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil, fmt.Errorf("url is required")
	}
	ref, err := url.Parse(arg.String())
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(r.req.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("relative url %q without a base url", ref.String())
	}
	return base.ResolveReference(ref), nil
}

func (r *run) sameHostAsBase(target *url.URL) bool {
	base, err := url.Parse(r.req.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, target.Host) && strings.EqualFold(base.Scheme, target.Scheme)
}

// response builds the script-visible response object.
func (r *run) response(resp *http.Response, target *url.URL, data []byte) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	_ = obj.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
	_ = obj.Set("status", resp.StatusCode)
	_ = obj.Set("statusText", http.StatusText(resp.StatusCode))
	_ = obj.Set("url", target.String())

	headers := vm.NewObject()
	for k, v := range resp.Header {
		_ = headers.Set(strings.ToLower(k), strings.Join(v, ", "))
	}
	_ = obj.Set("headers", headers)

	text := string(data)
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		p, resolve, _ := vm.NewPromise()
		resolve(text)
		return vm.ToValue(p)
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		p, resolve, reject := vm.NewPromise()
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			reject(vm.NewGoError(fmt.Errorf("invalid JSON response: %w", err)))
		} else {
			resolve(toJS(vm, parsed))
		}
		return vm.ToValue(p)
	})
	return obj
}

// toJS converts decoded JSON into native script values. Prototype slot
// names are dropped.
func toJS(vm *goja.Runtime, v any) goja.Value {
	switch val := v.(type) {
	case map[string]any:
		obj := vm.NewObject()
		for k, child := range val {
			if secrets.IsForbiddenKey(k) {
				continue
			}
			_ = obj.Set(k, toJS(vm, child))
		}
		return obj
	case []any:
		items := make([]any, len(val))
		for i, child := range val {
			items[i] = toJS(vm, child)
		}
		return vm.NewArray(items...)
	default:
		return vm.ToValue(val)
	}
}
