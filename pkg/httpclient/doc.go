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

// Package httpclient layers retries and request logging over an existing
// http.Client.
//
// The wrapped client keeps its base transport, timeout and redirect
// policy, so wrapping an SSRF-guarded client keeps every guard in place:
//
//	client, err := httpclient.Wrap(guarded.HTTPClient(), httpclient.DefaultConfig(), logger)
//
// # Retry Behavior
//
//   - Retries HTTP 5xx, 408 and 429 (honoring Retry-After when shorter
//     than the computed backoff)
//   - Retries transient network errors
//   - Never retries requests blocked by SSRF protection
//   - Only retries GET, HEAD and OPTIONS unless AllowNonIdempotentRetry is set
//
// Request bodies are replayed through Request.GetBody; requests without it
// are sent once.
//
// # Logging
//
// Each attempt is logged with method, sanitized URL, status and duration.
// Query parameters whose names look like credentials are redacted. The
// active trace context is injected into outgoing headers.
package httpclient
