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

package httpclient

import (
	"log/slog"
	"net/http"

	"github.com/tombee/complykit/internal/log"
)

// Wrap returns a copy of base whose transport logs and, when enabled,
// retries each request. base is not modified.
func Wrap(base *http.Client, cfg Config, logger *slog.Logger) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = http.DefaultClient
	}
	logger = log.WithComponent(log.OrDiscard(logger), "httpclient")

	var rt http.RoundTripper = newLoggingTransport(base.Transport, cfg.UserAgent, logger)
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg, logger)
	}

	wrapped := *base
	wrapped.Transport = rt
	return &wrapped, nil
}
