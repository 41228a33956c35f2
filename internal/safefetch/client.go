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

package safefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/complykit/internal/log"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 10 * 1024 * 1024
	DefaultMaxRedirects     = 5
)

// ErrResponseTooLarge is returned while reading a body past the size cap.
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// Options configures a Client.
type Options struct {
	// AllowPrivateIPs permits loopback, RFC1918 and link-local targets.
	// Metadata addresses stay blocked. Intended for tests and local setups.
	AllowPrivateIPs bool

	// AllowedHosts restricts destinations to matching hosts when non-empty.
	AllowedHosts []string

	// BlockedHosts are refused before resolution.
	BlockedHosts []string

	MaxResponseBytes int64

	// MaxRedirects bounds redirect hops. Negative disables redirects.
	MaxRedirects int

	Timeout time.Duration

	// RequestsPerSecond paces outbound requests per client. Zero disables
	// pacing.
	RequestsPerSecond float64
	Burst             int

	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver

	Logger *slog.Logger
}

// Client issues SSRF-guarded HTTP requests. It is safe for concurrent use.
type Client struct {
	opts     Options
	http     *http.Client
	dialer   *net.Dialer
	resolver Resolver
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a Client, filling zero options with defaults.
func New(opts Options) *Client {
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := &Client{
		opts:     opts,
		dialer:   &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		resolver: opts.Resolver,
		logger:   log.WithComponent(log.OrDiscard(opts.Logger), "safefetch"),
	}
	if c.resolver == nil {
		c.resolver = net.DefaultResolver
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           c.dialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}
	c.http = &http.Client{
		Transport:     transport,
		Timeout:       opts.Timeout,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// Do validates req and sends it. The request is cloned onto ctx and any
// userinfo in its URL is dropped. Blocked destinations fail with
// *errors.SSRFError before any connection is made.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.Clone(ctx)
	req.URL.User = nil
	req.Host = ""

	if err := c.checkURL(req.URL); err != nil {
		return nil, err
	}
	if _, err := c.resolve(ctx, req.URL.Hostname()); err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("egress pacing: %w", err)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > c.opts.MaxResponseBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, resp.ContentLength)
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: c.opts.MaxResponseBytes}
	return resp, nil
}

// HTTPClient returns a standard client routed through the same guards, for
// libraries that accept an *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport:     roundTripper{c},
		Timeout:       c.opts.Timeout,
		CheckRedirect: c.checkRedirect,
	}
}

type roundTripper struct{ c *Client }

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := rt.c.checkURL(req.URL); err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.URL.User = nil
	return rt.c.http.Transport.RoundTrip(req)
}

// redirectHeaders are the only request headers kept when a redirect leaves
// the original host. Custom credential headers such as X-API-Key are not
// stripped by net/http, so everything outside this set is dropped.
var redirectHeaders = map[string]bool{
	"Accept":          true,
	"Accept-Encoding": true,
	"Accept-Language": true,
	"Content-Type":    true,
	"User-Agent":      true,
	"Traceparent":     true,
	"Tracestate":      true,
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if c.opts.MaxRedirects < 0 || len(via) >= c.opts.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	req.URL.User = nil
	if len(via) > 0 && !strings.EqualFold(req.URL.Host, via[0].URL.Host) {
		for name := range req.Header {
			if !redirectHeaders[http.CanonicalHeaderKey(name)] {
				req.Header.Del(name)
			}
		}
	}
	if err := c.checkURL(req.URL); err != nil {
		return err
	}
	_, err := c.resolve(req.Context(), req.URL.Hostname())
	return err
}

// limitedBody fails reads once more than remaining bytes have been read.
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, ErrResponseTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n + int(b.remaining), ErrResponseTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
