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
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/complykit/internal/metrics"
	ckerrors "github.com/tombee/complykit/pkg/errors"
)

// Block reasons, also used as metric labels.
const (
	ReasonScheme      = "scheme"
	ReasonHost        = "host"
	ReasonLoopback    = "loopback"
	ReasonPrivate     = "private"
	ReasonLinkLocal   = "link_local"
	ReasonMetadata    = "metadata"
	ReasonUnspecified = "unspecified"
	ReasonMulticast   = "multicast"
	ReasonResolve     = "resolve"
)

var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("169.254.169.254"), // AWS, Azure, GCP
	netip.MustParseAddr("169.254.169.253"), // AWS DNS
	netip.MustParseAddr("fd00:ec2::254"),   // AWS IPv6
}

var metadataHosts = []string{
	"metadata.google.internal",
	"metadata",
}

var (
	sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")
	thisNetwork        = netip.MustParsePrefix("0.0.0.0/8")
)

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// CheckAddr reports why addr is not a permitted destination, or "" if it
// is. Metadata addresses are refused even when private addresses are
// allowed.
func CheckAddr(addr netip.Addr, allowPrivate bool) string {
	addr = addr.Unmap()
	for _, m := range metadataAddrs {
		if addr == m {
			return ReasonMetadata
		}
	}
	switch {
	case addr.IsUnspecified() || thisNetwork.Contains(addr):
		return ReasonUnspecified
	case addr.IsMulticast():
		return ReasonMulticast
	}
	if allowPrivate {
		return ""
	}
	switch {
	case addr.IsLoopback():
		return ReasonLoopback
	case addr.IsLinkLocalUnicast():
		return ReasonLinkLocal
	case addr.IsPrivate() || sharedAddressSpace.Contains(addr):
		return ReasonPrivate
	}
	return ""
}

// checkURL validates the scheme and host of u without resolving it.
func (c *Client) checkURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return c.block(u.Scheme, ReasonScheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return c.block(u.String(), ReasonHost)
	}
	for _, m := range metadataHosts {
		if host == m {
			return c.block(host, ReasonMetadata)
		}
	}
	for _, pattern := range c.opts.BlockedHosts {
		if matchesHostPattern(host, pattern) {
			return c.block(host, ReasonHost)
		}
	}
	if len(c.opts.AllowedHosts) > 0 {
		allowed := false
		for _, pattern := range c.opts.AllowedHosts {
			if matchesHostPattern(host, pattern) {
				allowed = true
				break
			}
		}
		if !allowed {
			return c.block(host, ReasonHost)
		}
	}
	return nil
}

// resolve returns the addresses for host after checking every one of them.
// An IP literal is checked without a lookup.
func (c *Client) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if reason := CheckAddr(addr, c.opts.AllowPrivateIPs); reason != "" {
			return nil, c.block(host, reason)
		}
		return []netip.Addr{addr}, nil
	}

	addrs, err := c.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, ckerrors.Wrapf(err, "resolve %s", host)
	}
	if len(addrs) == 0 {
		return nil, c.block(host, ReasonResolve)
	}
	for _, addr := range addrs {
		if reason := CheckAddr(addr, c.opts.AllowPrivateIPs); reason != "" {
			return nil, c.block(host+" -> "+addr.Unmap().String(), reason)
		}
	}
	return addrs, nil
}

// dialContext resolves and checks at connect time.
func (c *Client) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, ckerrors.Wrap(err, "invalid address")
	}
	addrs, err := c.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	target := net.JoinHostPort(addrs[0].Unmap().String(), port)
	return c.dialer.DialContext(ctx, network, target)
}

func (c *Client) block(host, reason string) error {
	metrics.RecordSSRFBlock(reason)
	c.logger.Warn("outbound request blocked", "host", host, "reason", reason)
	return &ckerrors.SSRFError{Host: host, Reason: reason}
}

// matchesHostPattern supports exact names, wildcards (*.example.com) and
// CIDR ranges for IP literals.
func matchesHostPattern(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if strings.Contains(pattern, "/") {
		prefix, err := netip.ParsePrefix(pattern)
		if err != nil {
			return false
		}
		addr, err := netip.ParseAddr(host)
		return err == nil && prefix.Contains(addr.Unmap())
	}
	if strings.Contains(pattern, "*") {
		matched, err := doublestar.Match(strings.ReplaceAll(pattern, "*", "**"), host)
		return err == nil && matched
	}
	return host == pattern
}
