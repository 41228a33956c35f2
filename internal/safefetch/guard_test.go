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
	"net/netip"
	"testing"
)

func TestCheckAddr(t *testing.T) {
	tests := []struct {
		addr         string
		allowPrivate bool
		want         string
	}{
		{"127.0.0.1", false, ReasonLoopback},
		{"127.8.9.10", false, ReasonLoopback},
		{"::1", false, ReasonLoopback},
		{"::ffff:127.0.0.1", false, ReasonLoopback},
		{"10.0.0.5", false, ReasonPrivate},
		{"172.16.0.1", false, ReasonPrivate},
		{"172.31.255.255", false, ReasonPrivate},
		{"192.168.1.1", false, ReasonPrivate},
		{"100.64.0.1", false, ReasonPrivate},
		{"fc00::1", false, ReasonPrivate},
		{"169.254.1.1", false, ReasonLinkLocal},
		{"fe80::1", false, ReasonLinkLocal},
		{"169.254.169.254", false, ReasonMetadata},
		{"169.254.169.254", true, ReasonMetadata},
		{"fd00:ec2::254", true, ReasonMetadata},
		{"0.0.0.0", true, ReasonUnspecified},
		{"::", false, ReasonUnspecified},
		{"224.0.0.1", false, ReasonMulticast},
		{"127.0.0.1", true, ""},
		{"10.0.0.5", true, ""},
		{"93.184.216.34", false, ""},
		{"2606:4700::1111", false, ""},
		{"172.32.0.1", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := CheckAddr(netip.MustParseAddr(tt.addr), tt.allowPrivate)
			if got != tt.want {
				t.Errorf("CheckAddr(%s, %v) = %q, want %q", tt.addr, tt.allowPrivate, got, tt.want)
			}
		})
	}
}

func TestMatchesHostPattern(t *testing.T) {
	tests := []struct {
		host    string
		pattern string
		want    bool
	}{
		{"api.example.com", "api.example.com", true},
		{"api.example.com", "API.Example.com", true},
		{"api.example.com", "*.example.com", true},
		{"a.b.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"evil-example.com", "*.example.com", false},
		{"10.1.2.3", "10.0.0.0/8", true},
		{"11.1.2.3", "10.0.0.0/8", false},
		{"internal.corp", "10.0.0.0/8", false},
		{"host", "not-a-cidr/99", false},
	}

	for _, tt := range tests {
		t.Run(tt.host+"_"+tt.pattern, func(t *testing.T) {
			if got := matchesHostPattern(tt.host, tt.pattern); got != tt.want {
				t.Errorf("matchesHostPattern(%q, %q) = %v, want %v", tt.host, tt.pattern, got, tt.want)
			}
		})
	}
}
