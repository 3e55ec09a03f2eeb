// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package access

import "testing"

func TestCheckIPRestrictions(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		source  string
		want    bool
	}{
		{"empty allowlist permits all", nil, "203.0.113.9", true},
		{"exact match", []string{"10.0.0.5"}, "10.0.0.5", true},
		{"inside prefix", []string{"192.168.1.0/24"}, "192.168.1.200", true},
		{"outside prefix", []string{"192.168.1.0/24"}, "192.168.2.1", false},
		{"host prefix", []string{"10.0.0.5/32"}, "10.0.0.5", true},
		{"host prefix other address", []string{"10.0.0.5/32"}, "10.0.0.6", false},
		{"malformed entry skipped", []string{"not-a-cidr/99", "10.0.0.0/8"}, "10.1.2.3", true},
		{"malformed source denied", []string{"10.0.0.0/8"}, "not-an-ip", false},
		{"ipv6 prefix", []string{"2001:db8::/32"}, "2001:db8::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := checkIPRestrictions(tt.allowed, tt.source)
			if got != tt.want {
				t.Errorf("checkIPRestrictions(%v, %q) = %v (%s), want %v",
					tt.allowed, tt.source, got, reason, tt.want)
			}
		})
	}
}
