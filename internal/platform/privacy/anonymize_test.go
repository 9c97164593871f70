package privacy

import (
	"testing"
	"time"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// IPv4 cases
		{
			name:     "ipv4 standard address",
			input:    "192.168.1.47",
			expected: "192.168.1.0",
		},
		{
			name:     "ipv4 with last octet zero",
			input:    "10.0.0.0",
			expected: "10.0.0.0",
		},
		{
			name:     "ipv4 with high last octet",
			input:    "172.16.50.255",
			expected: "172.16.50.0",
		},
		{
			name:     "ipv4 localhost",
			input:    "127.0.0.1",
			expected: "127.0.0.0",
		},

		// IPv6 cases
		{
			name:     "ipv6 full address",
			input:    "2001:db8:85a3:0000:0000:8a2e:0370:7334",
			expected: "2001:0db8:85a3::",
		},
		{
			name:     "ipv6 compressed address",
			input:    "2001:db8:85a3::8a2e:370:7334",
			expected: "2001:0db8:85a3::",
		},
		{
			name:     "ipv6 loopback",
			input:    "::1",
			expected: "0000:0000:0000::",
		},
		{
			name:     "ipv6 link-local",
			input:    "fe80::1",
			expected: "fe80:0000:0000::",
		},

		{
			name:     "ipv4-mapped ipv6",
			input:    "::ffff:192.168.1.47",
			expected: "192.168.1.0",
		},
		{
			name:     "ipv6 with zone",
			input:    "fe80::1%eth0",
			expected: "fe80:0000:0000::",
		},

		// Edge cases
		{
			name:     "empty string",
			input:    "",
			expected: "unknown",
		},
		{
			name:     "unknown value",
			input:    "unknown",
			expected: "unknown",
		},
		{
			name:     "invalid ip",
			input:    "not-an-ip",
			expected: "invalid",
		},
		{
			name:     "partial ip",
			input:    "192.168.1",
			expected: "invalid",
		},
		{
			name:     "ip with port (invalid)",
			input:    "192.168.1.1:8080",
			expected: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := AnonymizeIP(tt.input)
			if result != tt.expected {
				t.Errorf("AnonymizeIP(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestAnonymizeIP_SameNetworkProducesSameOutput(t *testing.T) {
	// All IPs in the same /24 should produce the same anonymized output
	ipsInSameNetwork := []string{
		"192.168.1.1",
		"192.168.1.100",
		"192.168.1.255",
		"192.168.1.47",
	}

	expected := "192.168.1.0"
	for _, ip := range ipsInSameNetwork {
		result := AnonymizeIP(ip)
		if result != expected {
			t.Errorf("AnonymizeIP(%q) = %q, want %q (same /24 network)", ip, result, expected)
		}
	}
}

func TestAnonymizeIP_DifferentNetworksProduceDifferentOutput(t *testing.T) {
	// IPs in different /24 networks should produce different anonymized outputs
	result1 := AnonymizeIP("192.168.1.47")
	result2 := AnonymizeIP("192.168.2.47")

	if result1 == result2 {
		t.Errorf("IPs in different networks should produce different outputs: %q vs %q", result1, result2)
	}
}

func TestFloorToHour(t *testing.T) {
	at := time.Date(2026, 5, 4, 13, 47, 12, 345_000_000, time.UTC)
	want := time.Date(2026, 5, 4, 13, 0, 0, 0, time.UTC)

	if got := FloorToHour(at.UnixMilli()); got != want.UnixMilli() {
		t.Errorf("FloorToHour(13:47:12) = %d, want %d", got, want.UnixMilli())
	}
	if got := FloorToHour(want.UnixMilli()); got != want.UnixMilli() {
		t.Errorf("FloorToHour on an hour boundary changed the value: %d", got)
	}
	if got := FloorToHour(0); got != 0 {
		t.Errorf("FloorToHour(0) = %d, want 0", got)
	}
}

func TestAnonymizePage(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unknown"},
		{"/", "home"},
		{"https://ilm-studenthalls.com/", "home"},
		{"https://ilm-studenthalls.com", "home"},
		{"/booking.html?email=someone@example.com", "booking"},
		{"/contact.html#form", "contact"},
		{"/admin.html", "admin_login"},
		{"/rooms/42", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := AnonymizePage(tt.input); got != tt.expected {
				t.Errorf("AnonymizePage(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
