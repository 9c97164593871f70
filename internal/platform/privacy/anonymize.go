// Package privacy provides utilities for handling personally identifiable information (PII)
// in a GDPR-compliant manner.
package privacy

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

// AnonymizeIP truncates an IP address to remove the host-identifying portion.
//
// IPv4-mapped IPv6 addresses are treated as IPv4 and zones are dropped.
// For IPv4 addresses, the last octet is zeroed (e.g., "192.168.1.47" -> "192.168.1.0").
// For IPv6 addresses, only the /48 prefix is kept (e.g., "2001:db8:85a3::8a2e:370:7334" -> "2001:0db8:85a3::").
//
// Returns "invalid" for unparseable IP addresses, and "unknown" for empty strings.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	if addr.Is4() {
		return netip.PrefixFrom(addr, 24).Masked().Addr().String()
	}

	b := netip.PrefixFrom(addr, 48).Masked().Addr().As16()
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::", b[0], b[1], b[2], b[3], b[4], b[5])
}

const hourMillis = int64(time.Hour / time.Millisecond)

// FloorToHour rounds an epoch-millisecond timestamp down to the start of its hour.
// Zero stays zero so "unset" survives anonymization.
func FloorToHour(ms int64) int64 {
	if ms <= 0 {
		return ms
	}
	return ms - ms%hourMillis
}

var schemeHost = regexp.MustCompile(`^https?://[^/]+`)

// pageCategories maps known site paths to coarse categories.
var pageCategories = map[string]string{
	"/":                     "home",
	"/index.html":           "home",
	"/booking.html":         "booking",
	"/contact.html":         "contact",
	"/policies.html":        "policies",
	"/admin-dashboard.html": "admin",
	"/admin.html":           "admin_login",
}

// AnonymizePage reduces a URL or path to a page category so query strings and
// unknown paths never reach the analytics log.
func AnonymizePage(url string) string {
	if url == "" {
		return "unknown"
	}
	path := schemeHost.ReplaceAllString(url, "")
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	if category, ok := pageCategories[path]; ok {
		return category
	}
	return "other"
}
