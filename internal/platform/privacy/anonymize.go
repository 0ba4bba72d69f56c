// Package privacy masks personal data before it leaves the ledger, in logs and audit records.
package privacy

import (
	"net/netip"
	"strings"
)

// AnonymizeIP keeps the /24 of an IPv4 address or the /48 of an IPv6 address.
// Empty input yields "unknown" and unparseable input yields "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// MaskToken keeps the first eight characters of a session token.
// Full tokens never appear in logs.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "…"
}
