package utils

import (
	"net"
	"net/http"
	"strings"
)

// IsAllowedIP reports whether ip falls inside one of the CIDR blocks.
// Malformed blocks are ignored; an empty list allows nobody.
func IsAllowedIP(ip string, allowedCIDRs []string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	for _, cidr := range allowedCIDRs {
		if _, block, err := net.ParseCIDR(strings.TrimSpace(cidr)); err == nil && block.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller address, preferring the first X-Forwarded-For hop
// when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
