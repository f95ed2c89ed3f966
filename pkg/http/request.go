package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers may be believed,
// as CIDR ranges.
type IPConfig struct {
	TrustedProxies []string
}

// ExtractClientIP resolves the address that every per-IP control, from the
// rate limiter down to the audit rows, keys on. X-Forwarded-For and X-Real-IP are
// honored only when the direct peer is a trusted proxy; any client can put
// anything in those headers, and believing them would let an attacker
// launder lockouts onto arbitrary addresses. Everything else falls back to
// the socket's RemoteAddr.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := peerAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		// Leftmost valid entry is the originating client; the rest are
		// intermediate hops appended by each proxy.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if net.ParseIP(ip) != nil {
					return ip
				}
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	return remoteIP
}

// peerAddr returns the direct peer's IP, stripping the port when present.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			// A malformed range trusts nothing rather than everything.
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}
	return false
}
