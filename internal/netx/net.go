// Package netx extracts the network origin of a request.
package netx

import (
	"net"
	"strings"
)

// MaxIPLength is the longest textual address stored (IPv6 with embedded IPv4).
const MaxIPLength = 45

// ClientIP returns the client address of a request.
//
// The first entry of X-Forwarded-For wins, then X-Real-IP, then the address
// of the transport peer (with the port stripped). Values that do not parse
// as an IP are skipped. The result is empty when nothing usable is found.
func ClientIP(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := normalize(first); ip != "" {
			return ip
		}
	}

	if ip := normalize(realIP); ip != "" {
		return ip
	}

	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return normalize(host)
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	out := ip.String()
	if len(out) > MaxIPLength {
		return ""
	}
	return out
}

// TruncateUserAgent caps a client descriptor before it is persisted.
func TruncateUserAgent(ua string, limit int) string {
	ua = strings.TrimSpace(ua)
	if limit <= 0 || len(ua) <= limit {
		return ua
	}
	return ua[:limit]
}
