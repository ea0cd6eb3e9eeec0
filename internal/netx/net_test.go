package netx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name         string
		forwardedFor string
		realIP       string
		remoteAddr   string
		want         string
	}{
		{name: "forwarded for wins", forwardedFor: "203.0.113.7, 10.0.0.1", realIP: "198.51.100.2", remoteAddr: "10.0.0.1:5000", want: "203.0.113.7"},
		{name: "real ip next", realIP: " 198.51.100.2 ", remoteAddr: "10.0.0.1:5000", want: "198.51.100.2"},
		{name: "peer address", remoteAddr: "192.0.2.10:443", want: "192.0.2.10"},
		{name: "ipv6 peer", remoteAddr: "[2001:db8::1]:8080", want: "2001:db8::1"},
		{name: "garbage forwarded header falls through", forwardedFor: "unknown", remoteAddr: "192.0.2.10:1", want: "192.0.2.10"},
		{name: "bufconn style peer", remoteAddr: "bufconn", want: ""},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientIP(tt.forwardedFor, tt.realIP, tt.remoteAddr))
		})
	}
}

func TestTruncateUserAgent(t *testing.T) {
	assert.Equal(t, "curl/8.0", TruncateUserAgent(" curl/8.0 ", 100))
	assert.Len(t, TruncateUserAgent(strings.Repeat("a", 600), 512), 512)
	assert.Equal(t, "x", TruncateUserAgent("x", 0))
}
