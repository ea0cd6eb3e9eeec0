package common

// Metadata keys read by the server to record request provenance.
const (
	UserAgentHeaderName    = "user-agent"
	ForwardedForHeaderName = "x-forwarded-for"
	RealIPHeaderName       = "x-real-ip"
)

// DefaultClientUserAgent is sent by the CLI client.
const DefaultClientUserAgent = "magiclink-cli/1.0"
