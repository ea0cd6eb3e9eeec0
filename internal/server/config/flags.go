package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-m string     metrics bind address
//	-d string     database DSN
//	-s string     JWT HMAC secret key
//	-t int        access token validity, minutes
//	-l duration   magic link lifetime
//	-w duration   grace window after first use
//	-r duration   retention of used records
//	-i duration   reaper interval
//	-o duration   store operation timeout
//	-x string     hasher ("bcrypt" or "sha256")
//	-u string     link base URL
//	-e string     allowed email domains, comma-separated
//	-q int        link requests per minute per IP and per address (0 disables)
//
// Only recognized flags are kept (flagx.FilterArgs), so the JSON config
// flags and anything else on the command line are ignored here.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-m", "-d", "-s", "-t", "-l", "-w", "-r", "-i", "-o", "-x", "-u", "-e", "-q"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port to serve metrics")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.DurationVar(&config.MagicLinkLifetime, "l", config.MagicLinkLifetime, "magic link lifetime")
	fs.DurationVar(&config.GraceWindow, "w", config.GraceWindow, "grace window after first use")
	fs.DurationVar(&config.UsedRetention, "r", config.UsedRetention, "retention of used magic links")
	fs.DurationVar(&config.ReaperInterval, "i", config.ReaperInterval, "reaper interval")
	fs.DurationVar(&config.StoreTimeout, "o", config.StoreTimeout, "store operation timeout")
	fs.StringVar(&config.Hasher, "x", config.Hasher, "digest hasher (bcrypt|sha256)")
	fs.StringVar(&config.LinkBaseURL, "u", config.LinkBaseURL, "magic link base URL")
	fs.IntVar(&config.RequestRateLimit, "q", config.RequestRateLimit, "link requests per minute per IP and per address, 0 disables")

	domains := fs.String("e", strings.Join(config.AllowedEmailDomains, ","), "allowed email domains, comma-separated")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.AllowedEmailDomains = splitDomains(*domains)
}

// splitDomains lowercases a comma-separated domain list.
func splitDomains(s string) []string {
	out := flagx.SplitList(s)
	for i, d := range out {
		out[i] = strings.ToLower(d)
	}
	return out
}
