// Package cli is the command-line client of the magic-link service.
//
// Commands:
//   - request --email ADDR   ask the server to send a sign-in link
//   - verify [--token T|T]   redeem a token or full link; without one the
//     token is read from a no-echo terminal prompt (or a stdin line)
//   - me --access-token T    show the signed-in account
//   - refresh --access-token T
//     trade a valid access token for a fresh one
//   - ping                   check reachability
//
// The global --addr flag (or MAGICLINK_ADDR) selects the server;
// MAGICLINK_TOKEN may stand in for --access-token.
package cli
