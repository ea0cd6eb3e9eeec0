package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/api"
	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/cryptox"
	ucli "github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	DefaultServerAddr = "127.0.0.1:50051"
	DefaultTimeout    = 10 * time.Second

	tokenPrompt = "Magic-link token"
)

// LinkClient is the subset of the service client used by the commands.
type LinkClient interface {
	RequestMagicLink(ctx context.Context, in *api.RequestMagicLinkRequest, opts ...grpc.CallOption) (*api.RequestMagicLinkResponse, error)
	VerifyMagicLink(ctx context.Context, in *api.VerifyMagicLinkRequest, opts ...grpc.CallOption) (*api.VerifyMagicLinkResponse, error)
	Ping(ctx context.Context, in *api.PingRequest, opts ...grpc.CallOption) (*api.PingResponse, error)
	Me(ctx context.Context, in *api.MeRequest, opts ...grpc.CallOption) (*api.MeResponse, error)
	RefreshToken(ctx context.Context, in *api.RefreshTokenRequest, opts ...grpc.CallOption) (*api.RefreshTokenResponse, error)
}

// Dialer opens a client for addr. The closer releases the connection.
type Dialer func(addr string) (LinkClient, io.Closer, error)

// DialGRPC connects to the server over plaintext gRPC.
func DialGRPC(addr string) (LinkClient, io.Closer, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(common.DefaultClientUserAgent),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return api.NewMagicLinkServiceClient(conn), conn, nil
}

type App struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	dial   Dialer
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
		dial:   DialGRPC,
	}
}

// Command builds the command tree.
func (a *App) Command() *ucli.App {
	return &ucli.App{
		Name:            "magiclink-cli",
		Usage:           "request and redeem magic sign-in links",
		HideHelpCommand: true,
		Writer:          a.out,
		ErrWriter:       a.errOut,
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "server address (host:port)",
				Value:   DefaultServerAddr,
				EnvVars: []string{"MAGICLINK_ADDR"},
			},
			&ucli.DurationFlag{
				Name:  "timeout",
				Usage: "per-call deadline",
				Value: DefaultTimeout,
			},
		},
		Commands: []*ucli.Command{
			a.requestCommand(),
			a.verifyCommand(),
			a.meCommand(),
			a.refreshCommand(),
			a.pingCommand(),
		},
	}
}

// Run executes args (including the program name) against the command tree.
func (a *App) Run(ctx context.Context, args []string) error {
	return a.Command().RunContext(ctx, args)
}

func (a *App) requestCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "request",
		Usage: "send a sign-in link to an email address",
		Flags: []ucli.Flag{
			&ucli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "recipient address", Required: true},
		},
		Action: func(c *ucli.Context) error {
			return a.withClient(c, func(ctx context.Context, client LinkClient) error {
				resp, err := client.RequestMagicLink(ctx, &api.RequestMagicLinkRequest{Email: c.String("email")})
				if err != nil {
					return describe("request", err)
				}
				fmt.Fprintf(a.out, "Link sent to %s, valid for %s\n",
					resp.Email, time.Duration(resp.ExpiresInSeconds)*time.Second)
				return nil
			})
		},
	}
}

func (a *App) verifyCommand() *ucli.Command {
	return &ucli.Command{
		Name:      "verify",
		Usage:     "redeem a link token (or the full link) for a session",
		ArgsUsage: "[token]",
		Flags: []ucli.Flag{
			&ucli.StringFlag{Name: "token", Aliases: []string{"t"}, Usage: "token or link; prompted for when omitted"},
		},
		Action: func(c *ucli.Context) error {
			token, err := a.readToken(c)
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("verify: empty token")
			}
			return a.withClient(c, func(ctx context.Context, client LinkClient) error {
				resp, err := client.VerifyMagicLink(ctx, &api.VerifyMagicLinkRequest{Token: token})
				if err != nil {
					return describe("verify", err)
				}
				fmt.Fprintf(a.out, "Signed in as %s (%s)\n", resp.Account.Email, resp.Account.ID)
				fmt.Fprintf(a.out, "%s token, expires in %ds:\n%s\n", resp.TokenType, resp.ExpiresIn, resp.AccessToken)
				return nil
			})
		},
	}
}

func accessTokenFlag() ucli.Flag {
	return &ucli.StringFlag{
		Name:     "access-token",
		Usage:    "access token from verify",
		EnvVars:  []string{"MAGICLINK_TOKEN"},
		Required: true,
	}
}

func (a *App) meCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "me",
		Usage: "show the account an access token belongs to",
		Flags: []ucli.Flag{accessTokenFlag()},
		Action: func(c *ucli.Context) error {
			token := strings.TrimSpace(c.String("access-token"))
			if token == "" {
				return errors.New("me: empty access token")
			}
			return a.withClient(c, func(ctx context.Context, client LinkClient) error {
				ctx = api.WithBearer(ctx, token)
				resp, err := client.Me(ctx, &api.MeRequest{})
				if err != nil {
					return describe("me", err)
				}
				acc := resp.Account
				fmt.Fprintf(a.out, "%s (%s)\n", acc.Email, acc.ID)
				if acc.FullName != "" {
					fmt.Fprintf(a.out, "Name: %s\n", acc.FullName)
				}
				if acc.LastLoginAt != nil {
					fmt.Fprintf(a.out, "Last login: %s\n", acc.LastLoginAt.UTC().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func (a *App) refreshCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "refresh",
		Usage: "exchange a valid access token for a fresh one",
		Flags: []ucli.Flag{accessTokenFlag()},
		Action: func(c *ucli.Context) error {
			token := strings.TrimSpace(c.String("access-token"))
			if token == "" {
				return errors.New("refresh: empty access token")
			}
			return a.withClient(c, func(ctx context.Context, client LinkClient) error {
				ctx = api.WithBearer(ctx, token)
				resp, err := client.RefreshToken(ctx, &api.RefreshTokenRequest{})
				if err != nil {
					return describe("refresh", err)
				}
				fmt.Fprintf(a.out, "%s token, expires in %ds:\n%s\n", resp.TokenType, resp.ExpiresIn, resp.AccessToken)
				return nil
			})
		},
	}
}

func (a *App) pingCommand() *ucli.Command {
	return &ucli.Command{
		Name:  "ping",
		Usage: "check that the server is reachable",
		Action: func(c *ucli.Context) error {
			return a.withClient(c, func(ctx context.Context, client LinkClient) error {
				resp, err := client.Ping(ctx, &api.PingRequest{})
				if err != nil {
					return describe("ping", err)
				}
				fmt.Fprintln(a.out, resp.Status)
				return nil
			})
		},
	}
}

func (a *App) withClient(c *ucli.Context, fn func(ctx context.Context, client LinkClient) error) error {
	client, closer, err := a.dial(c.String("addr"))
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	return fn(ctx, client)
}

// readToken takes the token from --token, the first argument, a no-echo
// terminal prompt or a line of stdin, in that order.
func (a *App) readToken(c *ucli.Context) (string, error) {
	if t := strings.TrimSpace(c.String("token")); t != "" {
		return extractToken(t), nil
	}
	if t := strings.TrimSpace(c.Args().First()); t != "" {
		return extractToken(t), nil
	}

	if stdinIsTerminal() {
		b, err := GetSecret(tokenPrompt, a.errOut)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		defer cryptox.WipeByteArray(b)
		return extractToken(strings.TrimSpace(string(b))), nil
	}

	t, err := GetSimpleText(a.in, tokenPrompt, a.errOut)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return extractToken(t), nil
}

// extractToken accepts either a bare token or a full link carrying it in the
// token query parameter.
func extractToken(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	if t := u.Query().Get("token"); t != "" {
		return t
	}
	return s
}

func describe(op string, err error) error {
	var msg string
	switch api.Reason(err) {
	case api.ReasonNotFound:
		msg = "link not recognised"
	case api.ReasonExpired:
		msg = "link expired, request a new one"
	case api.ReasonAlreadyUsed:
		msg = "link was already used"
	case api.ReasonInactive:
		msg = "account is disabled"
	case api.ReasonInvalidEmail:
		msg = "invalid email address"
	case api.ReasonDomain:
		msg = "email domain is not allowed"
	case api.ReasonRateLimited:
		msg = "too many requests, try again later"
	case api.ReasonTokenExpired:
		msg = "access token expired, sign in again"
	default:
		if st, ok := status.FromError(err); ok {
			return fmt.Errorf("%s: %s: %s", op, st.Code(), st.Message())
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %s", op, msg)
}
