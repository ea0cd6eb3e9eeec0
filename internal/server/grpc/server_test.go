package grpc

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/api"
	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/cryptox"
	"github.com/dmitrijs2005/magiclink/internal/logging"
	"github.com/dmitrijs2005/magiclink/internal/server/auth"
	"github.com/dmitrijs2005/magiclink/internal/server/config"
	"github.com/dmitrijs2005/magiclink/internal/server/delivery"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/magiclink/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufSize  = 1024 * 1024
	baseURL  = "https://app.example/verify"
	jwtKey   = "test-key"
	testMail = "jane.doe@example.com"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []delivery.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg delivery.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSender) lastToken(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.msgs)
	u, err := url.Parse(c.msgs[len(c.msgs)-1].Link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	client  *api.MagicLinkServiceClient
	conn    *grpc.ClientConn
	sender  *captureSender
	clock   *testClock
	manager *repomanager.MemoryRepositoryManager
}

func startServer(t *testing.T, links LinkService, sender *captureSender, opts ...ServerOption) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := NewGRPCServer("bufnet", logging.Nop(), links, auth.NewSessionIssuer(jwtKey, time.Hour), sender, baseURL, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, lis)
		close(done)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(common.DefaultClientUserAgent),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})
	return conn
}

func newHarness(t *testing.T, opts ...ServerOption) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StoreTimeout = time.Second

	clock := &testClock{now: time.Date(2031, 3, 4, 5, 6, 7, 0, time.UTC)}
	manager := repomanager.NewMemoryRepositoryManager()
	svc, err := services.NewMagicLinkService(manager, cryptox.SHA256Hasher{}, cfg, services.WithClock(clock.Now))
	require.NoError(t, err)

	sender := &captureSender{}
	conn := startServer(t, svc, sender, opts...)

	return &harness{
		client:  api.NewMagicLinkServiceClient(conn),
		conn:    conn,
		sender:  sender,
		clock:   clock,
		manager: manager,
	}
}

func (h *harness) request(t *testing.T) string {
	t.Helper()
	resp, err := h.client.RequestMagicLink(context.Background(), &api.RequestMagicLinkRequest{Email: testMail})
	require.NoError(t, err)
	assert.Equal(t, testMail, resp.Email)
	return h.sender.lastToken(t)
}

func requireStatus(t *testing.T, err error, code codes.Code, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, status.Code(err), "unexpected code: %v", err)
	assert.Equal(t, reason, api.Reason(err))
}

func TestPingAndHealth(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Ping(context.Background(), &api.PingRequest{})
	require.NoError(t, err)
	assert.Equal(t, "OK", resp.Status)

	hc, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: api.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}

func TestRequestAndVerify(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.RequestMagicLink(context.Background(), &api.RequestMagicLinkRequest{Email: testMail})
	require.NoError(t, err)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), resp.ExpiresInSeconds)

	token := h.sender.lastToken(t)
	require.NotEmpty(t, token)

	out, err := h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: token})
	require.NoError(t, err)
	assert.Equal(t, auth.TokenTypeBearer, out.TokenType)
	assert.Equal(t, int64(3600), out.ExpiresIn)
	assert.Equal(t, testMail, out.Account.Email)
	assert.Equal(t, "Jane Doe", out.Account.FullName)

	claims, err := auth.ParseToken(out.AccessToken, []byte(jwtKey))
	require.NoError(t, err)
	assert.Equal(t, out.Account.ID, claims.AccountID)

	// duplicate click inside the grace window
	h.clock.Advance(5 * time.Second)
	_, err = h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: token})
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	_, err = h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: token})
	requireStatus(t, err, codes.FailedPrecondition, api.ReasonAlreadyUsed)
}

func TestVerify_Expired(t *testing.T) {
	h := newHarness(t)
	token := h.request(t)

	h.clock.Advance(16 * time.Minute)
	_, err := h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: token})
	requireStatus(t, err, codes.FailedPrecondition, api.ReasonExpired)
}

func TestVerify_NotFound(t *testing.T) {
	h := newHarness(t)
	old := h.request(t)
	h.request(t)

	_, err := h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: old})
	requireStatus(t, err, codes.NotFound, api.ReasonNotFound)

	_, err = h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: "  "})
	requireStatus(t, err, codes.InvalidArgument, "")
}

func TestVerify_InactiveAccount(t *testing.T) {
	h := newHarness(t)
	token := h.request(t)

	acc, err := h.manager.Accounts().FindByEmail(context.Background(), testMail)
	require.NoError(t, err)
	require.NoError(t, h.manager.AccountStore().SetActive(acc.ID, false))

	_, err = h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: token})
	requireStatus(t, err, codes.PermissionDenied, api.ReasonInactive)
}

func TestRequest_InvalidEmail(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.RequestMagicLink(context.Background(), &api.RequestMagicLinkRequest{Email: "not-an-email"})
	requireStatus(t, err, codes.InvalidArgument, api.ReasonInvalidEmail)
}

func TestRequest_DeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.sender.mu.Lock()
	h.sender.err = fmt.Errorf("smtp down")
	h.sender.mu.Unlock()

	_, err := h.client.RequestMagicLink(context.Background(), &api.RequestMagicLinkRequest{Email: testMail})
	requireStatus(t, err, codes.Internal, "")
}

func TestRequest_RecordsProvenance(t *testing.T) {
	h := newHarness(t)

	ctx := metadata.AppendToOutgoingContext(context.Background(),
		common.ForwardedForHeaderName, "203.0.113.9, 10.0.0.1")
	_, err := h.client.RequestMagicLink(ctx, &api.RequestMagicLinkRequest{Email: testMail})
	require.NoError(t, err)

	acc, err := h.manager.Accounts().FindByEmail(context.Background(), testMail)
	require.NoError(t, err)
	rec, err := h.manager.MagicLinks().FindByOwner(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", rec.Provenance.IP)
	assert.Contains(t, rec.Provenance.UserAgent, common.DefaultClientUserAgent)
}

// storageDownService fails every call the way a dead database does.
type storageDownService struct{}

func (storageDownService) RequestLink(context.Context, string, models.Provenance) (*services.IssuedLink, *models.Account, error) {
	return nil, nil, fmt.Errorf("request: %w: %w", common.ErrStorage, context.DeadlineExceeded)
}

func (storageDownService) Verify(context.Context, string) (*services.VerifyResult, error) {
	return nil, fmt.Errorf("verify: %w", common.ErrStorage)
}

func (storageDownService) Account(context.Context, string) (*models.Account, error) {
	return nil, fmt.Errorf("account: %w", common.ErrStorage)
}

func TestStorageFailureIsUnavailable(t *testing.T) {
	conn := startServer(t, storageDownService{}, &captureSender{})
	client := api.NewMagicLinkServiceClient(conn)

	_, err := client.RequestMagicLink(context.Background(), &api.RequestMagicLinkRequest{Email: testMail})
	requireStatus(t, err, codes.Unavailable, "")

	_, err = client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: "x"})
	requireStatus(t, err, codes.Unavailable, "")

	tok, err := auth.GenerateToken("acc-1", testMail, []byte(jwtKey), time.Hour)
	require.NoError(t, err)
	_, err = client.Me(api.WithBearer(context.Background(), tok), &api.MeRequest{})
	requireStatus(t, err, codes.Unavailable, "")
}

func (h *harness) signIn(t *testing.T) *api.VerifyMagicLinkResponse {
	t.Helper()
	token := h.request(t)
	out, err := h.client.VerifyMagicLink(context.Background(), &api.VerifyMagicLinkRequest{Token: token})
	require.NoError(t, err)
	return out
}

func TestMeAndRefresh(t *testing.T) {
	h := newHarness(t)
	session := h.signIn(t)
	ctx := api.WithBearer(context.Background(), session.AccessToken)

	me, err := h.client.Me(ctx, &api.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, me.Account.ID)
	assert.Equal(t, testMail, me.Account.Email)
	assert.True(t, me.Account.IsActive)
	require.NotNil(t, me.Account.LastLoginAt)
	assert.True(t, h.clock.Now().Equal(*me.Account.LastLoginAt))

	refreshed, err := h.client.RefreshToken(ctx, &api.RefreshTokenRequest{})
	require.NoError(t, err)
	assert.Equal(t, auth.TokenTypeBearer, refreshed.TokenType)
	assert.Equal(t, int64(3600), refreshed.ExpiresIn)

	claims, err := auth.ParseToken(refreshed.AccessToken, []byte(jwtKey))
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, claims.AccountID)

	me, err = h.client.Me(api.WithBearer(context.Background(), refreshed.AccessToken), &api.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, me.Account.ID)
}

func TestAccessToken_Rejected(t *testing.T) {
	h := newHarness(t)
	session := h.signIn(t)

	expired, err := auth.GenerateToken(session.Account.ID, testMail, []byte(jwtKey), -time.Second)
	require.NoError(t, err)
	foreign, err := auth.GenerateToken(session.Account.ID, testMail, []byte("other-key"), time.Hour)
	require.NoError(t, err)
	ghost, err := auth.GenerateToken("no-such-account", "ghost@example.com", []byte(jwtKey), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		ctx    context.Context
		reason string
	}{
		{name: "no metadata", ctx: context.Background()},
		{name: "wrong scheme", ctx: metadata.AppendToOutgoingContext(context.Background(), api.AuthorizationHeader, "Basic "+session.AccessToken)},
		{name: "malformed", ctx: api.WithBearer(context.Background(), "not.a.jwt")},
		{name: "foreign key", ctx: api.WithBearer(context.Background(), foreign)},
		{name: "expired", ctx: api.WithBearer(context.Background(), expired), reason: api.ReasonTokenExpired},
		{name: "unknown account", ctx: api.WithBearer(context.Background(), ghost)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.Me(tt.ctx, &api.MeRequest{})
			requireStatus(t, err, codes.Unauthenticated, tt.reason)

			_, err = h.client.RefreshToken(tt.ctx, &api.RefreshTokenRequest{})
			requireStatus(t, err, codes.Unauthenticated, tt.reason)
		})
	}
}

func TestAccessToken_InactiveAccount(t *testing.T) {
	h := newHarness(t)
	session := h.signIn(t)
	require.NoError(t, h.manager.AccountStore().SetActive(session.Account.ID, false))

	ctx := api.WithBearer(context.Background(), session.AccessToken)
	_, err := h.client.Me(ctx, &api.MeRequest{})
	requireStatus(t, err, codes.PermissionDenied, api.ReasonInactive)

	_, err = h.client.RefreshToken(ctx, &api.RefreshTokenRequest{})
	requireStatus(t, err, codes.PermissionDenied, api.ReasonInactive)
}

func TestAccessToken_NotRequiredForPublicMethods(t *testing.T) {
	h := newHarness(t)
	ctx := api.WithBearer(context.Background(), "garbage")

	_, err := h.client.Ping(ctx, &api.PingRequest{})
	require.NoError(t, err)
	_, err = h.client.RequestMagicLink(ctx, &api.RequestMagicLinkRequest{Email: testMail})
	require.NoError(t, err)
}

func TestRequest_RateLimited(t *testing.T) {
	h := newHarness(t, WithRequestRateLimit(2))

	from := func(ip string) context.Context {
		return metadata.AppendToOutgoingContext(context.Background(), common.ForwardedForHeaderName, ip)
	}
	send := func(ctx context.Context, email string) error {
		_, err := h.client.RequestMagicLink(ctx, &api.RequestMagicLinkRequest{Email: email})
		return err
	}

	// per client IP
	require.NoError(t, send(from("203.0.113.1"), "a@example.com"))
	require.NoError(t, send(from("203.0.113.1"), "b@example.com"))
	requireStatus(t, send(from("203.0.113.1"), "c@example.com"), codes.ResourceExhausted, api.ReasonRateLimited)

	// per address, case-insensitively
	require.NoError(t, send(from("203.0.113.2"), testMail))
	require.NoError(t, send(from("203.0.113.3"), strings.ToUpper(testMail)))
	requireStatus(t, send(from("203.0.113.4"), testMail), codes.ResourceExhausted, api.ReasonRateLimited)

	_, err := h.client.VerifyMagicLink(from("203.0.113.1"), &api.VerifyMagicLinkRequest{Token: h.sender.lastToken(t)})
	require.NoError(t, err, "verification is not throttled")
}
