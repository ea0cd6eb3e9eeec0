// Package grpc exposes the magic-link service over gRPC with the JSON codec
// from internal/api, plus the standard health service.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/magiclink/internal/api"
	"github.com/dmitrijs2005/magiclink/internal/logging"
	"github.com/dmitrijs2005/magiclink/internal/server/auth"
	"github.com/dmitrijs2005/magiclink/internal/server/delivery"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LinkService is the part of services.MagicLinkService the transport uses.
type LinkService interface {
	RequestLink(ctx context.Context, email string, prov models.Provenance) (*services.IssuedLink, *models.Account, error)
	Verify(ctx context.Context, secret string) (*services.VerifyResult, error)
	Account(ctx context.Context, id string) (*models.Account, error)
}

// SessionIssuer turns a verified account into a bearer session and checks
// the tokens it minted.
type SessionIssuer interface {
	Issue(account *models.Account) (*auth.Session, error)
	Authenticate(token string) (*auth.Claims, error)
}

type ServerOption func(*GRPCServer)

// WithRequestRateLimit caps link requests at perMinute per client IP and per
// email address. Zero disables the limit.
func WithRequestRateLimit(perMinute int) ServerOption {
	return func(s *GRPCServer) {
		if perMinute > 0 {
			s.byIP = newLimiterRegistry(perMinute)
			s.byEmail = newLimiterRegistry(perMinute)
		}
	}
}

type GRPCServer struct {
	address     string
	links       LinkService
	sessions    SessionIssuer
	sender      delivery.Sender
	linkBaseURL string
	logger      logging.Logger
	srv         *grpc.Server
	health      *health.Server
	byIP        *limiterRegistry
	byEmail     *limiterRegistry
}

func NewGRPCServer(a string, l logging.Logger, links LinkService, sessions SessionIssuer, sender delivery.Sender, linkBaseURL string, opts ...ServerOption) *GRPCServer {
	s := &GRPCServer{
		address:     a,
		logger:      l.With("module", "grpc_server"),
		links:       links,
		sessions:    sessions,
		sender:      sender,
		linkBaseURL: linkBaseURL,
		health:      health.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.loggingInterceptor,
		provenanceInterceptor,
		s.rateLimitInterceptor,
		s.accessTokenInterceptor,
	))
	api.RegisterMagicLinkServiceServer(s.srv, s)
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return s
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		s.srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := s.srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
