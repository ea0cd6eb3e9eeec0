package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/api"
	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/netx"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	provenanceKey ctxKey = "provenance"
	accountIDKey  ctxKey = "account_id"
)

// authenticatedMethods require a bearer access token.
var authenticatedMethods = map[string]struct{}{
	api.MeMethod:           {},
	api.RefreshTokenMethod: {},
}

const maxUserAgentLength = 512

// provenanceInterceptor records where the call came from.
func provenanceInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var forwardedFor, realIP, userAgent, remote string

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		forwardedFor = first(md, common.ForwardedForHeaderName)
		realIP = first(md, common.RealIPHeaderName)
		userAgent = first(md, common.UserAgentHeaderName)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		remote = p.Addr.String()
	}

	prov := models.Provenance{
		IP:        netx.ClientIP(forwardedFor, realIP, remote),
		UserAgent: netx.TruncateUserAgent(userAgent, maxUserAgentLength),
	}
	return handler(context.WithValue(ctx, provenanceKey, prov), req)
}

func provenanceFromContext(ctx context.Context) models.Provenance {
	prov, _ := ctx.Value(provenanceKey).(models.Provenance)
	return prov
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	args := []any{"method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start)}
	if err != nil {
		s.logger.Warn(ctx, "request failed", args...)
	} else {
		s.logger.Info(ctx, "request served", args...)
	}
	return resp, err
}

// accessTokenInterceptor validates the bearer token of authenticated methods
// and puts the account id on the context.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if _, ok := authenticatedMethods[info.FullMethod]; !ok {
		return handler(ctx, req)
	}

	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		token = api.BearerToken(first(md, api.AuthorizationHeader))
	}
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	claims, err := s.sessions.Authenticate(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, statusWithReason(codes.Unauthenticated, "token expired", api.ReasonTokenExpired)
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(context.WithValue(ctx, accountIDKey, claims.AccountID), req)
}

// rateLimitInterceptor throttles link requests per client IP and per email.
func (s *GRPCServer) rateLimitInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod != api.RequestMagicLinkMethod || s.byIP == nil {
		return handler(ctx, req)
	}

	if ip := provenanceFromContext(ctx).IP; ip != "" && !s.byIP.Allow(ip) {
		s.logger.Warn(ctx, "link requests throttled", "ip", ip)
		return nil, statusWithReason(codes.ResourceExhausted, "too many requests, try again later", api.ReasonRateLimited)
	}
	if r, ok := req.(*api.RequestMagicLinkRequest); ok {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email != "" && !s.byEmail.Allow(email) {
			s.logger.Warn(ctx, "link requests throttled for address")
			return nil, statusWithReason(codes.ResourceExhausted, "too many requests, try again later", api.ReasonRateLimited)
		}
	}
	return handler(ctx, req)
}
