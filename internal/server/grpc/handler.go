package grpc

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/dmitrijs2005/magiclink/internal/api"
	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/server/delivery"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/dmitrijs2005/magiclink/internal/server/services"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) RequestMagicLink(ctx context.Context, req *api.RequestMagicLinkRequest) (*api.RequestMagicLinkResponse, error) {
	issued, account, err := s.links.RequestLink(ctx, req.Email, provenanceFromContext(ctx))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidEmail):
			return nil, statusWithReason(codes.InvalidArgument, "invalid email address", api.ReasonInvalidEmail)
		case errors.Is(err, common.ErrEmailDomainNotAllowed):
			return nil, statusWithReason(codes.PermissionDenied, "email domain not allowed", api.ReasonDomain)
		case errors.Is(err, common.ErrStorage):
			return nil, status.Error(codes.Unavailable, "storage unavailable")
		}
		s.logger.Error(ctx, "link request failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	link, err := delivery.BuildLink(s.linkBaseURL, issued.Secret)
	if err != nil {
		s.logger.Error(ctx, "link rendering failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	if err := s.sender.Send(ctx, delivery.Message{
		To:        account.Email,
		FullName:  account.FullName,
		Link:      link,
		ExpiresAt: issued.ExpiresAt,
	}); err != nil {
		s.logger.Error(ctx, "link delivery failed", "account_id", account.ID, "error", err)
		return nil, status.Error(codes.Internal, "delivery failed")
	}

	return &api.RequestMagicLinkResponse{
		Email:            account.Email,
		ExpiresInSeconds: int64(math.Ceil(issued.ExpiresAt.Sub(issued.IssuedAt).Seconds())),
	}, nil
}

func (s *GRPCServer) VerifyMagicLink(ctx context.Context, req *api.VerifyMagicLinkRequest) (*api.VerifyMagicLinkResponse, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	res, err := s.links.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrStorage) {
			return nil, status.Error(codes.Unavailable, "storage unavailable")
		}
		return nil, status.Error(codes.Internal, "internal error")
	}

	switch res.Outcome {
	case services.OutcomeNotFound:
		return nil, statusWithReason(codes.NotFound, "invalid or unknown link", api.ReasonNotFound)
	case services.OutcomeExpired:
		return nil, statusWithReason(codes.FailedPrecondition, "link has expired, request a new one", api.ReasonExpired)
	case services.OutcomeAlreadyUsed:
		return nil, statusWithReason(codes.FailedPrecondition, "link was already used, request a new one", api.ReasonAlreadyUsed)
	case services.OutcomeSuccess:
	default:
		return nil, status.Error(codes.Internal, "internal error")
	}

	session, err := s.sessions.Issue(res.Account)
	if err != nil {
		if errors.Is(err, common.ErrAccountInactive) {
			return nil, statusWithReason(codes.PermissionDenied, "account is inactive", api.ReasonInactive)
		}
		s.logger.Error(ctx, "session issuance failed", "account_id", res.Account.ID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return &api.VerifyMagicLinkResponse{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		ExpiresIn:   int64(session.ExpiresIn.Seconds()),
		Account:     toAPIAccount(res.Account),
	}, nil
}

func (s *GRPCServer) Me(ctx context.Context, req *api.MeRequest) (*api.MeResponse, error) {
	account, err := s.currentAccount(ctx)
	if err != nil {
		return nil, err
	}
	return &api.MeResponse{Account: toAPIAccount(account)}, nil
}

// RefreshToken trades a still-valid access token for a fresh one, provided
// the account is still active.
func (s *GRPCServer) RefreshToken(ctx context.Context, req *api.RefreshTokenRequest) (*api.RefreshTokenResponse, error) {
	account, err := s.currentAccount(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Issue(account)
	if err != nil {
		s.logger.Error(ctx, "session refresh failed", "account_id", account.ID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return &api.RefreshTokenResponse{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		ExpiresIn:   int64(session.ExpiresIn.Seconds()),
	}, nil
}

// currentAccount reloads the account the access token was issued for.
func (s *GRPCServer) currentAccount(ctx context.Context) (*models.Account, error) {
	id, _ := ctx.Value(accountIDKey).(string)
	if id == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	account, err := s.links.Account(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return nil, status.Error(codes.Unauthenticated, "unknown account")
		case errors.Is(err, common.ErrStorage):
			return nil, status.Error(codes.Unavailable, "storage unavailable")
		}
		s.logger.Error(ctx, "account lookup failed", "account_id", id, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	if !account.IsActive {
		return nil, statusWithReason(codes.PermissionDenied, "account is inactive", api.ReasonInactive)
	}
	return account, nil
}

func toAPIAccount(a *models.Account) api.Account {
	return api.Account{
		ID:          a.ID,
		Email:       a.Email,
		FullName:    a.FullName,
		IsActive:    a.IsActive,
		LastLoginAt: a.LastLoginAt,
	}
}

func (s *GRPCServer) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}

func statusWithReason(code codes.Code, msg, reason string) error {
	st, err := status.New(code, msg).WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: api.ErrorDomain})
	if err != nil {
		return status.Error(code, msg)
	}
	return st.Err()
}
