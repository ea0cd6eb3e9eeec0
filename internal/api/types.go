// Package api is the wire contract of the magic-link gRPC service: message
// types, the service descriptor, a JSON codec and a typed client.
package api

import "time"

type RequestMagicLinkRequest struct {
	Email string `json:"email"`
}

type RequestMagicLinkResponse struct {
	Email            string `json:"email"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

type VerifyMagicLinkRequest struct {
	Token string `json:"token"`
}

type Account struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type VerifyMagicLinkResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   int64   `json:"expires_in"`
	Account     Account `json:"account"`
}

type MeRequest struct{}

type MeResponse struct {
	Account Account `json:"account"`
}

type RefreshTokenRequest struct{}

type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// Error reasons attached to FailedPrecondition statuses as
// errdetails.ErrorInfo.
const (
	ErrorDomain        = "magiclink"
	ReasonExpired      = "expired"
	ReasonAlreadyUsed  = "already_used"
	ReasonNotFound     = "not_found"
	ReasonInactive     = "account_inactive"
	ReasonInvalidEmail = "invalid_email"
	ReasonDomain       = "email_domain_not_allowed"
	ReasonRateLimited  = "rate_limited"
	ReasonTokenExpired = "token_expired"
)
