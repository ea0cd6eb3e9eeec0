// Package auth mints the bearer session handed out after a magic link
// verifies. Tokens are HS256 JWTs carrying the account id and email.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/common"
	"github.com/dmitrijs2005/magiclink/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

const TokenTypeBearer = "Bearer"

// Claims embeds the registered claims and adds the account identity.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

func GenerateToken(accountID, email string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		AccountID: accountID,
		Email:     email,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken validates signature and expiry. Expired tokens yield
// common.ErrTokenExpired, anything else unusable common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// Session is what a successful verification trades the magic link for.
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

// SessionIssuer mints sessions for verified accounts.
type SessionIssuer struct {
	secretKey []byte
	validity  time.Duration
}

func NewSessionIssuer(secretKey string, validity time.Duration) *SessionIssuer {
	return &SessionIssuer{secretKey: []byte(secretKey), validity: validity}
}

// Issue refuses inactive accounts with common.ErrAccountInactive.
func (s *SessionIssuer) Issue(account *models.Account) (*Session, error) {
	if !account.IsActive {
		return nil, common.ErrAccountInactive
	}
	tok, err := GenerateToken(account.ID, account.Email, s.secretKey, s.validity)
	if err != nil {
		return nil, err
	}
	return &Session{AccessToken: tok, TokenType: TokenTypeBearer, ExpiresIn: s.validity}, nil
}

// Authenticate validates an access token minted by Issue and returns its
// claims. Errors are common.ErrTokenExpired or common.ErrInvalidToken.
func (s *SessionIssuer) Authenticate(token string) (*Claims, error) {
	claims, err := ParseToken(token, s.secretKey)
	if err != nil {
		return nil, err
	}
	if claims.AccountID == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
