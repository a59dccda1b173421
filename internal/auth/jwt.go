// Package auth issues and verifies bearer tokens, hashes passwords, and
// provides the middleware that guards the transcript routes.
//
// TOKEN FLOW:
//  1. POST /auth/login checks the password and returns a signed JWT
//  2. The client sends it back on every protected call as
//     "Authorization: Bearer <token>"
//  3. RequireAuth validates the token, loads the user it names, and puts
//     that user in the request context
//
// The token is stateless: nothing is stored server side. Its payload is
//
//	{"sub":"42","username":"alice","iat":...,"exp":...,"iss":"voice-notes"}
//
// signed with HMAC (HS256 by default) using the configured secret.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/voice-notes/internal/model"
)

const issuer = "voice-notes"

// DefaultTokenTTL is the token lifetime when none is configured: 7 days.
const DefaultTokenTTL = 10080 * time.Minute

// TokenService handles JWT creation and validation.
//
// The same secret and algorithm are used for both operations. Tokens signed
// with any other algorithm are rejected, even another HMAC variant.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewTokenService creates a TokenService.
//
// algorithm must be one of HS256, HS384, HS512. A ttl of zero means
// DefaultTokenTTL. The secret should be long random data in production:
//
//	JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret, algorithm string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}

	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported JWT algorithm %q (want HS256, HS384 or HS512)", algorithm)
	}

	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenService{secret: []byte(secret), method: method, ttl: ttl}, nil
}

// Claims is what a valid token says about its bearer.
type Claims struct {
	UserID   int64
	Username string
}

// claims is the JWT payload. "sub" carries the user id as a decimal string.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Generate signs a token for user that expires after the service's TTL.
func (s *TokenService) Generate(user *model.User) (string, error) {
	return s.GenerateWithDuration(user, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use it to
// mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(user *model.User, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(s.method, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// The library checks the signature, the algorithm (WithValidMethods guards
// against "alg":"none" and algorithm confusion), that exp is present and in
// the future, and the issuer. The subject must then parse as a positive id.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("auth: token subject %q is not a user id", c.Subject)
	}

	return &Claims{UserID: id, Username: c.Username}, nil
}
