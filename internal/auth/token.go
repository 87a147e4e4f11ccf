// Package auth issues and verifies access tokens and enforces per-route scope requirements.
package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/poshub/orders-api/internal/errors"
)

// TokenTypeAccess is the only token type accepted by Verify.
const TokenTypeAccess = "access"

// Claims is the signed payload of an access token.
type Claims struct {
	UserID string   `json:"user_id"`
	Scopes []string `json:"scopes"`
	Type   string   `json:"type"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HMAC access tokens with a process-wide secret.
type TokenService struct {
	secret     []byte
	method     jwt.SigningMethod
	defaultTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a token service. algorithm must be HS256, HS384 or HS512.
func NewTokenService(secret, algorithm string, defaultTTL time.Duration) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("auth: secret key is required")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", algorithm)
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &TokenService{
		secret:     []byte(secret),
		method:     method,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}, nil
}

// DefaultTTL is the lifetime used when Issue is called with ttl <= 0.
func (s *TokenService) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Issue signs a new access token for subject carrying scopes.
func (s *TokenService) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if scopes == nil {
		scopes = []string{}
	}

	now := s.now()
	claims := &Claims{
		UserID: subject,
		Scopes: scopes,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and type of tokenString and returns its claims.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Authentication(errors.ReasonExpired, "Token expired")
		}
		return nil, errors.Authentication(errors.ReasonMalformed, "Invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.Authentication(errors.ReasonMalformed, "Invalid token")
	}
	if claims.Type != TokenTypeAccess {
		return nil, errors.Authentication(errors.ReasonWrongType, "Invalid token type")
	}
	return claims, nil
}

// ScopesSatisfy reports whether held contains every scope in required.
func ScopesSatisfy(held, required []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, s := range held {
		set[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
