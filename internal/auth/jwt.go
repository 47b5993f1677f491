// Package auth issues and validates the bearer tokens that gate the operator
// endpoints (refund, cancel).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeOperator is the only accepted typ claim.
const TokenTypeOperator = "operator"

// Issuer is stamped into every token and required on validation.
const Issuer = "donation-reconciler"

// DefaultOperatorTokenTTL bounds tokens issued without an explicit TTL.
const DefaultOperatorTokenTTL = 8 * time.Hour

// DefaultLeeway tolerates clock skew between issuer and validator.
const DefaultLeeway = 30 * time.Second

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrWrongType     = errors.New("token is not an operator token")
	ErrMissingSecret = errors.New("signing secret cannot be empty")
)

// Claims are the operator token claims.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// JWTService signs with the current secret and accepts the current or the
// previous secret, so a secret can be rotated without logging operators out.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// Option configures a JWTService.
type Option func(*JWTService)

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTService) { s.leeway = d }
}

// NewJWTService builds a service. previousSecret may be empty.
func NewJWTService(currentSecret, previousSecret string, opts ...Option) (*JWTService, error) {
	if currentSecret == "" {
		return nil, ErrMissingSecret
	}
	s := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		s.previousSecret = []byte(previousSecret)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueOperatorToken signs an operator token for subject. ttl <= 0 uses
// DefaultOperatorTokenTTL.
func (s *JWTService) IssueOperatorToken(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		ttl = DefaultOperatorTokenTTL
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: TokenTypeOperator,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.currentSecret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// ValidateOperatorToken checks signature, expiry, issuer and typ.
func (s *JWTService) ValidateOperatorToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeOperator {
		return nil, ErrWrongType
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
