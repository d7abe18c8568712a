package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
)

// Claims are the claims of a locally signed analysis API token
type Claims struct {
	jwt.RegisteredClaims
}

// Signer issues short-lived JWTs for the analysis API. A PEM encoded RSA
// private key signs with RS256; any other key is used as an HS256 secret.
type Signer struct {
	method  jwt.SigningMethod
	key     interface{}
	verify  interface{}
	issuer  string
	subject string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a signer for the given key
func NewSigner(signingKey, issuer, subject string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, apperrors.NewValidationError("JWT signing key is empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Signer{
		issuer:  issuer,
		subject: subject,
		ttl:     ttl,
		now:     time.Now,
	}

	if strings.Contains(signingKey, "-----BEGIN") {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(signingKey))
		if err != nil {
			return nil, apperrors.NewValidationError("invalid RSA signing key").WithCause(err)
		}
		s.method = jwt.SigningMethodRS256
		s.key = key
		s.verify = &key.PublicKey
		return s, nil
	}

	s.method = jwt.SigningMethodHS256
	s.key = []byte(signingKey)
	s.verify = s.key
	return s, nil
}

// Algorithm returns the JWT "alg" the signer uses
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Sign generates a token and returns it with its expiry
func (s *Signer) Sign() (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(s.method, claims)
	tokenString, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses a token issued by this signer and returns its claims
func (s *Signer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.verify, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, apperrors.NewAuthenticationError("invalid token").WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.NewAuthenticationError("invalid token claims")
	}
	return claims, nil
}
