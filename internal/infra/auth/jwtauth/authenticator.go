package jwtauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medledger/internal/domain"
)

// Authenticator verifies HS256 bearer tokens signed with a shared secret.
// The subject becomes the principal; roles come from the "roles" claim
// (array or comma separated string) or a single "role" claim.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuthenticator(secret, issuer, audience string, leeway time.Duration, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	a := &Authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
		leeway:   leeway,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Authenticator) Authenticate(ctx context.Context, bearerToken string) (domain.Principal, error) {
	if a == nil {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	tokenString := strings.TrimSpace(bearerToken)
	if tokenString == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return domain.Principal{}, domain.ErrUnauthorized
	}

	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return domain.Principal{}, domain.ErrUnauthorized
	}
	return domain.Principal{
		Subject:   subject,
		Roles:     extractRoles(claims),
		RawClaims: map[string]any(claims),
	}, nil
}

// Sign issues a token for subject. It is used by the CLI to mint operator
// tokens and by tests.
func (a *Authenticator) Sign(subject string, roles []string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if a.audience != "" {
		claims["aud"] = a.audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func extractRoles(claims jwt.MapClaims) []string {
	var roles []string
	switch raw := claims["roles"].(type) {
	case []any:
		for _, r := range raw {
			if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
				roles = append(roles, strings.TrimSpace(s))
			}
		}
	case string:
		for _, r := range strings.Split(raw, ",") {
			if s := strings.TrimSpace(r); s != "" {
				roles = append(roles, s)
			}
		}
	}
	if role, ok := claims["role"].(string); ok && strings.TrimSpace(role) != "" {
		roles = append(roles, strings.TrimSpace(role))
	}
	return roles
}

var _ domain.Authenticator = (*Authenticator)(nil)
