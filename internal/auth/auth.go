// Package auth resolves bearer tokens into identities. Tokens are minted
// by the platform's account service; this process only verifies them.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the platform token payload. Subject carries the identity ID.
type Claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// Resolver turns a bearer token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (domain.Identity, error)
}

// JWTResolver verifies HMAC-signed platform tokens.
type JWTResolver struct {
	secret []byte
	issuer string
}

// NewJWTResolver creates a resolver for tokens signed with the shared
// platform secret.
func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

// Resolve validates the token and returns the identity it names. The
// process ID is left empty; the gateway stamps its own.
func (r *JWTResolver) Resolve(_ context.Context, tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return r.secret, nil
	}, jwt.WithIssuer(r.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, ErrExpiredToken
		}
		return domain.Identity{}, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return domain.Identity{}, ErrInvalidToken
	}

	kind := domain.IdentityKind(claims.Kind)
	if kind != domain.KindPerformer {
		kind = domain.KindViewer
	}
	return domain.Identity{ID: claims.Subject, Kind: kind}, nil
}
