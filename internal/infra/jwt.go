// README: Token verifier boundary; HMAC JWT implementation.
package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token holds the verified identity data handed to the core: a stable
// subject uid and an already-normalized role claim. Token issuance and
// claim mapping belong to the external identity provider; nothing past
// this boundary inspects raw claims.
type Token struct {
	SubjectUID string
	Role       string
}

// TokenVerifier verifies a raw bearer token string and returns the
// verified subject and role.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Token, error)
}

var ErrInvalidToken = errors.New("invalid token")

// jwtVerifier is the production implementation backed by HMAC-signed JWTs.
type jwtVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a TokenVerifier validating HS256 tokens signed
// with the given secret. The subject uid is taken from the "sub" claim
// and the role from the "role" claim.
func NewJWTVerifier(secret string) TokenVerifier {
	return &jwtVerifier{secret: []byte(secret)}
}

func (v *jwtVerifier) Verify(_ context.Context, raw string) (*Token, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return &Token{SubjectUID: sub, Role: role}, nil
}
