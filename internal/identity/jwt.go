package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// Claims is the access token payload
type Claims struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Role     RoleClaim `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver verifies RS256 access tokens locally with the auth service public key
type JWTResolver struct {
	key *rsa.PublicKey
}

var _ Resolver = (*JWTResolver)(nil)

func NewJWTResolver(publicKeyPEM []byte) (*JWTResolver, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}
	return &JWTResolver{key: key}, nil
}

func (r *JWTResolver) ResolveCaller(_ context.Context, credential string) (domain.Caller, error) {
	t, err := jwt.ParseWithClaims(credential, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return r.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Caller{}, ErrExpired
		}
		return domain.Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Username == "" || c.ID <= 0 {
		return domain.Caller{}, ErrUnauthenticated
	}
	return domain.Caller{UserID: c.ID, Name: c.Username, Role: c.Role.Name}, nil
}
