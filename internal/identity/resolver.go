package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chartdb/collab-backend/internal/domain"
)

// Identity is the resolved user behind a connection. Authentication itself
// happens upstream; this package only turns the credential the transport
// hands over into display data for presence broadcasts.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Resolver resolves a connection's credential into an Identity. A failed
// resolution means the gateway drops the connection's frames; it never closes
// the connection or crashes the handling loop.
type Resolver interface {
	Resolve(credential string) (*Identity, error)
}

// Claims are the token claims the auth service issues for collaboration
// connections.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 bearer tokens minted by the auth service.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(credential string) (*Identity, error) {
	if credential == "" {
		return nil, domain.ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return r.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, domain.ErrUnauthenticated
	}

	return &Identity{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
	}, nil
}

// StaticResolver maps credentials to fixed identities; test helper.
type StaticResolver map[string]Identity

func (r StaticResolver) Resolve(credential string) (*Identity, error) {
	ident, ok := r[credential]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return &ident, nil
}
