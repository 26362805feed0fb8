package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/community-chat/pkg/model"
)

// Resolver maps an opaque bearer credential to a stable user id. The
// messaging subsystem never issues credentials itself; it only resolves
// them at the connection and request boundaries.
type Resolver interface {
	Resolve(token string) (userID string, err error)
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type contextKey string

// UserKey carries the resolved user id through request contexts.
const UserKey contextKey = "user"

// JWT validates HS256 bearer tokens. It also generates them for the dev
// login endpoint and for tests; deployments point the server at the
// shared secret of the real auth system.
type JWT struct {
	secret []byte
	ttl    time.Duration
}

func NewJWT(secret []byte, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWT{secret: secret, ttl: ttl}
}

// GenerateToken creates a new signed token for a given user id.
func (j *JWT) GenerateToken(userID string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Resolve parses and validates a bearer token, returning the user id it
// was issued for. All failures map to model.ErrUnauthenticated.
func (j *JWT) Resolve(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}

	if !token.Valid || claims.UserID == "" {
		return "", model.ErrUnauthenticated
	}

	return claims.UserID, nil
}
