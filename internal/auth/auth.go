// Package auth verifies the caller identity carried in the x-auth-token header.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	TokenHeader = "x-auth-token"
	RoleAdmin   = "admin"
	RoleUser    = "user"

	contextKey = "user"
)

var ErrNoIdentity = errors.New("no verified identity on request")

// Identity is the verified caller
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Claims token payload, {"user": {...}} plus the registered claims
type Claims struct {
	User Identity `json:"user"`
	jwt.RegisteredClaims
}

// Middleware rejects requests without a valid HS256 token signed with secret
func Middleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: echojwt.AlgorithmHS256,
		TokenLookup:   "header:" + TokenHeader,
		ContextKey:    contextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			var missing *echojwt.TokenExtractionError
			if errors.As(err, &missing) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "No token, authorization denied"})
			}
			return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Token is not valid"})
		},
	})
}

// RequireAdmin must run after Middleware
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := FromContext(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"message": "Token is not valid"})
		}
		if !id.IsAdmin() {
			return c.JSON(http.StatusForbidden, echo.Map{"message": "Access denied. Admin only."})
		}
		return next(c)
	}
}

// FromContext returns the identity verified by Middleware
func FromContext(c echo.Context) (Identity, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return Identity{}, ErrNoIdentity
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.User.ID == "" {
		return Identity{}, ErrNoIdentity
	}
	return claims.User, nil
}

// IssueToken signs a token for id that expires after ttl
func IssueToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		User: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
