package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/vibast-solutions/ms-go-settlements/app/types"
)

const claimsContextKey = "auth_claims"

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the bearer token payload. UserID identifies the payer.
type Claims struct {
	UserID uint64 `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type JWTAuth struct {
	secret    []byte
	adminRole string
	issuer    string
}

func NewJWTAuth(secret, adminRole, issuer string) *JWTAuth {
	return &JWTAuth{
		secret:    []byte(secret),
		adminRole: strings.TrimSpace(adminRole),
		issuer:    issuer,
	}
}

// GenerateToken signs a token for userID that expires after ttl.
func (a *JWTAuth) GenerateToken(userID uint64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *JWTAuth) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// claims on the context.
func (a *JWTAuth) RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if auth == "" {
				return c.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "missing authorization header"})
			}
			parts := strings.Fields(auth)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return c.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid authorization header"})
			}

			claims, err := a.ParseToken(parts[1])
			if err != nil {
				return c.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: err.Error()})
			}

			c.Set(claimsContextKey, claims)
			return next(c)
		}
	}
}

// AdminOnly must run after RequireUser.
func (a *JWTAuth) AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims := GetClaims(c)
		if claims == nil || a.adminRole == "" || claims.Role != a.adminRole {
			return c.JSON(http.StatusForbidden, &types.ErrorResponse{Error: "admin role required"})
		}
		return next(c)
	}
}

func GetClaims(c echo.Context) *Claims {
	v := c.Get(claimsContextKey)
	if v == nil {
		return nil
	}
	if cl, ok := v.(*Claims); ok {
		return cl
	}
	return nil
}

// UserID returns the authenticated payer, or 0 when the request carries no
// claims.
func UserID(c echo.Context) uint64 {
	if claims := GetClaims(c); claims != nil {
		return claims.UserID
	}
	return 0
}
