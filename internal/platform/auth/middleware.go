package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims are the bearer token claims this service reads.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation to HS256; development only.
	SigningKey []byte
}

// TenantClaimKey is the echo context key holding the token's tenant claim
// for tenant resolution. Requests carrying it are pinned to that tenant.
const TenantClaimKey = "jwt_tenant_id"

// parserFor returns a parser and, per request context, the key lookup
// matching cfg.
func parserFor(cfg JWTConfig) (*jwt.Parser, func(context.Context) jwt.Keyfunc) {
	opts := []jwt.ParserOption{jwt.WithLeeway(30 * time.Second)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		static := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		return jwt.NewParser(opts...), func(context.Context) jwt.Keyfunc { return static }
	}

	keys := NewKeySet(cfg.JWKSURL, 5*time.Minute)
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	return jwt.NewParser(opts...), func(ctx context.Context) jwt.Keyfunc {
		return func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, fmt.Errorf("token has no kid")
			}
			return keys.Key(ctx, kid)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

// JWTMiddleware authenticates the bearer token and attaches the caller's
// Identity to the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	parser, keyFor := parserFor(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			raw, ok := bearerToken(header)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			var claims Claims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFor(c.Request().Context())); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			c.Set(TenantClaimKey, claims.TenantID)
			id := Identity{Subject: claims.Subject, TenantID: claims.TenantID, Roles: claims.Roles}
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// DevAuthMiddleware runs every request as an admin so a local server works
// without an issuer. It pins no tenant.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if _, ok := IdentityFromContext(ctx); !ok {
				ctx = WithIdentity(ctx, Identity{Subject: "dev-user", Roles: []string{AdminRole}})
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}
