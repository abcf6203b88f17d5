package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantKeyCtx contextKey = "tenant_key"
)

// ErrMissingTenant is returned when an operation is attempted without a
// tenant key.
var ErrMissingTenant = errors.New("tenant key is required")

var tenantKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateTenantKey checks that key is a usable tenant identifier.
func ValidateTenantKey(key string) error {
	if key == "" {
		return ErrMissingTenant
	}
	if !tenantKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid tenant key %q", key)
	}
	return nil
}

// GuardRow refuses a row that belongs to a tenant other than the caller's.
func GuardRow(tenantKey, rowTenantKey string) error {
	if err := ValidateTenantKey(tenantKey); err != nil {
		return err
	}
	if rowTenantKey != tenantKey {
		return fmt.Errorf("row belongs to another tenant")
	}
	return nil
}

// TenantMiddleware resolves the active tenant for the request and stores it
// on the request context. It never touches connection state: repositories
// receive the tenant key as an explicit argument on every call.
func TenantMiddleware(defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantKey, err := extractTenantKey(c, defaultTenant)
			if err != nil {
				return echo.NewHTTPError(http.StatusForbidden, err.Error())
			}

			if err := ValidateTenantKey(tenantKey); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := WithTenant(c.Request().Context(), tenantKey)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_key", tenantKey)

			return next(c)
		}
	}
}

// Errors returned when a token-authenticated request cannot be pinned to
// the token's tenant.
var (
	ErrTokenWithoutTenant = errors.New("token carries no tenant")
	ErrTenantMismatch     = errors.New("requested tenant does not match token")
)

// extractTenantKey resolves the tenant for the request. A request that
// passed token authentication is pinned to the token's tenant claim; an
// X-Tenant-ID header or tenant_id query parameter may only repeat it.
// Without a token the header wins over the query parameter, then the
// fallback.
func extractTenantKey(c echo.Context, fallback string) (string, error) {
	header := c.Request().Header.Get("X-Tenant-ID")
	query := c.QueryParam("tenant_id")

	if claim, fromToken := c.Get("jwt_tenant_id").(string); fromToken {
		if claim == "" {
			return "", ErrTokenWithoutTenant
		}
		for _, requested := range []string{header, query} {
			if requested != "" && requested != claim {
				return "", ErrTenantMismatch
			}
		}
		return claim, nil
	}

	for _, candidate := range []string{header, query} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return fallback, nil
}

// WithTenant returns a copy of ctx carrying tenantKey.
func WithTenant(ctx context.Context, tenantKey string) context.Context {
	return context.WithValue(ctx, TenantKeyCtx, tenantKey)
}

// TenantFromContext retrieves the tenant key from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantKeyCtx).(string)
	return tid
}
