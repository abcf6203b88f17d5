package auth

import "context"

// AdminRole satisfies every role check.
const AdminRole = "admin"

// Identity is the authenticated caller.
type Identity struct {
	Subject  string
	TenantID string
	Roles    []string
}

func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's subject, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

// RolesFromContext returns the caller's roles, or nil when unauthenticated.
func RolesFromContext(ctx context.Context) []string {
	id, _ := IdentityFromContext(ctx)
	return id.Roles
}

// WithUser attaches an identity with no tenant claim.
func WithUser(ctx context.Context, subject string, roles []string) context.Context {
	return WithIdentity(ctx, Identity{Subject: subject, Roles: roles})
}
