package auth

import (
	"context"

	"github.com/google/uuid"
)

// Admin roles.
const (
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// Principal is the authenticated admin behind a request.
type Principal struct {
	AdminID uuid.UUID
	Email   string
	Role    string
}

// IsSuperadmin reports whether p has the superadmin role.
func (p Principal) IsSuperadmin() bool {
	return p.Role == RoleSuperadmin
}

// CanModify reports whether p may change a listing owned by owner.
func (p Principal) CanModify(owner uuid.UUID) bool {
	return p.IsSuperadmin() || (p.AdminID != uuid.Nil && p.AdminID == owner)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
