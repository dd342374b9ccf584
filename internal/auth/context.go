package auth

import "context"

type contextKey string

const userKey contextKey = "authUser"

// Role describes what kind of principal a token represents.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleDevice Role = "device"
)

// User represents an authenticated principal: an operator account or a
// provisioned device agent.
type User struct {
	Sub  string
	Role Role
	Type TokenType
}

// IsDevice reports whether the principal is a device agent.
func (u User) IsDevice() bool { return u.Role == RoleDevice }

// WithUser stores an authenticated user in the context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if present.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	value := ctx.Value(userKey)
	if value == nil {
		return User{}, false
	}
	user, ok := value.(User)
	return user, ok
}
