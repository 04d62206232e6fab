package domain

import "time"

// Role is the coarse authorization tier carried by a token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a raw role claim to a Role. Anything other than "admin"
// is treated as an ordinary user.
func ParseRole(s string) Role {
	if s == string(RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// Principal is the authenticated identity derived from a verified token.
// It is rebuilt on every request and never persisted.
type Principal struct {
	Subject   string
	Email     string
	Role      Role
	ExpiresAt time.Time
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// OperationClass is the authorization tier an operation requires.
type OperationClass int

const (
	Public OperationClass = iota
	ReadAuthenticated
	AdminOnly
)

func (c OperationClass) String() string {
	switch c {
	case Public:
		return "Public"
	case ReadAuthenticated:
		return "ReadAuthenticated"
	case AdminOnly:
		return "AdminOnly"
	default:
		return "Unknown"
	}
}
