// Package security implements the authorization guard every service method
// calls before doing anything else.
package security

import (
	"context"

	"service-agent/internal/domain"
)

// Authorize checks that the caller in ctx may perform an operation of the
// given class.
//
//	Public             anyone, including callers with a bad token
//	ReadAuthenticated  any verified principal
//	AdminOnly          principals with the admin role
//
// A presented-but-rejected token is reported as InvalidToken, a missing one
// as Unauthenticated.
func Authorize(ctx context.Context, class domain.OperationClass) error {
	if class == domain.Public {
		return nil
	}

	p, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		if failure := domain.AuthFailureFromContext(ctx); failure != nil {
			return domain.ErrInvalidToken("invalid bearer token: %v", failure)
		}
		return domain.ErrUnauthenticated("authentication required")
	}

	switch class {
	case domain.ReadAuthenticated:
		return nil
	case domain.AdminOnly:
		if !p.IsAdmin() {
			return domain.ErrForbidden("admin role required")
		}
		return nil
	default:
		return domain.ErrForbidden("unknown operation class %s", class)
	}
}
