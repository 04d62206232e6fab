package domain

import "context"

type principalKey struct{}

type authFailureKey struct{}

// WithPrincipal stores a verified Principal in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the Principal from the context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// WithAuthFailure records that a bearer token was presented but failed
// verification. Public operations ignore it; protected ones surface it.
func WithAuthFailure(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, authFailureKey{}, err)
}

// AuthFailureFromContext returns the token verification failure, if any.
func AuthFailureFromContext(ctx context.Context) error {
	err, _ := ctx.Value(authFailureKey{}).(error)
	return err
}

// ActorFromContext returns the subject and email of the caller, or empty
// strings when the context carries no principal.
func ActorFromContext(ctx context.Context) (subject, email string) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", ""
	}
	return p.Subject, p.Email
}
