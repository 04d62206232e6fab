package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"service-agent/internal/domain"
)

// Authenticate verifies the bearer token, if any, and stores the result in
// the request context. It never rejects a request itself: public operations
// must stay reachable without a token, so the decision belongs to the
// authorization guard in each service method.
//
// A valid token attaches a domain.Principal. A token that fails verification
// attaches the failure instead, so protected operations can report
// InvalidToken rather than Unauthenticated.
func Authenticate(verifier domain.TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := bearerToken(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			p, err := verifier.Verify(ctx, token)
			if err != nil {
				logger.Debug("bearer token rejected",
					"error", err,
					"request_id", RequestIDFromContext(ctx))
				next.ServeHTTP(w, r.WithContext(domain.WithAuthFailure(ctx, err)))
				return
			}
			next.ServeHTTP(w, r.WithContext(domain.WithPrincipal(ctx, p)))
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
// present is true whenever an Authorization header was sent, even if it is
// malformed, so a garbled header is treated as an invalid token.
func bearerToken(r *http.Request) (token string, present bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", false
	}
	scheme, rest, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(rest), true
}
