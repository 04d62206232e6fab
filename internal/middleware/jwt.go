// Package middleware provides HTTP middleware for bearer-token authentication,
// request IDs, and rate limiting.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"service-agent/internal/domain"
)

const (
	// DefaultAudience is the audience claim issued by the identity provider
	// for signed-in users.
	DefaultAudience = "authenticated"
	// DefaultRoleClaim is the dotted path of the role claim.
	DefaultRoleClaim = "app_metadata.role"
	// DefaultLeeway is the clock skew tolerated on exp/nbf/iat.
	DefaultLeeway = 0 * time.Second
)

// VerifierConfig holds the claim checks shared by every verifier.
type VerifierConfig struct {
	Audience  string
	RoleClaim string
	Leeway    time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c VerifierConfig) withDefaults() VerifierConfig {
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.RoleClaim == "" {
		c.RoleClaim = DefaultRoleClaim
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// HS256Verifier verifies tokens signed with a shared HS256 secret.
type HS256Verifier struct {
	secret []byte
	cfg    VerifierConfig
	parser *jwt.Parser
}

// Compile-time check.
var _ domain.TokenVerifier = (*HS256Verifier)(nil)

// NewHS256Verifier creates a verifier for HS256 tokens.
func NewHS256Verifier(secret string, cfg VerifierConfig) (*HS256Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is required")
	}
	cfg = cfg.withDefaults()
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(cfg.Now),
	)
	return &HS256Verifier{secret: []byte(secret), cfg: cfg, parser: parser}, nil
}

// Verify checks signature, algorithm, audience and expiry, then builds a
// Principal from the claims. Every failure is an InvalidToken AuthError.
func (v *HS256Verifier) Verify(_ context.Context, tokenString string) (*domain.Principal, error) {
	if tokenString == "" {
		return nil, domain.ErrInvalidToken("empty bearer token")
	}

	tok, err := v.parser.Parse(tokenString, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken("token verification failed: %s", describeJWTError(err))
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrInvalidToken("unsupported claim type %T", tok.Claims)
	}
	exp, err := raw.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, domain.ErrInvalidToken("token has no expiry")
	}
	return principalFromClaims(raw, v.cfg.RoleClaim, exp.Time)
}

// OIDCVerifier verifies tokens against an OIDC provider's JWKS.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	cfg      VerifierConfig
}

// Compile-time check.
var _ domain.TokenVerifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers the provider at issuerURL.
func NewOIDCVerifier(ctx context.Context, issuerURL string, cfg VerifierConfig) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	cfg = cfg.withDefaults()
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience, Now: cfg.Now}),
		cfg:      cfg,
	}, nil
}

// NewOIDCVerifierFromJWKS skips discovery and fetches keys from jwksURL.
func NewOIDCVerifierFromJWKS(ctx context.Context, jwksURL, issuerURL string, cfg VerifierConfig) *OIDCVerifier {
	cfg = cfg.withDefaults()
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: cfg.Audience, Now: cfg.Now}),
		cfg:      cfg,
	}
}

// Verify implements domain.TokenVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, tokenString string) (*domain.Principal, error) {
	if tokenString == "" {
		return nil, domain.ErrInvalidToken("empty bearer token")
	}
	idToken, err := v.verifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, domain.ErrInvalidToken("token verification failed: %v", err)
	}
	var raw map[string]interface{}
	if err := idToken.Claims(&raw); err != nil {
		return nil, domain.ErrInvalidToken("parse claims: %v", err)
	}
	return principalFromClaims(raw, v.cfg.RoleClaim, idToken.Expiry)
}

func principalFromClaims(raw map[string]interface{}, roleClaim string, exp time.Time) (*domain.Principal, error) {
	sub, _ := raw["sub"].(string)
	if sub == "" {
		return nil, domain.ErrInvalidToken("token has no subject")
	}
	p := &domain.Principal{
		Subject:   sub,
		Role:      domain.ParseRole(lookupClaim(raw, roleClaim)),
		ExpiresAt: exp,
	}
	if email, ok := raw["email"].(string); ok {
		p.Email = email
	}
	return p, nil
}

// lookupClaim walks a dotted path such as "app_metadata.role" through nested
// claim objects. Missing or non-string values yield "".
func lookupClaim(raw map[string]interface{}, path string) string {
	var cur interface{} = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[part]
	}
	s, _ := cur.(string)
	return s
}

// describeJWTError reduces jwt validation errors to a short reason.
func describeJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable token"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "required claim missing"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not valid yet"
	default:
		return err.Error()
	}
}

// DisabledVerifier rejects every token. It stands in when neither a shared
// secret nor an identity provider is configured, leaving only public
// operations usable.
type DisabledVerifier struct{}

// Compile-time check.
var _ domain.TokenVerifier = DisabledVerifier{}

// Verify implements domain.TokenVerifier.
func (DisabledVerifier) Verify(context.Context, string) (*domain.Principal, error) {
	return nil, domain.ErrInvalidToken("token verification is not configured")
}
