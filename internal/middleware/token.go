package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSpec describes a token to mint for operators and tests.
type TokenSpec struct {
	Subject   string
	Email     string
	Role      string
	Audience  string // default DefaultAudience
	RoleClaim string // default DefaultRoleClaim
	TTL       time.Duration
	Now       time.Time // default time.Now()
}

// MintHS256 signs an HS256 token whose claims match what HS256Verifier
// expects, with the role nested under the dotted RoleClaim path.
func MintHS256(secret string, spec TokenSpec) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret is required")
	}
	if spec.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if spec.TTL <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	if spec.Audience == "" {
		spec.Audience = DefaultAudience
	}
	if spec.RoleClaim == "" {
		spec.RoleClaim = DefaultRoleClaim
	}
	if spec.Now.IsZero() {
		spec.Now = time.Now()
	}

	claims := jwt.MapClaims{
		"sub": spec.Subject,
		"aud": spec.Audience,
		"iat": spec.Now.Unix(),
		"exp": spec.Now.Add(spec.TTL).Unix(),
	}
	if spec.Email != "" {
		claims["email"] = spec.Email
	}
	if spec.Role != "" {
		setClaim(claims, spec.RoleClaim, spec.Role)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// setClaim stores value under a dotted path, creating nested objects.
func setClaim(claims map[string]interface{}, path string, value string) {
	parts := strings.Split(path, ".")
	cur := claims
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
