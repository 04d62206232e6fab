package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// GlobalScope is the scope marker for entries visible to every service.
const GlobalScope = "*"

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// ValidateServiceName checks that name is a well-formed service name.
func ValidateServiceName(name string) error {
	if !serviceNamePattern.MatchString(name) {
		return ErrValidation("invalid service name %q", name)
	}
	return nil
}

// Scope is either global or a non-empty set of service names. The zero
// value is invalid; build scopes with ParseScope.
type Scope struct {
	services []string // sorted, unique; nil for global
	global   bool
}

// Global returns the global scope.
func Global() Scope { return Scope{global: true} }

// ParseScope builds a canonical Scope from raw members. A single "*" means
// global; "*" may not be combined with service names.
func ParseScope(members []string) (Scope, error) {
	if len(members) == 0 {
		return Scope{}, ErrInvalidScope("scope must not be empty")
	}
	seen := make(map[string]bool, len(members))
	var names []string
	hasGlobal := false
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == GlobalScope {
			hasGlobal = true
			continue
		}
		if !serviceNamePattern.MatchString(m) {
			return Scope{}, ErrInvalidScope("invalid scope member %q", m)
		}
		if !seen[m] {
			seen[m] = true
			names = append(names, m)
		}
	}
	if hasGlobal {
		if len(names) > 0 {
			return Scope{}, ErrInvalidScope("global scope %q cannot be combined with service names", GlobalScope)
		}
		return Global(), nil
	}
	sort.Strings(names)
	return Scope{services: names}, nil
}

// ParseScopeString parses the canonical comma-joined form produced by String.
func ParseScopeString(s string) (Scope, error) {
	return ParseScope(strings.Split(s, ","))
}

// IsGlobal reports whether the scope applies to every service.
func (s Scope) IsGlobal() bool { return s.global }

// IsZero reports whether the scope was never set.
func (s Scope) IsZero() bool { return !s.global && len(s.services) == 0 }

// Services returns the service names of a non-global scope.
func (s Scope) Services() []string {
	return append([]string(nil), s.services...)
}

// Members returns the scope as a list, with "*" for global.
func (s Scope) Members() []string {
	if s.global {
		return []string{GlobalScope}
	}
	return s.Services()
}

// Contains reports whether service is explicitly named by the scope.
// It is false for the global scope.
func (s Scope) Contains(service string) bool {
	i := sort.SearchStrings(s.services, service)
	return i < len(s.services) && s.services[i] == service
}

// Overlaps reports whether two non-global scopes name a common service.
func (s Scope) Overlaps(other Scope) bool {
	if s.global || other.global {
		return false
	}
	for _, name := range s.services {
		if other.Contains(name) {
			return true
		}
	}
	return false
}

// String returns the canonical storage form.
func (s Scope) String() string {
	if s.global {
		return GlobalScope
	}
	return strings.Join(s.services, ",")
}

// ConfigEntry is a configuration key/value bound to a scope. Its identity
// is (Key, Scope); a key is unique within a scope.
type ConfigEntry struct {
	ID          string
	Key         string
	Value       string
	Scope       Scope
	IsSecret    bool
	Category    *string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UpdatedBy   string
}

// UpsertConfigRequest holds parameters for creating or overwriting an entry.
type UpsertConfigRequest struct {
	Key         string
	Value       string
	Scope       []string
	IsSecret    bool
	Category    *string
	Description *string
}

// Validate checks that the request is well-formed and returns the parsed scope.
func (r *UpsertConfigRequest) Validate() (Scope, error) {
	if strings.TrimSpace(r.Key) == "" {
		return Scope{}, ErrValidation("key is required")
	}
	return ParseScope(r.Scope)
}

// PatchConfigRequest holds optional field updates for an existing entry.
type PatchConfigRequest struct {
	Value       *string
	Scope       []string // nil leaves the scope unchanged
	IsSecret    *bool
	Category    *string
	Description *string
}

// UpsertResult is returned by mutating config operations.
type UpsertResult struct {
	Entry      *ConfigEntry
	AuditError string
}

// RemoveResult is returned by a config delete.
type RemoveResult struct {
	Key        string
	Scope      Scope
	AuditError string
}
