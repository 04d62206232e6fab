// Package configuration resolves and manages per-service configuration.
package configuration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"service-agent/internal/domain"
	"service-agent/internal/service/audit"
	"service-agent/internal/service/security"
)

const secretMask = "••••••"

// Resolver serves configuration reads to services and configuration writes
// to admins.
type Resolver struct {
	repo     domain.ConfigRepository
	registry domain.ServiceRegistry
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Compile-time check.
var _ domain.ConfigSource = (*Resolver)(nil)

// NewResolver creates a Resolver.
func NewResolver(repo domain.ConfigRepository, registry domain.ServiceRegistry, rec *audit.Recorder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		repo:     repo,
		registry: registry,
		audit:    rec,
		logger:   logger.With("component", "configuration"),
		now:      time.Now,
	}
}

// Resolve returns the effective key/value map for service: global entries,
// overridden by entries whose scope names the service. Public.
func (r *Resolver) Resolve(ctx context.Context, service string) (map[string]string, error) {
	if err := security.Authorize(ctx, domain.Public); err != nil {
		return nil, err
	}
	if err := domain.ValidateServiceName(service); err != nil {
		return nil, err
	}

	entries, err := r.repo.ListForService(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("resolve config for %s: %w", service, err)
	}

	out := make(map[string]string, len(entries))
	// Two passes so a scoped value always wins regardless of row order.
	for _, e := range entries {
		if e.Scope.IsGlobal() {
			out[e.Key] = e.Value
		}
	}
	for _, e := range entries {
		if !e.Scope.IsGlobal() && e.Scope.Contains(service) {
			out[e.Key] = e.Value
		}
	}
	return out, nil
}

// ResolveEnv implements domain.ConfigSource for the service controller.
func (r *Resolver) ResolveEnv(ctx context.Context, service string) (map[string]string, error) {
	return r.Resolve(ctx, service)
}

// ListAll returns every entry ordered by category then key, with secret
// values masked. Admin only.
func (r *Resolver) ListAll(ctx context.Context) ([]domain.ConfigEntry, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, err
	}
	entries, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	for i := range entries {
		maskEntry(&entries[i])
	}
	return entries, nil
}

// Categories returns the configuration categories declared in the registry.
// Admin only.
func (r *Resolver) Categories(ctx context.Context) ([]string, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, err
	}
	return r.registry.Categories(), nil
}

// Upsert creates or overwrites the entry identified by (key, scope). Admin only.
func (r *Resolver) Upsert(ctx context.Context, req domain.UpsertConfigRequest) (*domain.UpsertResult, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, err
	}
	scope, err := req.Validate()
	if err != nil {
		return nil, err
	}

	actor, email := domain.ActorFromContext(ctx)
	entry := &domain.ConfigEntry{
		Key:         strings.TrimSpace(req.Key),
		Value:       req.Value,
		Scope:       scope,
		IsSecret:    req.IsSecret,
		Category:    req.Category,
		Description: req.Description,
		UpdatedAt:   r.now().UTC(),
		UpdatedBy:   actor,
	}

	saved, err := r.repo.Upsert(ctx, entry)
	auditErr := r.record(ctx, domain.OpConfigUpsert, entry.Key, scope, err)
	if err != nil {
		return nil, err
	}

	r.logger.Info("config upserted", "key", saved.Key, "scope", saved.Scope.String(), "by", email)
	maskEntry(saved)
	return &domain.UpsertResult{Entry: saved, AuditError: audit.Error(auditErr)}, nil
}

// Patch merges the non-nil fields of req into the entry at (key, scope).
// A nil scope selects the key's only entry. Admin only.
func (r *Resolver) Patch(ctx context.Context, key string, scope []string, req domain.PatchConfigRequest) (*domain.UpsertResult, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, domain.ErrValidation("key is required")
	}
	var newScope *domain.Scope
	if req.Scope != nil {
		s, err := domain.ParseScope(req.Scope)
		if err != nil {
			return nil, err
		}
		newScope = &s
	}
	if scope != nil {
		if _, err := domain.ParseScope(scope); err != nil {
			return nil, err
		}
	}

	current, err := r.locate(ctx, key, scope)
	if err != nil {
		// Recorder logs its own write failures; the caller only sees err.
		_ = r.record(ctx, domain.OpConfigUpdate, key, domain.Scope{}, err)
		return nil, err
	}

	actor, email := domain.ActorFromContext(ctx)
	merged := *current
	if req.Value != nil {
		merged.Value = *req.Value
	}
	if newScope != nil {
		merged.Scope = *newScope
	}
	if req.IsSecret != nil {
		merged.IsSecret = *req.IsSecret
	}
	if req.Category != nil {
		merged.Category = req.Category
	}
	if req.Description != nil {
		merged.Description = req.Description
	}
	merged.UpdatedAt = r.now().UTC()
	merged.UpdatedBy = actor

	saved, err := r.repo.Replace(ctx, current.Scope, &merged)
	auditErr := r.record(ctx, domain.OpConfigUpdate, key, merged.Scope, err)
	if err != nil {
		return nil, err
	}

	r.logger.Info("config updated", "key", key, "scope", saved.Scope.String(), "by", email)
	maskEntry(saved)
	return &domain.UpsertResult{Entry: saved, AuditError: audit.Error(auditErr)}, nil
}

// Remove deletes the entry at (key, scope). With a nil scope the key must
// exist in exactly one scope; several matches are ambiguous. Admin only.
func (r *Resolver) Remove(ctx context.Context, key string, scope []string) (*domain.RemoveResult, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, domain.ErrValidation("key is required")
	}
	if scope != nil {
		if _, err := domain.ParseScope(scope); err != nil {
			return nil, err
		}
	}

	target, err := r.locate(ctx, key, scope)
	if err == nil {
		err = r.repo.Delete(ctx, key, target.Scope)
	}

	var targetScope domain.Scope
	if target != nil {
		targetScope = target.Scope
	}
	auditErr := r.record(ctx, domain.OpConfigDelete, key, targetScope, err)
	if err != nil {
		return nil, err
	}

	actor, _ := domain.ActorFromContext(ctx)
	r.logger.Info("config deleted", "key", key, "scope", targetScope.String(), "by", actor)
	return &domain.RemoveResult{Key: key, Scope: targetScope, AuditError: audit.Error(auditErr)}, nil
}

// locate finds the entry a mutation targets. scope must already be valid.
func (r *Resolver) locate(ctx context.Context, key string, scope []string) (*domain.ConfigEntry, error) {
	entries, err := r.repo.ListByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up config %s: %w", key, err)
	}

	if scope != nil {
		want, err := domain.ParseScope(scope)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			if entries[i].Scope.String() == want.String() {
				return &entries[i], nil
			}
		}
		return nil, domain.ErrConfigNotFound("configuration %q not found in scope %q", key, want.String())
	}

	switch len(entries) {
	case 0:
		return nil, domain.ErrConfigNotFound("configuration %q not found", key)
	case 1:
		return &entries[0], nil
	default:
		scopes := make([]string, len(entries))
		for i, e := range entries {
			scopes[i] = e.Scope.String()
		}
		return nil, domain.ErrInvalidScope("configuration %q exists in several scopes (%s); specify one",
			key, strings.Join(scopes, " | "))
	}
}

func (r *Resolver) record(ctx context.Context, op domain.OperationKind, key string, scope domain.Scope, opErr error) error {
	outcome := domain.OutcomeSuccess
	detail := fmt.Sprintf("key=%s", key)
	if !scope.IsZero() {
		detail += " scope=" + scope.String()
	}
	if opErr != nil {
		outcome = domain.OutcomeFailure
		var kinded domain.KindedError
		if errors.As(opErr, &kinded) {
			detail += fmt.Sprintf(" error=%s: %s", kinded.Kind(), kinded.Error())
		} else {
			detail += " error=" + opErr.Error()
		}
	}
	return r.audit.Record(ctx, audit.Record{
		Operation: op,
		Outcome:   outcome,
		Detail:    detail,
	})
}

// MaskSecret hides all but the last three characters of a secret value.
func MaskSecret(value string) string {
	runes := []rune(value)
	if len(runes) <= 3 {
		return secretMask
	}
	return secretMask + string(runes[len(runes)-3:])
}

func maskEntry(e *domain.ConfigEntry) {
	if e.IsSecret {
		e.Value = MaskSecret(e.Value)
	}
}
