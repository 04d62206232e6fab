package repository

import (
	"context"
	"fmt"

	"service-agent/internal/domain"
)

// ValueSealer encrypts and decrypts stored values. *crypto.Sealer satisfies it.
type ValueSealer interface {
	Seal(plaintext, label string) (string, error)
	Open(value, label string) (string, error)
}

// Compile-time check.
var _ domain.ConfigRepository = (*SealedConfigRepo)(nil)

// SealedConfigRepo wraps a ConfigRepository so that values of secret entries
// are sealed before they are written and opened after they are read. The
// entry key is the sealing label.
type SealedConfigRepo struct {
	inner  domain.ConfigRepository
	sealer ValueSealer
}

// NewSealedConfigRepo creates a SealedConfigRepo.
func NewSealedConfigRepo(inner domain.ConfigRepository, sealer ValueSealer) *SealedConfigRepo {
	return &SealedConfigRepo{inner: inner, sealer: sealer}
}

func (r *SealedConfigRepo) ListForService(ctx context.Context, service string) ([]domain.ConfigEntry, error) {
	entries, err := r.inner.ListForService(ctx, service)
	if err != nil {
		return nil, err
	}
	return r.openAll(entries)
}

func (r *SealedConfigRepo) List(ctx context.Context) ([]domain.ConfigEntry, error) {
	entries, err := r.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	return r.openAll(entries)
}

func (r *SealedConfigRepo) ListByKey(ctx context.Context, key string) ([]domain.ConfigEntry, error) {
	entries, err := r.inner.ListByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return r.openAll(entries)
}

func (r *SealedConfigRepo) Upsert(ctx context.Context, e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	sealed, err := r.seal(e)
	if err != nil {
		return nil, err
	}
	out, err := r.inner.Upsert(ctx, sealed)
	if err != nil {
		return nil, err
	}
	return out, r.open(out)
}

func (r *SealedConfigRepo) Replace(ctx context.Context, oldScope domain.Scope, e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	sealed, err := r.seal(e)
	if err != nil {
		return nil, err
	}
	out, err := r.inner.Replace(ctx, oldScope, sealed)
	if err != nil {
		return nil, err
	}
	return out, r.open(out)
}

func (r *SealedConfigRepo) Delete(ctx context.Context, key string, scope domain.Scope) error {
	return r.inner.Delete(ctx, key, scope)
}

// seal returns a copy of e with its value sealed when e is secret.
func (r *SealedConfigRepo) seal(e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	if !e.IsSecret {
		return e, nil
	}
	cp := *e
	v, err := r.sealer.Seal(e.Value, e.Key)
	if err != nil {
		return nil, fmt.Errorf("seal config %s: %w", e.Key, err)
	}
	cp.Value = v
	return &cp, nil
}

func (r *SealedConfigRepo) open(e *domain.ConfigEntry) error {
	if !e.IsSecret {
		return nil
	}
	v, err := r.sealer.Open(e.Value, e.Key)
	if err != nil {
		return fmt.Errorf("config %s: %w", e.Key, err)
	}
	e.Value = v
	return nil
}

func (r *SealedConfigRepo) openAll(entries []domain.ConfigEntry) ([]domain.ConfigEntry, error) {
	for i := range entries {
		if err := r.open(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
