package domain

import "context"

// ConfigRepository persists configuration entries.
type ConfigRepository interface {
	// ListForService returns global entries plus entries whose scope names service.
	ListForService(ctx context.Context, service string) ([]ConfigEntry, error)
	// List returns every entry ordered by category, then key.
	List(ctx context.Context) ([]ConfigEntry, error)
	// ListByKey returns every entry with the given key, across all scopes.
	ListByKey(ctx context.Context, key string) ([]ConfigEntry, error)
	// Upsert creates or overwrites the entry identified by (Key, Scope). It
	// fails with InvalidScope when another entry of the same key overlaps.
	Upsert(ctx context.Context, e *ConfigEntry) (*ConfigEntry, error)
	// Replace atomically moves an entry from one scope to another.
	Replace(ctx context.Context, oldScope Scope, e *ConfigEntry) (*ConfigEntry, error)
	// Delete removes exactly the entry identified by (key, scope).
	Delete(ctx context.Context, key string, scope Scope) error
}

// OperationLogRepository appends and reads audit records. Records are never
// updated or deleted.
type OperationLogRepository interface {
	Insert(ctx context.Context, r *OperationLogRecord) error
	List(ctx context.Context, filter OperationLogFilter) ([]OperationLogRecord, int64, error)
}
