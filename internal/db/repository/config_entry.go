package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"service-agent/internal/domain"
)

// Compile-time check.
var _ domain.ConfigRepository = (*ConfigRepo)(nil)

const configColumns = `id, key, scope, value, is_secret, category, description, created_at, updated_at, updated_by`

// ConfigRepo implements domain.ConfigRepository backed by SQLite. Lists run
// on the read pool; Upsert/Replace/Delete run on the write pool, which
// serializes them.
type ConfigRepo struct {
	db     *sql.DB
	readDB *sql.DB
}

// NewConfigRepo creates a new ConfigRepo over a write/read pool pair.
func NewConfigRepo(writeDB, readDB *sql.DB) *ConfigRepo {
	return &ConfigRepo{db: writeDB, readDB: readDB}
}

// ListForService returns global entries and entries whose scope names service.
// Scope membership is matched on whole comma-separated members, never on
// substrings or LIKE patterns.
func (r *ConfigRepo) ListForService(ctx context.Context, service string) ([]domain.ConfigEntry, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+configColumns+` FROM config_entries
		 WHERE scope = ? OR instr(',' || scope || ',', ',' || ? || ',') > 0
		 ORDER BY key, scope`,
		domain.GlobalScope, service)
	if err != nil {
		return nil, fmt.Errorf("list config for %s: %w", service, err)
	}
	return scanConfigRows(rows)
}

// List returns every entry ordered by category, then key.
func (r *ConfigRepo) List(ctx context.Context) ([]domain.ConfigEntry, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+configColumns+` FROM config_entries ORDER BY COALESCE(category, ''), key, scope`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	return scanConfigRows(rows)
}

// ListByKey returns every entry with key, across all scopes.
func (r *ConfigRepo) ListByKey(ctx context.Context, key string) ([]domain.ConfigEntry, error) {
	return listByKey(ctx, r.readDB, key)
}

// Upsert creates or overwrites the entry identified by (Key, Scope) inside a
// single immediate transaction, after checking that no other scope of the
// same key would also apply to one of the named services.
func (r *ConfigRepo) Upsert(ctx context.Context, e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin config upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := checkScopeOverlap(ctx, tx, e.Key, e.Scope, e.Scope); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO config_entries (`+configColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (key, scope) DO UPDATE SET
		   value = excluded.value,
		   is_secret = excluded.is_secret,
		   category = excluded.category,
		   description = excluded.description,
		   updated_at = excluded.updated_at,
		   updated_by = excluded.updated_by`,
		domain.NewID(), e.Key, e.Scope.String(), e.Value, boolToInt(e.IsSecret),
		nullString(e.Category), nullString(e.Description),
		e.UpdatedAt, e.UpdatedAt, e.UpdatedBy)
	if err != nil {
		return nil, mapDBError(err)
	}

	out, err := getByKeyScope(ctx, tx, e.Key, e.Scope)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit config upsert: %w", err)
	}
	return out, nil
}

// Replace moves the entry at (e.Key, oldScope) to e.Scope and applies the
// other fields of e, keeping its ID and creation time.
func (r *ConfigRepo) Replace(ctx context.Context, oldScope domain.Scope, e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin config replace tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := getByKeyScope(ctx, tx, e.Key, oldScope)
	if err != nil {
		return nil, err
	}
	if err := checkScopeOverlap(ctx, tx, e.Key, e.Scope, oldScope); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE config_entries
		 SET scope = ?, value = ?, is_secret = ?, category = ?, description = ?, updated_at = ?, updated_by = ?
		 WHERE id = ?`,
		e.Scope.String(), e.Value, boolToInt(e.IsSecret),
		nullString(e.Category), nullString(e.Description),
		e.UpdatedAt, e.UpdatedBy, current.ID)
	if err != nil {
		return nil, mapDBError(err)
	}

	out, err := getByKeyScope(ctx, tx, e.Key, e.Scope)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit config replace: %w", err)
	}
	return out, nil
}

// Delete removes exactly the entry identified by (key, scope).
func (r *ConfigRepo) Delete(ctx context.Context, key string, scope domain.Scope) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM config_entries WHERE key = ? AND scope = ?`, key, scope.String())
	if err != nil {
		return fmt.Errorf("delete config %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete config %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrConfigNotFound("configuration %q not found in scope %q", key, scope.String())
	}
	return nil
}

// checkScopeOverlap rejects scope when another entry of key (other than the
// one at self) already applies to one of its services, or already occupies
// the same scope.
func checkScopeOverlap(ctx context.Context, q dbtx, key string, scope, self domain.Scope) error {
	existing, err := listByKey(ctx, q, key)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.Scope.String() == self.String() {
			continue
		}
		if other.Scope.String() == scope.String() {
			return domain.ErrInvalidScope("configuration %q already exists in scope %q", key, scope.String())
		}
		if scope.Overlaps(other.Scope) {
			return domain.ErrInvalidScope("configuration %q: scope %q overlaps existing scope %q",
				key, scope.String(), other.Scope.String())
		}
	}
	return nil
}

func listByKey(ctx context.Context, q dbtx, key string) ([]domain.ConfigEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+configColumns+` FROM config_entries WHERE key = ? ORDER BY scope`, key)
	if err != nil {
		return nil, fmt.Errorf("list config by key %s: %w", key, err)
	}
	return scanConfigRows(rows)
}

func getByKeyScope(ctx context.Context, q dbtx, key string, scope domain.Scope) (*domain.ConfigEntry, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM config_entries WHERE key = ? AND scope = ?`, key, scope.String())
	e, err := scanConfigEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrConfigNotFound("configuration %q not found in scope %q", key, scope.String())
		}
		return nil, mapDBError(err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfigEntry(s rowScanner) (*domain.ConfigEntry, error) {
	var (
		e           domain.ConfigEntry
		scope       string
		isSecret    int64
		category    sql.NullString
		description sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Key, &scope, &e.Value, &isSecret, &category, &description,
		&e.CreatedAt, &e.UpdatedAt, &e.UpdatedBy); err != nil {
		return nil, err
	}
	parsed, err := domain.ParseScopeString(scope)
	if err != nil {
		// Rows are only written through ParseScope, so this indicates manual edits.
		slog.Default().Warn("invalid stored config scope", "key", e.Key, "scope", scope, "error", err)
		return nil, fmt.Errorf("config %s: stored scope %q: %w", e.Key, scope, err)
	}
	e.Scope = parsed
	e.IsSecret = isSecret != 0
	e.Category = stringPtr(category)
	e.Description = stringPtr(description)
	return &e, nil
}

func scanConfigRows(rows *sql.Rows) ([]domain.ConfigEntry, error) {
	defer rows.Close()

	var out []domain.ConfigEntry
	for rows.Next() {
		e, err := scanConfigEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
