package configuration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "service-agent/internal/db"
	"service-agent/internal/db/repository"
	"service-agent/internal/domain"
	"service-agent/internal/service/audit"
	"service-agent/internal/testutil"
)

type fixture struct {
	resolver *Resolver
	logs     *testutil.MockOperationLogRepo
}

// setup wires the resolver to a real migrated SQLite store. Tests using it
// must not run in parallel: goose keeps package-level state.
func setup(t *testing.T) fixture {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	logs := &testutil.MockOperationLogRepo{}
	reg := &testutil.StaticRegistry{CategoryList: []string{"shared", "billing"}}
	r := NewResolver(repository.NewConfigRepo(writeDB, readDB), reg, audit.NewRecorder(logs, nil), nil)
	return fixture{resolver: r, logs: logs}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool { return &b }

func upsert(t *testing.T, r *Resolver, key, value string, scope ...string) {
	t.Helper()
	_, err := r.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{Key: key, Value: value, Scope: scope})
	require.NoError(t, err)
}

func kindOf(err error) string { return domain.ErrorKind(err) }

func TestResolve_ScopedOverridesGlobal(t *testing.T) {
	f := setup(t)

	upsert(t, f.resolver, "LOG_LEVEL", "info", "*")
	upsert(t, f.resolver, "LOG_LEVEL", "debug", "billing")
	upsert(t, f.resolver, "DB_URL", "postgres://billing", "billing", "invoicing")
	upsert(t, f.resolver, "SHIPPING_ONLY", "x", "shipping")

	got, err := f.resolver.Resolve(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"LOG_LEVEL": "debug",
		"DB_URL":    "postgres://billing",
	}, got)

	got, err = f.resolver.Resolve(context.Background(), "shipping")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"LOG_LEVEL":     "info",
		"SHIPPING_ONLY": "x",
	}, got)
}

func TestResolve_NoEntriesIsEmptyMap(t *testing.T) {
	f := setup(t)

	got, err := f.resolver.Resolve(context.Background(), "unknown-service")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestResolve_NoPrefixLeakage(t *testing.T) {
	f := setup(t)

	upsert(t, f.resolver, "TOKEN", "for-bill", "bill")

	got, err := f.resolver.Resolve(context.Background(), "billing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_InvalidServiceName(t *testing.T) {
	f := setup(t)

	_, err := f.resolver.Resolve(context.Background(), "Bad Name")
	assert.Equal(t, "Validation", kindOf(err))
}

func TestResolve_IgnoresBadToken(t *testing.T) {
	f := setup(t)
	upsert(t, f.resolver, "A", "1", "*")

	ctx := domain.WithAuthFailure(context.Background(), domain.ErrInvalidToken("expired"))
	got, err := f.resolver.Resolve(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "1", got["A"])
}

func TestUpsert_AuthorizationAndNoAuditOnRejection(t *testing.T) {
	f := setup(t)
	req := domain.UpsertConfigRequest{Key: "A", Value: "1", Scope: []string{"*"}}

	_, err := f.resolver.Upsert(context.Background(), req)
	assert.Equal(t, "Unauthenticated", kindOf(err))

	_, err = f.resolver.Upsert(testutil.UserCtx(), req)
	assert.Equal(t, "Forbidden", kindOf(err))

	_, err = f.resolver.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{Key: "A", Value: "1"})
	assert.Equal(t, "InvalidScope", kindOf(err))

	_, err = f.resolver.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{Value: "1", Scope: []string{"*"}})
	assert.Equal(t, "Validation", kindOf(err))

	assert.Empty(t, f.logs.Records())
}

func TestUpsert_AuditsAndMasksSecret(t *testing.T) {
	f := setup(t)

	res, err := f.resolver.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{
		Key:      "API_KEY",
		Value:    "sk-live-abcdef",
		Scope:    []string{"billing"},
		IsSecret: true,
		Category: strPtr("billing"),
	})
	require.NoError(t, err)
	assert.Equal(t, "••••••def", res.Entry.Value)
	assert.Equal(t, "admin-1", res.Entry.UpdatedBy)
	assert.Empty(t, res.AuditError)

	rec := f.logs.Last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.OpConfigUpsert, rec.Operation)
	assert.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	assert.Nil(t, rec.TargetService)
	require.NotNil(t, rec.Detail)
	assert.NotContains(t, *rec.Detail, "sk-live")

	// Resolution still sees the real value.
	got, err := f.resolver.Resolve(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abcdef", got["API_KEY"])
}

func TestUpsert_OverlapIsRejectedAndAudited(t *testing.T) {
	f := setup(t)
	upsert(t, f.resolver, "TOKEN", "a", "billing", "mcp")

	_, err := f.resolver.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{
		Key: "TOKEN", Value: "b", Scope: []string{"mcp"},
	})
	assert.Equal(t, "InvalidScope", kindOf(err))

	recs := f.logs.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, domain.OutcomeFailure, recs[1].Outcome)
}

func TestUpsert_AuditFailureIsReported(t *testing.T) {
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	logs := &testutil.MockOperationLogRepo{
		InsertFn: func(context.Context, *domain.OperationLogRecord) error { return errors.New("log store down") },
	}
	r := NewResolver(repository.NewConfigRepo(writeDB, readDB), &testutil.StaticRegistry{}, audit.NewRecorder(logs, nil), nil)

	res, err := r.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{Key: "A", Value: "1", Scope: []string{"*"}})
	require.NoError(t, err)
	assert.Contains(t, res.AuditError, "log store down")

	got, err := r.Resolve(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "1", got["A"])
}

func TestUpsert_StoreFailureIsFullFailure(t *testing.T) {
	logs := &testutil.MockOperationLogRepo{}
	repo := &testutil.MockConfigRepo{
		UpsertFn: func(context.Context, *domain.ConfigEntry) (*domain.ConfigEntry, error) {
			return nil, errors.New("database is locked")
		},
	}
	r := NewResolver(repo, &testutil.StaticRegistry{}, audit.NewRecorder(logs, nil), nil)

	_, err := r.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{Key: "A", Value: "1", Scope: []string{"*"}})
	require.Error(t, err)

	rec := logs.Last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.OutcomeFailure, rec.Outcome)
	assert.Contains(t, *rec.Detail, "database is locked")
}

func TestListAll_MasksAndRequiresAdmin(t *testing.T) {
	f := setup(t)
	upsert(t, f.resolver, "PLAIN", "visible", "*")
	_, err := f.resolver.Upsert(testutil.AdminCtx(), domain.UpsertConfigRequest{
		Key: "SECRET", Value: "ab", Scope: []string{"*"}, IsSecret: true,
	})
	require.NoError(t, err)

	_, err = f.resolver.ListAll(testutil.UserCtx())
	assert.Equal(t, "Forbidden", kindOf(err))

	entries, err := f.resolver.ListAll(testutil.AdminCtx())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	values := map[string]string{}
	for _, e := range entries {
		values[e.Key] = e.Value
	}
	assert.Equal(t, "visible", values["PLAIN"])
	assert.Equal(t, "••••••", values["SECRET"])
}

func TestPatch_MergesFieldsAndMovesScope(t *testing.T) {
	f := setup(t)
	upsert(t, f.resolver, "TOKEN", "a", "billing")

	res, err := f.resolver.Patch(testutil.AdminCtx(), "TOKEN", nil, domain.PatchConfigRequest{
		Scope:       []string{"billing", "mcp"},
		Description: strPtr("shared token"),
	})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Entry.Value)
	assert.Equal(t, "billing,mcp", res.Entry.Scope.String())
	require.NotNil(t, res.Entry.Description)
	assert.Equal(t, "shared token", *res.Entry.Description)

	res, err = f.resolver.Patch(testutil.AdminCtx(), "TOKEN", []string{"mcp", "billing"}, domain.PatchConfigRequest{
		Value:    strPtr("secret-value"),
		IsSecret: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "••••••lue", res.Entry.Value)

	got, err := f.resolver.Resolve(context.Background(), "mcp")
	require.NoError(t, err)
	assert.Equal(t, "secret-value", got["TOKEN"])

	last := f.logs.Last()
	require.NotNil(t, last)
	assert.Equal(t, domain.OpConfigUpdate, last.Operation)
}

func TestPatch_NotFoundAndAmbiguous(t *testing.T) {
	f := setup(t)

	_, err := f.resolver.Patch(testutil.AdminCtx(), "MISSING", nil, domain.PatchConfigRequest{Value: strPtr("x")})
	assert.Equal(t, "NotFound", kindOf(err))

	upsert(t, f.resolver, "TOKEN", "g", "*")
	upsert(t, f.resolver, "TOKEN", "b", "billing")
	_, err = f.resolver.Patch(testutil.AdminCtx(), "TOKEN", nil, domain.PatchConfigRequest{Value: strPtr("x")})
	assert.Equal(t, "InvalidScope", kindOf(err))
}

func TestRemove(t *testing.T) {
	f := setup(t)

	_, err := f.resolver.Remove(testutil.AdminCtx(), "TOKEN", nil)
	assert.Equal(t, "NotFound", kindOf(err))

	upsert(t, f.resolver, "TOKEN", "g", "*")
	upsert(t, f.resolver, "TOKEN", "b", "billing")

	_, err = f.resolver.Remove(testutil.AdminCtx(), "TOKEN", nil)
	assert.Equal(t, "InvalidScope", kindOf(err))

	_, err = f.resolver.Remove(testutil.AdminCtx(), "TOKEN", []string{"shipping"})
	assert.Equal(t, "NotFound", kindOf(err))

	res, err := f.resolver.Remove(testutil.AdminCtx(), "TOKEN", []string{"billing"})
	require.NoError(t, err)
	assert.Equal(t, "billing", res.Scope.String())

	res, err = f.resolver.Remove(testutil.AdminCtx(), "TOKEN", nil)
	require.NoError(t, err)
	assert.True(t, res.Scope.IsGlobal())

	_, err = f.resolver.Remove(testutil.UserCtx(), "TOKEN", nil)
	assert.Equal(t, "Forbidden", kindOf(err))

	var success, failure int
	for _, rec := range f.logs.Records() {
		if rec.Operation != domain.OpConfigDelete {
			continue
		}
		if rec.Outcome == domain.OutcomeSuccess {
			success++
		} else {
			failure++
		}
	}
	assert.Equal(t, 2, success)
	assert.Equal(t, 3, failure)
}

func TestCategories(t *testing.T) {
	f := setup(t)

	_, err := f.resolver.Categories(context.Background())
	assert.Equal(t, "Unauthenticated", kindOf(err))

	cats, err := f.resolver.Categories(testutil.AdminCtx())
	require.NoError(t, err)
	assert.Equal(t, []string{"shared", "billing"}, cats)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "••••••", MaskSecret(""))
	assert.Equal(t, "••••••", MaskSecret("abc"))
	assert.Equal(t, "••••••bcd", MaskSecret("abcd"))
	assert.Equal(t, "••••••äöü", MaskSecret("xäöü"))
}
