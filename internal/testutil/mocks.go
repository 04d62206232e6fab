// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase.
package testutil

import (
	"context"
	"sync"

	"service-agent/internal/domain"
)

// AdminCtx returns a context carrying an admin principal.
func AdminCtx() context.Context {
	return domain.WithPrincipal(context.Background(), &domain.Principal{
		Subject: "admin-1",
		Email:   "admin@example.com",
		Role:    domain.RoleAdmin,
	})
}

// UserCtx returns a context carrying a non-admin principal.
func UserCtx() context.Context {
	return domain.WithPrincipal(context.Background(), &domain.Principal{
		Subject: "user-1",
		Email:   "user@example.com",
		Role:    domain.RoleUser,
	})
}

// === Operation Log Repository Mock ===

// MockOperationLogRepo implements domain.OperationLogRepository. It is safe
// for concurrent use.
type MockOperationLogRepo struct {
	InsertFn func(ctx context.Context, r *domain.OperationLogRecord) error
	ListFn   func(ctx context.Context, filter domain.OperationLogFilter) ([]domain.OperationLogRecord, int64, error)

	mu      sync.Mutex
	records []domain.OperationLogRecord
}

// Insert collects r unless InsertFn returns an error.
func (m *MockOperationLogRepo) Insert(ctx context.Context, r *domain.OperationLogRecord) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

// List implements the interface method for testing.
func (m *MockOperationLogRepo) List(ctx context.Context, filter domain.OperationLogFilter) ([]domain.OperationLogRecord, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	recs := m.Records()
	return recs, int64(len(recs)), nil
}

// Records returns a copy of every collected record.
func (m *MockOperationLogRepo) Records() []domain.OperationLogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OperationLogRecord(nil), m.records...)
}

// Last returns the most recent record, or nil if none.
func (m *MockOperationLogRepo) Last() *domain.OperationLogRecord {
	recs := m.Records()
	if len(recs) == 0 {
		return nil
	}
	return &recs[len(recs)-1]
}

var _ domain.OperationLogRepository = (*MockOperationLogRepo)(nil)

// === Config Repository Mock ===

// MockConfigRepo implements domain.ConfigRepository for testing.
type MockConfigRepo struct {
	ListForServiceFn func(ctx context.Context, service string) ([]domain.ConfigEntry, error)
	ListFn           func(ctx context.Context) ([]domain.ConfigEntry, error)
	ListByKeyFn      func(ctx context.Context, key string) ([]domain.ConfigEntry, error)
	UpsertFn         func(ctx context.Context, e *domain.ConfigEntry) (*domain.ConfigEntry, error)
	ReplaceFn        func(ctx context.Context, oldScope domain.Scope, e *domain.ConfigEntry) (*domain.ConfigEntry, error)
	DeleteFn         func(ctx context.Context, key string, scope domain.Scope) error
}

func (m *MockConfigRepo) ListForService(ctx context.Context, service string) ([]domain.ConfigEntry, error) {
	if m.ListForServiceFn != nil {
		return m.ListForServiceFn(ctx, service)
	}
	panic("unexpected call to MockConfigRepo.ListForService")
}

func (m *MockConfigRepo) List(ctx context.Context) ([]domain.ConfigEntry, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	panic("unexpected call to MockConfigRepo.List")
}

func (m *MockConfigRepo) ListByKey(ctx context.Context, key string) ([]domain.ConfigEntry, error) {
	if m.ListByKeyFn != nil {
		return m.ListByKeyFn(ctx, key)
	}
	panic("unexpected call to MockConfigRepo.ListByKey")
}

func (m *MockConfigRepo) Upsert(ctx context.Context, e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, e)
	}
	panic("unexpected call to MockConfigRepo.Upsert")
}

func (m *MockConfigRepo) Replace(ctx context.Context, oldScope domain.Scope, e *domain.ConfigEntry) (*domain.ConfigEntry, error) {
	if m.ReplaceFn != nil {
		return m.ReplaceFn(ctx, oldScope, e)
	}
	panic("unexpected call to MockConfigRepo.Replace")
}

func (m *MockConfigRepo) Delete(ctx context.Context, key string, scope domain.Scope) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, key, scope)
	}
	panic("unexpected call to MockConfigRepo.Delete")
}

var _ domain.ConfigRepository = (*MockConfigRepo)(nil)

// === Container Executor Mock ===

// MockExecutor implements domain.ContainerExecutor for testing.
type MockExecutor struct {
	InvokeFn      func(ctx context.Context, svc domain.ServiceDescriptor, verb domain.Verb, env map[string]string) (domain.ExecResult, error)
	QueryStatusFn func(ctx context.Context, svc domain.ServiceDescriptor) (domain.ServiceStatus, error)
	LogsFn        func(ctx context.Context, svc domain.ServiceDescriptor, req domain.LogsRequest) (string, error)

	mu    sync.Mutex
	verbs []domain.Verb
}

func (m *MockExecutor) Invoke(ctx context.Context, svc domain.ServiceDescriptor, verb domain.Verb, env map[string]string) (domain.ExecResult, error) {
	m.mu.Lock()
	m.verbs = append(m.verbs, verb)
	m.mu.Unlock()
	if m.InvokeFn != nil {
		return m.InvokeFn(ctx, svc, verb, env)
	}
	panic("unexpected call to MockExecutor.Invoke")
}

func (m *MockExecutor) QueryStatus(ctx context.Context, svc domain.ServiceDescriptor) (domain.ServiceStatus, error) {
	if m.QueryStatusFn != nil {
		return m.QueryStatusFn(ctx, svc)
	}
	panic("unexpected call to MockExecutor.QueryStatus")
}

func (m *MockExecutor) Logs(ctx context.Context, svc domain.ServiceDescriptor, req domain.LogsRequest) (string, error) {
	if m.LogsFn != nil {
		return m.LogsFn(ctx, svc, req)
	}
	panic("unexpected call to MockExecutor.Logs")
}

// Verbs returns the verbs passed to Invoke, in call order.
func (m *MockExecutor) Verbs() []domain.Verb {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Verb(nil), m.verbs...)
}

var _ domain.ContainerExecutor = (*MockExecutor)(nil)

// === Source Fetcher Mock ===

// MockFetcher implements domain.SourceFetcher for testing.
type MockFetcher struct {
	FetchLatestFn func(ctx context.Context, svc domain.ServiceDescriptor) (domain.ExecResult, error)
}

func (m *MockFetcher) FetchLatest(ctx context.Context, svc domain.ServiceDescriptor) (domain.ExecResult, error) {
	if m.FetchLatestFn != nil {
		return m.FetchLatestFn(ctx, svc)
	}
	panic("unexpected call to MockFetcher.FetchLatest")
}

var _ domain.SourceFetcher = (*MockFetcher)(nil)

// === Service Registry Stub ===

// StaticRegistry is an in-memory domain.ServiceRegistry.
type StaticRegistry struct {
	Services     []domain.ServiceDescriptor
	CategoryList []string
}

func (r *StaticRegistry) Get(name string) (domain.ServiceDescriptor, error) {
	for _, s := range r.Services {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.ServiceDescriptor{}, domain.ErrNotFound("service %q not found", name)
}

func (r *StaticRegistry) List() []domain.ServiceDescriptor {
	return append([]domain.ServiceDescriptor(nil), r.Services...)
}

func (r *StaticRegistry) Categories() []string {
	return append([]string(nil), r.CategoryList...)
}

var _ domain.ServiceRegistry = (*StaticRegistry)(nil)

// === Config Source Mock ===

// MockConfigSource implements domain.ConfigSource for testing.
type MockConfigSource struct {
	ResolveEnvFn func(ctx context.Context, service string) (map[string]string, error)
}

func (m *MockConfigSource) ResolveEnv(ctx context.Context, service string) (map[string]string, error) {
	if m.ResolveEnvFn != nil {
		return m.ResolveEnvFn(ctx, service)
	}
	return map[string]string{}, nil
}

var _ domain.ConfigSource = (*MockConfigSource)(nil)
