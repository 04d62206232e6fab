package domain

import "context"

// TokenVerifier turns a bearer token into a Principal.
// Implemented by middleware.HS256Verifier and middleware.OIDCVerifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// ContainerExecutor drives compose projects on the host.
// Implemented by executor.ComposeExecutor.
type ContainerExecutor interface {
	// Invoke runs verb against the service. A non-nil error means the
	// executor could not run the command at all; a failed command is
	// reported through a non-zero ExecResult.ExitCode.
	Invoke(ctx context.Context, svc ServiceDescriptor, verb Verb, env map[string]string) (ExecResult, error)
	QueryStatus(ctx context.Context, svc ServiceDescriptor) (ServiceStatus, error)
	Logs(ctx context.Context, svc ServiceDescriptor, req LogsRequest) (string, error)
}

// SourceFetcher pulls the latest source of a service from version control.
// Implemented by executor.GitFetcher.
type SourceFetcher interface {
	FetchLatest(ctx context.Context, svc ServiceDescriptor) (ExecResult, error)
}

// ServiceRegistry looks up service descriptors by name.
// Implemented by registry.Registry.
type ServiceRegistry interface {
	Get(name string) (ServiceDescriptor, error)
	List() []ServiceDescriptor
	Categories() []string
}

// ConfigSource resolves the effective configuration of a service.
// Implemented by configuration.Resolver.
type ConfigSource interface {
	ResolveEnv(ctx context.Context, service string) (map[string]string, error)
}
