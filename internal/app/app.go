// Package app wires the service agent's components from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"service-agent/internal/api"
	"service-agent/internal/config"
	"service-agent/internal/db/crypto"
	"service-agent/internal/db/repository"
	"service-agent/internal/domain"
	"service-agent/internal/executor"
	"service-agent/internal/middleware"
	"service-agent/internal/registry"
	"service-agent/internal/service/audit"
	"service-agent/internal/service/configuration"
	"service-agent/internal/service/control"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// App holds the fully-wired agent.
type App struct {
	Registry   *registry.Registry
	Resolver   *configuration.Resolver
	Controller *control.Controller
	Audit      *audit.Recorder
	Router     http.Handler

	closers []func() error
}

// New builds every component from deps. ctx bounds background work started
// by the router and the OIDC key set.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := registry.LoadFile(ctx, cfg.ServicesFile, cfg.ServicesBasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("load service registry: %w", err)
	}
	logger.Info("service registry loaded", "file", cfg.ServicesFile, "services", len(reg.List()))

	docker, err := executor.NewDockerClient()
	if err != nil {
		return nil, err
	}
	runner := executor.ExecRunner{KillAfter: cfg.ExecKillAfter}
	exec := executor.NewComposeExecutor(docker, executor.Options{
		Binary: cfg.DockerBinary,
		Runner: runner,
		Logger: logger,
	})
	fetcher := executor.NewGitFetcher(cfg.GitBinary, runner, logger)

	// Writes and audit inserts share the single-connection write pool; lists use
	// the read pool.
	var configRepo domain.ConfigRepository = repository.NewConfigRepo(deps.WriteDB, deps.ReadDB)
	if cfg.SecretsKey != "" {
		sealer, err := crypto.NewSealer(cfg.SecretsKey)
		if err != nil {
			_ = docker.Close()
			return nil, fmt.Errorf("config encryption: %w", err)
		}
		configRepo = repository.NewSealedConfigRepo(configRepo, sealer)
		logger.Info("secret config values are sealed at rest")
	} else if cfg.IsProduction() {
		logger.Warn("CONFIG_ENCRYPTION_KEY not set; secret config values are stored in plaintext")
	}
	rec := audit.NewRecorder(repository.NewOperationLogRepo(deps.WriteDB, deps.ReadDB), logger)
	resolver := configuration.NewResolver(configRepo, reg, rec, logger)
	ctrl := control.NewController(reg, exec, fetcher, resolver, rec, control.Config{
		ExecTimeout:   cfg.ExecTimeout,
		NativeRestart: cfg.NativeRestart,
	}, logger)

	verifier, err := newVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		_ = docker.Close()
		return nil, err
	}

	h := api.NewHandler(resolver, ctrl, rec, exec, api.PingerFunc(deps.ReadDB.PingContext), logger)
	router := api.NewRouter(ctx, h, api.RouterOptions{
		Verifier: verifier,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})

	return &App{
		Registry:   reg,
		Resolver:   resolver,
		Controller: ctrl,
		Audit:      rec,
		Router:     router,
		closers:    []func() error{docker.Close},
	}, nil
}

// Close releases the Docker client.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newVerifier picks the token verifier: an external identity provider when
// one is configured, else the shared HS256 secret, else none.
func newVerifier(ctx context.Context, auth config.AuthConfig, logger *slog.Logger) (domain.TokenVerifier, error) {
	vcfg := middleware.VerifierConfig{
		Audience:  auth.Audience,
		RoleClaim: auth.RoleClaim,
		Leeway:    auth.Leeway,
	}
	switch {
	case auth.JWKSURL != "":
		logger.Info("token verification: OIDC (static JWKS)", "issuer", auth.IssuerURL, "jwks", auth.JWKSURL)
		return middleware.NewOIDCVerifierFromJWKS(ctx, auth.JWKSURL, auth.IssuerURL, vcfg), nil
	case auth.IssuerURL != "":
		v, err := middleware.NewOIDCVerifier(ctx, auth.IssuerURL, vcfg)
		if err != nil {
			return nil, err
		}
		logger.Info("token verification: OIDC", "issuer", auth.IssuerURL)
		return v, nil
	case auth.JWTSecret != "":
		v, err := middleware.NewHS256Verifier(auth.JWTSecret, vcfg)
		if err != nil {
			return nil, err
		}
		logger.Info("token verification: HS256 shared secret")
		return v, nil
	default:
		logger.Warn("token verification disabled; only public endpoints are usable")
		return middleware.DisabledVerifier{}, nil
	}
}
