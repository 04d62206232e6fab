package executor

import (
	"context"
	"log/slog"
	"os"

	"service-agent/internal/domain"
)

// GitFetcher pulls the latest source of a service with git.
type GitFetcher struct {
	Binary string
	runner commandRunner
	logger *slog.Logger
}

// Compile-time check.
var _ domain.SourceFetcher = (*GitFetcher)(nil)

// NewGitFetcher creates a GitFetcher using the git binary on PATH when
// binary is empty.
func NewGitFetcher(binary string, runner commandRunner, logger *slog.Logger) *GitFetcher {
	if binary == "" {
		binary = "git"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitFetcher{Binary: binary, runner: runner, logger: logger.With("component", "git")}
}

// FetchLatest runs "git pull" in the service directory.
func (g *GitFetcher) FetchLatest(ctx context.Context, svc domain.ServiceDescriptor) (domain.ExecResult, error) {
	// Never prompt for credentials on the agent's terminal.
	env := mergeEnv(os.Environ(), map[string]string{"GIT_TERMINAL_PROMPT": "0"})
	res, err := g.runner.Run(ctx, svc.Dir, env, g.Binary, "pull")
	if err != nil {
		return res, err
	}
	g.logger.Info("git pull finished",
		"service", svc.Name,
		"exit_code", res.ExitCode,
		"duration", res.Duration)
	return res, nil
}
