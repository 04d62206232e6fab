// Package executor drives compose projects on the local host: lifecycle
// verbs through the docker compose CLI, status and logs through the Docker
// Engine API, and source updates through git.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"service-agent/internal/domain"
)

// DefaultKillAfter is the hard ceiling on any external command.
const DefaultKillAfter = 15 * time.Minute

// commandRunner runs an external command in dir.
type commandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (domain.ExecResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// KillAfter bounds every command, independent of the caller's context.
	KillAfter time.Duration
}

// Run executes name with args. A command that runs and fails is reported via
// ExecResult.ExitCode with a nil error; the error is reserved for commands
// that could not be started, and wraps domain.ErrUnavailable.
func (r ExecRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) (domain.ExecResult, error) {
	killAfter := r.KillAfter
	if killAfter <= 0 {
		killAfter = DefaultKillAfter
	}
	ctx, cancel := context.WithTimeout(ctx, killAfter)
	defer cancel()

	if _, err := os.Stat(dir); err != nil {
		return domain.ExecResult{}, fmt.Errorf("%w: service directory %s: %v", domain.ErrUnavailable, dir, err)
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binaries and args are fixed by the agent
	cmd.Dir = dir
	cmd.Env = env
	cmd.WaitDelay = 10 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := domain.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			res.Stderr += fmt.Sprintf("\nkilled after %s", killAfter)
		}
		return res, nil
	}
	return res, fmt.Errorf("%w: run %s: %v", domain.ErrUnavailable, name, err)
}

// mergeEnv returns base with overrides applied, overrides sorted by key.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		// Later entries win in os/exec.
		out = append(out, k+"="+overrides[k])
	}
	return out
}
