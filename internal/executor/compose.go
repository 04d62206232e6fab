package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"service-agent/internal/domain"
)

const (
	labelProject = "com.docker.compose.project"
	labelService = "com.docker.compose.service"
)

// dockerAPI is the subset of the Docker Engine client the executor uses.
// *client.Client satisfies it.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
}

// ComposeExecutor implements domain.ContainerExecutor.
type ComposeExecutor struct {
	docker dockerAPI
	runner commandRunner
	binary string
	logger *slog.Logger
}

// Compile-time check.
var _ domain.ContainerExecutor = (*ComposeExecutor)(nil)

// Options configures a ComposeExecutor.
type Options struct {
	// Binary is the docker CLI; "compose" is passed as its first argument.
	Binary string
	Runner commandRunner
	Logger *slog.Logger
}

// NewDockerClient creates an Engine API client from the environment
// (DOCKER_HOST and friends).
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// NewComposeExecutor creates an executor on top of an Engine API client.
func NewComposeExecutor(docker dockerAPI, opts Options) *ComposeExecutor {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ComposeExecutor{
		docker: docker,
		runner: opts.Runner,
		binary: opts.Binary,
		logger: opts.Logger.With("component", "executor"),
	}
}

// composeArgs maps a verb to its docker compose arguments.
func composeArgs(svc domain.ServiceDescriptor, verb domain.Verb) ([]string, error) {
	args := []string{"compose", "--project-name", svc.Project}
	for _, f := range svc.ComposeFiles {
		args = append(args, "-f", f)
	}
	switch verb {
	case domain.VerbStart:
		args = append(args, "up", "-d")
	case domain.VerbStop:
		args = append(args, "down")
	case domain.VerbRestart:
		args = append(args, "up", "-d", "--force-recreate")
	case domain.VerbRebuild:
		args = append(args, "up", "-d", "--build", "--force-recreate")
	default:
		return nil, fmt.Errorf("unsupported verb %q", verb)
	}
	return args, nil
}

// Invoke runs the compose command for verb with env layered over the agent's
// own environment.
func (e *ComposeExecutor) Invoke(ctx context.Context, svc domain.ServiceDescriptor, verb domain.Verb, env map[string]string) (domain.ExecResult, error) {
	args, err := composeArgs(svc, verb)
	if err != nil {
		return domain.ExecResult{}, err
	}

	e.logger.Info("running compose",
		"service", svc.Name,
		"verb", verb,
		"project", svc.Project,
		"env_keys", len(env))

	res, err := e.runner.Run(ctx, svc.Dir, mergeEnv(os.Environ(), env), e.binary, args...)
	if err != nil {
		return res, err
	}
	e.logger.Info("compose finished",
		"service", svc.Name,
		"verb", verb,
		"exit_code", res.ExitCode,
		"duration", res.Duration)
	return res, nil
}

// Ping checks that the Docker daemon answers.
func (e *ComposeExecutor) Ping(ctx context.Context) error {
	if _, err := e.docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker ping: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// QueryStatus lists the project's containers through the Engine API and
// aggregates them into a service state.
func (e *ComposeExecutor) QueryStatus(ctx context.Context, svc domain.ServiceDescriptor) (domain.ServiceStatus, error) {
	containers, err := e.projectContainers(ctx, svc)
	if err != nil {
		return domain.ServiceStatus{Name: svc.Name, State: domain.StateUnknown}, err
	}

	statuses := make([]domain.ContainerStatus, 0, len(containers))
	for _, c := range containers {
		statuses = append(statuses, e.containerStatus(ctx, c))
	}
	state := aggregateState(statuses, svc.Declared)
	return domain.ServiceStatus{
		Name:       svc.Name,
		State:      state,
		Observed:   state,
		Containers: statuses,
	}, nil
}

func (e *ComposeExecutor) projectContainers(ctx context.Context, svc domain.ServiceDescriptor) ([]container.Summary, error) {
	args := filters.NewArgs()
	args.Add("label", labelProject+"="+svc.Project)
	containers, err := e.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, classifyDockerError(err, "list containers for "+svc.Name)
	}
	sort.Slice(containers, func(i, j int) bool {
		return containerName(containers[i]) < containerName(containers[j])
	})
	return containers, nil
}

// containerStatus enriches a list entry with inspect data. Inspect failures
// (container removed in between) leave the list fields only.
func (e *ComposeExecutor) containerStatus(ctx context.Context, c container.Summary) domain.ContainerStatus {
	st := domain.ContainerStatus{
		Name:    containerName(c),
		ID:      shortID(c.ID),
		Image:   c.Image,
		Service: c.Labels[labelService],
		State:   string(c.State),
		Status:  c.Status,
	}
	info, err := e.docker.ContainerInspect(ctx, c.ID)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			e.logger.Debug("container inspect failed", "container", st.Name, "error", err)
		}
		return st
	}
	if info.ContainerJSONBase == nil {
		return st
	}
	st.RestartCount = info.RestartCount
	if info.State != nil {
		st.ExitCode = info.State.ExitCode
		st.StartedAt = info.State.StartedAt
		if info.State.Health != nil {
			st.Health = string(info.State.Health.Status)
		}
	}
	return st
}

// aggregateState folds container states into one service state. Declared
// compose services without any container count as not running.
func aggregateState(containers []domain.ContainerStatus, declared []string) domain.ServiceState {
	if len(containers) == 0 {
		return domain.StateStopped
	}
	running := 0
	runningServices := make(map[string]bool)
	for _, c := range containers {
		if c.State == "running" {
			running++
			runningServices[c.Service] = true
		}
	}
	switch {
	case running == 0:
		return domain.StateStopped
	case running < len(containers):
		return domain.StateDegraded
	}
	for _, name := range declared {
		if !runningServices[name] {
			return domain.StateDegraded
		}
	}
	return domain.StateRunning
}

// Logs returns the tail of one container's logs. Containers outside the
// service's compose project are never readable through this call.
func (e *ComposeExecutor) Logs(ctx context.Context, svc domain.ServiceDescriptor, req domain.LogsRequest) (string, error) {
	target, err := e.logTarget(ctx, svc, req.Container)
	if err != nil {
		return "", err
	}

	info, err := e.docker.ContainerInspect(ctx, target)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", domain.ErrNotFound("container %q not found", target)
		}
		return "", classifyDockerError(err, "inspect "+target)
	}
	if info.Config == nil || info.Config.Labels[labelProject] != svc.Project {
		return "", domain.ErrNotFound("container %q does not belong to service %q", target, svc.Name)
	}

	id := target
	if info.ContainerJSONBase != nil && info.ID != "" {
		id = info.ID
	}
	rc, err := e.docker.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(req.Lines),
	})
	if err != nil {
		return "", classifyDockerError(err, "logs for "+target)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if info.Config.Tty {
		_, err = io.Copy(&buf, rc)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, rc)
	}
	if err != nil {
		return "", fmt.Errorf("read logs for %s: %w", target, err)
	}
	return buf.String(), nil
}

// logTarget picks the container whose logs are wanted.
func (e *ComposeExecutor) logTarget(ctx context.Context, svc domain.ServiceDescriptor, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if svc.MultiContainer {
		return "", domain.ErrValidation("service %q runs several containers; specify one with container", svc.Name)
	}
	if svc.ContainerName != "" {
		return svc.ContainerName, nil
	}

	containers, err := e.projectContainers(ctx, svc)
	if err != nil {
		return "", err
	}
	switch len(containers) {
	case 0:
		return "", domain.ErrNotFound("service %q has no containers", svc.Name)
	case 1:
		return containers[0].ID, nil
	default:
		names := make([]string, len(containers))
		for i, c := range containers {
			names[i] = containerName(c)
		}
		return "", domain.ErrValidation("service %q has several containers (%s); specify one with container",
			svc.Name, strings.Join(names, ", "))
	}
}

// classifyDockerError marks daemon connectivity failures as ErrUnavailable.
func classifyDockerError(err error, what string) error {
	if client.IsErrConnectionFailed(err) || errdefs.IsUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func containerName(c container.Summary) string {
	if len(c.Names) == 0 {
		return shortID(c.ID)
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
