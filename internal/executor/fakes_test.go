package executor

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"service-agent/internal/domain"
)

type fakeDocker struct {
	list    []container.Summary
	listErr error
	inspect map[string]container.InspectResponse
	logs    map[string][]byte
	pingErr error

	mu      sync.Mutex
	gotList container.ListOptions
	gotLogs container.LogsOptions
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	f.gotList = opts
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	project := opts.Filters.Get("label")
	var out []container.Summary
	for _, c := range f.list {
		for _, l := range project {
			if l == labelProject+"="+c.Labels[labelProject] {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	info, ok := f.inspect[id]
	if !ok {
		return container.InspectResponse{}, errNotFound{}
	}
	return info, nil
}

func (f *fakeDocker) ContainerLogs(_ context.Context, id string, opts container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.gotLogs = opts
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(f.logs[id])), nil
}

func (f *fakeDocker) Ping(context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

// errNotFound satisfies containerd/errdefs.IsNotFound.
type errNotFound struct{}

func (errNotFound) Error() string { return "No such container" }
func (errNotFound) NotFound() {}

func summary(id, name, project, service string, running bool) container.Summary {
	c := container.Summary{
		ID:     id,
		Names:  []string{"/" + name},
		Image:  "img:" + service,
		Labels: map[string]string{labelProject: project, labelService: service},
	}
	if running {
		c.State = "running"
		c.Status = "Up 2 hours"
	} else {
		c.State = "exited"
		c.Status = "Exited (1) 5 minutes ago"
	}
	return c
}

func inspectResponse(id, project string, tty bool, restarts int) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:           id,
			RestartCount: restarts,
			State:        &container.State{ExitCode: 0, StartedAt: "2026-01-01T00:00:00Z"},
		},
		Config: &container.Config{
			Tty:    tty,
			Labels: map[string]string{labelProject: project},
		},
	}
}

// multiplexed frames stdout and stderr the way the daemon does for non-TTY
// containers.
func multiplexed(stdout, stderr string) []byte {
	var buf bytes.Buffer
	if stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	}
	if stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	}
	return buf.Bytes()
}

type runCall struct {
	dir  string
	env  []string
	name string
	args []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runCall
	result domain.ExecResult
	err    error
}

func (f *fakeRunner) Run(_ context.Context, dir string, env []string, name string, args ...string) (domain.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{dir: dir, env: env, name: name, args: args})
	return f.result, f.err
}
