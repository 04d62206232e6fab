package domain

import "time"

// ServiceDescriptor describes a compose project managed by the agent. It is
// declared in the registry file, never stored in the database.
type ServiceDescriptor struct {
	Name           string
	Dir            string   // absolute path of the compose project directory
	ComposeFiles   []string // relative to Dir
	ContainerName  string   // default log target for single-container services
	MultiContainer bool
	Project        string   // compose project name, used for label lookups
	Declared       []string // compose services declared in the project files
}

// ServiceState is the observed (or in-flight) state of a service.
type ServiceState string

const (
	StateRunning       ServiceState = "running"
	StateStopped       ServiceState = "stopped"
	StateDegraded      ServiceState = "degraded" // some, not all, containers running
	StateUnknown       ServiceState = "unknown"
	StateTransitioning ServiceState = "transitioning"
)

// ContainerStatus is the observed status of one container of a service.
type ContainerStatus struct {
	Name         string
	ID           string
	Image        string
	Service      string // compose service the container belongs to
	State        string // docker state: running, exited, paused, ...
	Status       string // human readable, e.g. "Up 2 hours"
	Health       string // healthy, unhealthy, starting; empty without a healthcheck
	ExitCode     int
	RestartCount int
	StartedAt    string
}

// ServiceStatus is a live status snapshot. It is never cached.
type ServiceStatus struct {
	Name       string
	State      ServiceState
	Observed   ServiceState  // executor-reported state; differs from State while transitioning
	InFlight   OperationKind // set while an operation holds the service lock
	Containers []ContainerStatus
	Error      string
}

// Verb is a container executor action.
type Verb string

const (
	VerbStart   Verb = "start"   // compose up -d
	VerbStop    Verb = "stop"    // compose down
	VerbRestart Verb = "restart" // compose up -d --force-recreate
	VerbRebuild Verb = "rebuild" // compose up -d --build --force-recreate
)

// ExecResult is the outcome of one executor or fetcher invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the invocation exited cleanly.
func (r ExecResult) OK() bool { return r.ExitCode == 0 }

// Output returns stdout followed by stderr.
func (r ExecResult) Output() string { return r.Stdout + r.Stderr }

// Diagnostic returns the most useful failure text: stderr, or stdout when
// stderr is empty.
func (r ExecResult) Diagnostic() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Stdout
}

// LogsRequest selects which container logs to read.
type LogsRequest struct {
	Lines     int
	Container string
}

const (
	DefaultLogLines = 100
	MaxLogLines     = 1000
)

// Normalize applies defaults and bounds.
func (r *LogsRequest) Normalize() error {
	if r.Lines == 0 {
		r.Lines = DefaultLogLines
	}
	if r.Lines < 1 || r.Lines > MaxLogLines {
		return ErrValidation("lines must be between 1 and %d", MaxLogLines)
	}
	return nil
}

// OperationResult is returned by every service control operation, including
// failed ones, so callers can see the executor output and the last known state.
type OperationResult struct {
	Service    string
	Operation  OperationKind
	Success    bool
	PriorState ServiceState
	State      ServiceState
	Output     string
	AuditError string
}
