// Package control drives the lifecycle of registered services: start, stop,
// restart and update, plus live status and logs.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"service-agent/internal/domain"
	"service-agent/internal/service/audit"
	"service-agent/internal/service/security"
)

// DefaultExecTimeout bounds a single executor call when Config leaves it unset.
const DefaultExecTimeout = 5 * time.Minute

// Config tunes the controller.
type Config struct {
	// ExecTimeout bounds each executor or fetcher call. A call that takes
	// longer is reported as Timeout while it keeps running in the background.
	ExecTimeout time.Duration
	// NativeRestart restarts with a single force-recreate instead of a stop
	// followed by a start.
	NativeRestart bool
}

// Controller is the service state machine. The only state it keeps is the
// per-service lock; service state itself is always read from the executor.
type Controller struct {
	registry domain.ServiceRegistry
	exec     domain.ContainerExecutor
	fetcher  domain.SourceFetcher
	config   domain.ConfigSource
	audit    *audit.Recorder
	cfg      Config
	locks    *keyedLock
	logger   *slog.Logger
}

// NewController creates a Controller.
func NewController(
	registry domain.ServiceRegistry,
	exec domain.ContainerExecutor,
	fetcher domain.SourceFetcher,
	config domain.ConfigSource,
	rec *audit.Recorder,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry: registry,
		exec:     exec,
		fetcher:  fetcher,
		config:   config,
		audit:    rec,
		cfg:      cfg,
		locks:    newKeyedLock(),
		logger:   logger.With("component", "control"),
	}
}

// Start brings a stopped, degraded or unknown service up with its resolved
// configuration as environment.
func (c *Controller) Start(ctx context.Context, name string) (*domain.OperationResult, error) {
	return c.run(ctx, domain.OpServiceStart, name, func(prior domain.ServiceState) error {
		if prior == domain.StateRunning {
			return fmt.Errorf("service %q is already running", name)
		}
		return nil
	}, func(o *operation) error {
		env, err := o.env(domain.ServiceStartFailed, "start")
		if err != nil {
			return err
		}
		return o.invoke(domain.ServiceStartFailed, "start", domain.VerbStart, env)
	})
}

// Stop takes a running or degraded service down.
func (c *Controller) Stop(ctx context.Context, name string) (*domain.OperationResult, error) {
	return c.run(ctx, domain.OpServiceStop, name, func(prior domain.ServiceState) error {
		if prior != domain.StateRunning && prior != domain.StateDegraded {
			return fmt.Errorf("service %q is not running (state %s)", name, prior)
		}
		return nil
	}, func(o *operation) error {
		return o.invoke(domain.ServiceStopFailed, "stop", domain.VerbStop, nil)
	})
}

// Restart recreates the service's containers. Any settled state is allowed.
func (c *Controller) Restart(ctx context.Context, name string) (*domain.OperationResult, error) {
	return c.run(ctx, domain.OpServiceRestart, name, anyState, func(o *operation) error {
		if c.cfg.NativeRestart {
			env, err := o.env(domain.ServiceRestartFailed, "restart")
			if err != nil {
				return err
			}
			return o.invoke(domain.ServiceRestartFailed, "restart", domain.VerbRestart, env)
		}
		if err := o.invoke(domain.ServiceRestartFailed, "stop", domain.VerbStop, nil); err != nil {
			return err
		}
		env, err := o.env(domain.ServiceRestartFailed, "start")
		if err != nil {
			return err
		}
		return o.invoke(domain.ServiceRestartFailed, "start", domain.VerbStart, env)
	})
}

// Update pulls the latest source and rebuilds. A failed pull never reaches
// the build; a failed build is not rolled back.
func (c *Controller) Update(ctx context.Context, name string) (*domain.OperationResult, error) {
	return c.run(ctx, domain.OpServiceUpdate, name, anyState, func(o *operation) error {
		if err := o.fetch(); err != nil {
			return err
		}
		env, err := o.env(domain.ServiceUpdateBuildFailed, "build")
		if err != nil {
			return err
		}
		return o.invoke(domain.ServiceUpdateBuildFailed, "build", domain.VerbRebuild, env)
	})
}

func anyState(domain.ServiceState) error { return nil }

// run is the common frame of every mutating operation: authorize, look up,
// lock, check the transition, execute, re-observe, audit exactly once.
func (c *Controller) run(
	ctx context.Context,
	op domain.OperationKind,
	name string,
	allowed func(prior domain.ServiceState) error,
	body func(o *operation) error,
) (*domain.OperationResult, error) {
	if err := security.Authorize(ctx, domain.AdminOnly); err != nil {
		return nil, err
	}
	svc, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}

	result := &domain.OperationResult{
		Service:    name,
		Operation:  op,
		PriorState: domain.StateUnknown,
		State:      domain.StateUnknown,
	}

	l, holder, ok := c.locks.tryAcquire(name, op)
	if !ok {
		result.State = domain.StateTransitioning
		return c.finish(ctx, result, &domain.ServiceError{
			Code:    domain.ServiceBusy,
			Service: name,
			Message: fmt.Sprintf("%s already in progress", holder),
		})
	}
	defer l.done()

	o := &operation{c: c, ctx: ctx, svc: svc, lease: l}

	prior, err := o.observe()
	if err != nil {
		return c.finish(ctx, result, err)
	}
	result.PriorState = prior
	result.State = prior

	if err := allowed(prior); err != nil {
		return c.finish(ctx, result, &domain.ServiceError{
			Code:    domain.ServiceInvalidTransition,
			Service: name,
			Message: err.Error(),
		})
	}

	opErr := body(o)
	result.Output = o.out.String()

	var se *domain.ServiceError
	switch {
	case errors.As(opErr, &se) && se.Code == domain.ServiceTimeout:
		result.State = domain.StateTransitioning
	case errors.As(opErr, &se) && se.Code == domain.ServiceUpdateFetchFailed:
		// Nothing was touched.
	default:
		if state, err := o.observe(); err == nil {
			result.State = state
		}
	}
	result.Success = opErr == nil
	return c.finish(ctx, result, opErr)
}

// finish writes the single audit record for an operation and logs it.
func (c *Controller) finish(ctx context.Context, result *domain.OperationResult, opErr error) (*domain.OperationResult, error) {
	rec := audit.Record{
		Operation:     result.Operation,
		TargetService: result.Service,
		Outcome:       domain.OutcomeSuccess,
		Detail:        fmt.Sprintf("%s -> %s", result.PriorState, result.State),
	}
	if opErr != nil {
		rec.Outcome = domain.OutcomeFailure
		rec.Detail = failureDetail(opErr)
	}
	if err := c.audit.Record(ctx, rec); err != nil {
		result.AuditError = err.Error()
	}

	if opErr != nil {
		c.logger.Warn("service operation failed",
			"service", result.Service,
			"operation", result.Operation,
			"kind", domain.ErrorKind(opErr),
			"error", opErr)
	} else {
		c.logger.Info("service operation succeeded",
			"service", result.Service,
			"operation", result.Operation,
			"prior_state", result.PriorState,
			"state", result.State)
	}
	return result, opErr
}

func failureDetail(err error) string {
	d := domain.ErrorKind(err) + ": " + err.Error()
	var se *domain.ServiceError
	if errors.As(err, &se) && se.Detail != "" {
		d += "\n" + se.Detail
	}
	return d
}

// operation carries the state of one locked operation across its phases.
type operation struct {
	c     *Controller
	ctx   context.Context
	svc   domain.ServiceDescriptor
	lease *lease
	out   strings.Builder
}

// observe queries the executor for the current state. Only an unreachable
// executor is an error; other query failures read as unknown.
func (o *operation) observe() (domain.ServiceState, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), o.c.cfg.ExecTimeout)
	defer cancel()

	st, err := o.c.exec.QueryStatus(ctx, o.svc)
	if err != nil {
		if errors.Is(err, domain.ErrUnavailable) {
			return domain.StateUnknown, &domain.ServiceError{
				Code:    domain.ServiceExecutorUnreachable,
				Service: o.svc.Name,
				Message: err.Error(),
			}
		}
		o.c.logger.Warn("status query failed", "service", o.svc.Name, "error", err)
		return domain.StateUnknown, nil
	}
	return st.State, nil
}

// env resolves the service's configuration for a phase that starts containers.
// Like executor calls it ignores caller cancellation: a restart or update
// that already stopped or pulled must still reach its second phase.
func (o *operation) env(kind domain.ServiceErrorKind, phase string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), o.c.cfg.ExecTimeout)
	defer cancel()

	env, err := o.c.config.ResolveEnv(ctx, o.svc.Name)
	if err != nil {
		return nil, &domain.ServiceError{
			Code:    kind,
			Service: o.svc.Name,
			Phase:   phase,
			Message: fmt.Sprintf("resolve configuration: %v", err),
		}
	}
	return env, nil
}

func (o *operation) invoke(kind domain.ServiceErrorKind, phase string, verb domain.Verb, env map[string]string) error {
	return o.step(kind, phase, func(ctx context.Context) (domain.ExecResult, error) {
		return o.c.exec.Invoke(ctx, o.svc, verb, env)
	})
}

func (o *operation) fetch() error {
	return o.step(domain.ServiceUpdateFetchFailed, "fetch", func(ctx context.Context) (domain.ExecResult, error) {
		return o.c.fetcher.FetchLatest(ctx, o.svc)
	})
}

type callResult struct {
	res domain.ExecResult
	err error
}

// step runs one executor call detached from the caller's cancellation and
// waits for it at most ExecTimeout. On timeout the call keeps its hold on
// the lease, so the service stays locked until the call returns.
func (o *operation) step(kind domain.ServiceErrorKind, phase string, call func(ctx context.Context) (domain.ExecResult, error)) error {
	done := make(chan callResult, 1)
	o.lease.hold()
	go func() {
		res, err := call(context.WithoutCancel(o.ctx))
		// Drop the hold before reporting, so the lock is free once a caller
		// that waited for the result returns.
		o.lease.done()
		done <- callResult{res: res, err: err}
	}()

	timer := time.NewTimer(o.c.cfg.ExecTimeout)
	defer timer.Stop()

	var r callResult
	select {
	case r = <-done:
	case <-timer.C:
		go o.reportOrphan(phase, done)
		return &domain.ServiceError{
			Code:    domain.ServiceTimeout,
			Service: o.svc.Name,
			Phase:   phase,
			Message: fmt.Sprintf("%s did not finish within %s; the service stays locked until it does", phase, o.c.cfg.ExecTimeout),
		}
	}

	o.out.WriteString(r.res.Output())
	if r.err != nil {
		if errors.Is(r.err, domain.ErrUnavailable) {
			return &domain.ServiceError{
				Code:    domain.ServiceExecutorUnreachable,
				Service: o.svc.Name,
				Phase:   phase,
				Message: r.err.Error(),
			}
		}
		return &domain.ServiceError{Code: kind, Service: o.svc.Name, Phase: phase, Message: r.err.Error()}
	}
	if !r.res.OK() {
		return &domain.ServiceError{
			Code:    kind,
			Service: o.svc.Name,
			Phase:   phase,
			Message: fmt.Sprintf("%s exited with code %d", phase, r.res.ExitCode),
			Detail:  domain.TruncateTail(r.res.Diagnostic(), domain.MaxDetailBytes),
		}
	}
	return nil
}

func (o *operation) reportOrphan(phase string, done <-chan callResult) {
	r := <-done
	o.c.logger.Warn("timed out executor call finished",
		"service", o.svc.Name,
		"phase", phase,
		"exit_code", r.res.ExitCode,
		"duration", r.res.Duration,
		"error", r.err)
}
