package control

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"service-agent/internal/domain"
	"service-agent/internal/service/security"
)

const statusConcurrency = 8

// GetStatus returns the live status of one service. While an operation holds
// the service, State is transitioning and Observed carries what the executor
// reports.
func (c *Controller) GetStatus(ctx context.Context, name string) (*domain.ServiceStatus, error) {
	if err := security.Authorize(ctx, domain.ReadAuthenticated); err != nil {
		return nil, err
	}
	svc, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return c.status(ctx, svc)
}

// ListStatuses returns the live status of every registered service. A
// service whose query fails is reported as unknown with the error attached.
func (c *Controller) ListStatuses(ctx context.Context) ([]domain.ServiceStatus, error) {
	if err := security.Authorize(ctx, domain.ReadAuthenticated); err != nil {
		return nil, err
	}

	services := c.registry.List()
	out := make([]domain.ServiceStatus, len(services))

	var g errgroup.Group
	g.SetLimit(statusConcurrency)
	for i, svc := range services {
		g.Go(func() error {
			st, err := c.status(ctx, svc)
			if err != nil {
				out[i] = domain.ServiceStatus{Name: svc.Name, State: domain.StateUnknown, Error: err.Error()}
				return nil
			}
			out[i] = *st
			return nil
		})
	}
	// Query failures are folded into their row, so Wait never fails.
	_ = g.Wait()
	return out, nil
}

func (c *Controller) status(ctx context.Context, svc domain.ServiceDescriptor) (*domain.ServiceStatus, error) {
	st, err := c.exec.QueryStatus(ctx, svc)
	if err != nil {
		return nil, executorError(svc.Name, "status", err)
	}
	st.Name = svc.Name
	if st.Observed == "" {
		st.Observed = st.State
	}
	if op, ok := c.locks.inFlight(svc.Name); ok {
		st.State = domain.StateTransitioning
		st.InFlight = op
	}
	return &st, nil
}

// Logs returns the tail of a service container's logs. Services running
// several containers need req.Container.
func (c *Controller) Logs(ctx context.Context, name string, req domain.LogsRequest) (string, error) {
	if err := security.Authorize(ctx, domain.ReadAuthenticated); err != nil {
		return "", err
	}
	svc, err := c.registry.Get(name)
	if err != nil {
		return "", err
	}
	if err := req.Normalize(); err != nil {
		return "", err
	}
	if svc.MultiContainer && req.Container == "" {
		return "", domain.ErrValidation("service %q runs several containers; specify one with container", name)
	}

	logs, err := c.exec.Logs(ctx, svc, req)
	if err != nil {
		return "", executorError(name, "logs", err)
	}
	return logs, nil
}

// executorError keeps kinded errors as they are and marks an unreachable
// executor.
func executorError(service, phase string, err error) error {
	if errors.Is(err, domain.ErrUnavailable) {
		return &domain.ServiceError{
			Code:    domain.ServiceExecutorUnreachable,
			Service: service,
			Phase:   phase,
			Message: err.Error(),
		}
	}
	var k domain.KindedError
	if errors.As(err, &k) {
		return err
	}
	return fmt.Errorf("%s %s: %w", phase, service, err)
}
