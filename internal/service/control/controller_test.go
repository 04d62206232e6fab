package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"service-agent/internal/domain"
	"service-agent/internal/service/audit"
	"service-agent/internal/testutil"
)

// host simulates the container state of every service.
type host struct {
	mu     sync.Mutex
	states map[string]domain.ServiceState
}

func (h *host) get(name string) domain.ServiceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.states[name]; ok {
		return st
	}
	return domain.StateStopped
}

func (h *host) set(name string, st domain.ServiceState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states[name] = st
}

type harness struct {
	ctrl    *Controller
	exec    *testutil.MockExecutor
	fetcher *testutil.MockFetcher
	config  *testutil.MockConfigSource
	logs    *testutil.MockOperationLogRepo
	host    *host
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{
		host:   &host{states: make(map[string]domain.ServiceState)},
		logs:   &testutil.MockOperationLogRepo{},
		config: &testutil.MockConfigSource{},
	}
	h.exec = &testutil.MockExecutor{
		QueryStatusFn: func(_ context.Context, svc domain.ServiceDescriptor) (domain.ServiceStatus, error) {
			return domain.ServiceStatus{Name: svc.Name, State: h.host.get(svc.Name)}, nil
		},
		InvokeFn: func(_ context.Context, svc domain.ServiceDescriptor, verb domain.Verb, _ map[string]string) (domain.ExecResult, error) {
			h.apply(svc.Name, verb)
			return domain.ExecResult{Stdout: string(verb) + " ok\n"}, nil
		},
	}
	h.fetcher = &testutil.MockFetcher{
		FetchLatestFn: func(context.Context, domain.ServiceDescriptor) (domain.ExecResult, error) {
			return domain.ExecResult{Stdout: "Already up to date.\n"}, nil
		},
	}
	registry := &testutil.StaticRegistry{Services: []domain.ServiceDescriptor{
		{Name: "billing", Dir: "/srv/billing", Project: "billing", ContainerName: "billing-app-1"},
		{Name: "supabase", Dir: "/srv/supabase", Project: "supabase", MultiContainer: true},
	}}
	h.ctrl = NewController(registry, h.exec, h.fetcher, h.config,
		audit.NewRecorder(h.logs, nil), cfg, nil)
	return h
}

func (h *harness) apply(name string, verb domain.Verb) {
	if verb == domain.VerbStop {
		h.host.set(name, domain.StateStopped)
		return
	}
	h.host.set(name, domain.StateRunning)
}

func requireServiceErr(t *testing.T, err error, code domain.ServiceErrorKind) *domain.ServiceError {
	t.Helper()
	var se *domain.ServiceError
	require.True(t, errors.As(err, &se), "expected *domain.ServiceError, got %T: %v", err, err)
	require.Equal(t, code, se.Code, se.Error())
	return se
}

func TestStart_Success(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{NativeRestart: true})

	var gotEnv map[string]string
	h.config.ResolveEnvFn = func(_ context.Context, service string) (map[string]string, error) {
		return map[string]string{"DATABASE_URL": "postgres://" + service}, nil
	}
	h.exec.InvokeFn = func(_ context.Context, svc domain.ServiceDescriptor, verb domain.Verb, env map[string]string) (domain.ExecResult, error) {
		gotEnv = env
		h.apply(svc.Name, verb)
		return domain.ExecResult{Stdout: "Container billing-app-1 Started\n"}, nil
	}

	res, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.StateStopped, res.PriorState)
	assert.Equal(t, domain.StateRunning, res.State)
	assert.Contains(t, res.Output, "Started")
	assert.Empty(t, res.AuditError)
	assert.Equal(t, map[string]string{"DATABASE_URL": "postgres://billing"}, gotEnv)

	recs := h.logs.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.OpServiceStart, recs[0].Operation)
	assert.Equal(t, domain.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, "admin-1", recs[0].Actor)
	require.NotNil(t, recs[0].TargetService)
	assert.Equal(t, "billing", *recs[0].TargetService)
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state domain.ServiceState
		op    func(c *Controller, ctx context.Context) (*domain.OperationResult, error)
	}{
		{"start running", domain.StateRunning, func(c *Controller, ctx context.Context) (*domain.OperationResult, error) {
			return c.Start(ctx, "billing")
		}},
		{"stop stopped", domain.StateStopped, func(c *Controller, ctx context.Context) (*domain.OperationResult, error) {
			return c.Stop(ctx, "billing")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{})
			h.host.set("billing", tt.state)

			res, err := tt.op(h.ctrl, testutil.AdminCtx())
			requireServiceErr(t, err, domain.ServiceInvalidTransition)
			require.NotNil(t, res)
			assert.False(t, res.Success)
			assert.Equal(t, tt.state, res.State)
			assert.Empty(t, h.exec.Verbs())

			recs := h.logs.Records()
			require.Len(t, recs, 1)
			assert.Equal(t, domain.OutcomeFailure, recs[0].Outcome)
			require.NotNil(t, recs[0].Detail)
			assert.Contains(t, *recs[0].Detail, "InvalidTransition")
		})
	}
}

func TestStartFromDegradedAndUnknown(t *testing.T) {
	t.Parallel()

	for _, st := range []domain.ServiceState{domain.StateDegraded, domain.StateUnknown} {
		h := newHarness(t, Config{})
		h.host.set("billing", st)

		res, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
		require.NoError(t, err, st)
		assert.Equal(t, st, res.PriorState)
		assert.Equal(t, domain.StateRunning, res.State)
	}
}

func TestStart_CommandFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.exec.InvokeFn = func(context.Context, domain.ServiceDescriptor, domain.Verb, map[string]string) (domain.ExecResult, error) {
		return domain.ExecResult{ExitCode: 1, Stderr: "port 8080 already allocated"}, nil
	}

	res, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	se := requireServiceErr(t, err, domain.ServiceStartFailed)
	assert.Equal(t, "start", se.Phase)
	assert.Equal(t, "port 8080 already allocated", se.Detail)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, domain.StateStopped, res.State)

	rec := h.logs.Last()
	require.NotNil(t, rec)
	assert.Equal(t, domain.OutcomeFailure, rec.Outcome)
	assert.Contains(t, *rec.Detail, "port 8080 already allocated")
}

func TestStart_DiagnosticTruncated(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	h.exec.InvokeFn = func(context.Context, domain.ServiceDescriptor, domain.Verb, map[string]string) (domain.ExecResult, error) {
		return domain.ExecResult{ExitCode: 1, Stderr: string(long) + "tail"}, nil
	}

	_, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	se := requireServiceErr(t, err, domain.ServiceStartFailed)
	assert.Len(t, se.Detail, domain.MaxDetailBytes)
	assert.Contains(t, se.Detail, "tail")
}

func TestExecutorUnreachable(t *testing.T) {
	t.Parallel()

	t.Run("invoke", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.exec.InvokeFn = func(context.Context, domain.ServiceDescriptor, domain.Verb, map[string]string) (domain.ExecResult, error) {
			return domain.ExecResult{}, fmt.Errorf("%w: docker: executable file not found", domain.ErrUnavailable)
		}
		_, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
		requireServiceErr(t, err, domain.ServiceExecutorUnreachable)
		assert.Len(t, h.logs.Records(), 1)
	})

	t.Run("status query", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.exec.QueryStatusFn = func(context.Context, domain.ServiceDescriptor) (domain.ServiceStatus, error) {
			return domain.ServiceStatus{}, fmt.Errorf("%w: connection refused", domain.ErrUnavailable)
		}
		_, err := h.ctrl.Stop(testutil.AdminCtx(), "billing")
		requireServiceErr(t, err, domain.ServiceExecutorUnreachable)
		assert.Empty(t, h.exec.Verbs())
		assert.Len(t, h.logs.Records(), 1)
	})
}

func TestRejectionsAreNotAudited(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	_, err := h.ctrl.Start(testutil.AdminCtx(), "ghost")
	assert.Equal(t, "NotFound", domain.ErrorKind(err))

	_, err = h.ctrl.Start(testutil.UserCtx(), "billing")
	assert.Equal(t, "Forbidden", domain.ErrorKind(err))

	_, err = h.ctrl.Stop(context.Background(), "billing")
	assert.Equal(t, "Unauthenticated", domain.ErrorKind(err))

	ctx := domain.WithAuthFailure(context.Background(), domain.ErrInvalidToken("expired"))
	_, err = h.ctrl.Restart(ctx, "billing")
	assert.Equal(t, "InvalidToken", domain.ErrorKind(err))

	assert.Empty(t, h.logs.Records())
	assert.Empty(t, h.exec.Verbs())
}

func TestRestart(t *testing.T) {
	t.Parallel()

	t.Run("native", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{NativeRestart: true})
		h.host.set("billing", domain.StateRunning)

		res, err := h.ctrl.Restart(testutil.AdminCtx(), "billing")
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, res.State)
		assert.Equal(t, []domain.Verb{domain.VerbRestart}, h.exec.Verbs())
	})

	t.Run("stop then start", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.host.set("billing", domain.StateRunning)

		_, err := h.ctrl.Restart(testutil.AdminCtx(), "billing")
		require.NoError(t, err)
		assert.Equal(t, []domain.Verb{domain.VerbStop, domain.VerbStart}, h.exec.Verbs())
		assert.Len(t, h.logs.Records(), 1)
	})

	t.Run("stop phase fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.host.set("billing", domain.StateRunning)
		h.exec.InvokeFn = func(context.Context, domain.ServiceDescriptor, domain.Verb, map[string]string) (domain.ExecResult, error) {
			return domain.ExecResult{ExitCode: 1, Stderr: "cannot stop"}, nil
		}

		_, err := h.ctrl.Restart(testutil.AdminCtx(), "billing")
		se := requireServiceErr(t, err, domain.ServiceRestartFailed)
		assert.Equal(t, "stop", se.Phase)
		assert.Equal(t, []domain.Verb{domain.VerbStop}, h.exec.Verbs())
	})

	t.Run("from stopped", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{NativeRestart: true})

		res, err := h.ctrl.Restart(testutil.AdminCtx(), "billing")
		require.NoError(t, err)
		assert.Equal(t, domain.StateStopped, res.PriorState)
		assert.Equal(t, domain.StateRunning, res.State)
	})
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("fetch failure never rebuilds", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.host.set("billing", domain.StateRunning)
		h.fetcher.FetchLatestFn = func(context.Context, domain.ServiceDescriptor) (domain.ExecResult, error) {
			return domain.ExecResult{ExitCode: 1, Stderr: "fatal: unable to access remote"}, nil
		}

		res, err := h.ctrl.Update(testutil.AdminCtx(), "billing")
		se := requireServiceErr(t, err, domain.ServiceUpdateFetchFailed)
		assert.Equal(t, "fetch", se.Phase)
		assert.Contains(t, se.Detail, "unable to access remote")
		assert.Empty(t, h.exec.Verbs())
		assert.Equal(t, domain.StateRunning, res.State)

		recs := h.logs.Records()
		require.Len(t, recs, 1)
		assert.Equal(t, domain.OpServiceUpdate, recs[0].Operation)
		assert.Equal(t, domain.OutcomeFailure, recs[0].Outcome)
	})

	t.Run("build failure reports last known state", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.host.set("billing", domain.StateRunning)
		h.exec.InvokeFn = func(_ context.Context, svc domain.ServiceDescriptor, _ domain.Verb, _ map[string]string) (domain.ExecResult, error) {
			h.host.set(svc.Name, domain.StateDegraded)
			return domain.ExecResult{ExitCode: 17, Stderr: "failed to solve: npm ci"}, nil
		}

		res, err := h.ctrl.Update(testutil.AdminCtx(), "billing")
		se := requireServiceErr(t, err, domain.ServiceUpdateBuildFailed)
		assert.Equal(t, "build", se.Phase)
		assert.Equal(t, []domain.Verb{domain.VerbRebuild}, h.exec.Verbs())
		assert.Equal(t, domain.StateDegraded, res.State)
	})

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})

		res, err := h.ctrl.Update(testutil.AdminCtx(), "billing")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Contains(t, res.Output, "Already up to date.")
		assert.Equal(t, []domain.Verb{domain.VerbRebuild}, h.exec.Verbs())
	})
}

func TestConcurrentOperationIsBusy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	release := make(chan struct{})
	h.exec.InvokeFn = func(_ context.Context, svc domain.ServiceDescriptor, verb domain.Verb, _ map[string]string) (domain.ExecResult, error) {
		<-release
		h.apply(svc.Name, verb)
		return domain.ExecResult{}, nil
	}

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = h.ctrl.Start(testutil.AdminCtx(), "billing")
	}()
	require.Eventually(t, func() bool {
		_, held := h.ctrl.locks.inFlight("billing")
		return held
	}, time.Second, 5*time.Millisecond)

	st, err := h.ctrl.GetStatus(testutil.UserCtx(), "billing")
	require.NoError(t, err)
	assert.Equal(t, domain.StateTransitioning, st.State)
	assert.Equal(t, domain.StateStopped, st.Observed)
	assert.Equal(t, domain.OpServiceStart, st.InFlight)

	res, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	se := requireServiceErr(t, err, domain.ServiceBusy)
	assert.Contains(t, se.Message, "service.start")
	assert.Equal(t, domain.StateTransitioning, res.State)

	// Another service is not affected.
	_, err = h.ctrl.Stop(testutil.AdminCtx(), "supabase")
	requireServiceErr(t, err, domain.ServiceInvalidTransition)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	recs := h.logs.Records()
	require.Len(t, recs, 3)
	outcomes := map[domain.Outcome]int{}
	for _, r := range recs {
		outcomes[r.Outcome]++
	}
	assert.Equal(t, 1, outcomes[domain.OutcomeSuccess])
	assert.Equal(t, 2, outcomes[domain.OutcomeFailure])

	// The lock is free again.
	_, err = h.ctrl.Stop(testutil.AdminCtx(), "billing")
	require.NoError(t, err)
}

func TestTimeoutKeepsServiceBusyUntilCallReturns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{ExecTimeout: 30 * time.Millisecond})

	release := make(chan struct{})
	var calls atomic.Int32
	h.exec.InvokeFn = func(_ context.Context, svc domain.ServiceDescriptor, verb domain.Verb, _ map[string]string) (domain.ExecResult, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		h.apply(svc.Name, verb)
		return domain.ExecResult{}, nil
	}

	res, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	se := requireServiceErr(t, err, domain.ServiceTimeout)
	assert.Equal(t, "start", se.Phase)
	assert.Equal(t, domain.StateTransitioning, res.State)

	_, err = h.ctrl.Restart(testutil.AdminCtx(), "billing")
	requireServiceErr(t, err, domain.ServiceBusy)

	close(release)
	require.Eventually(t, func() bool {
		_, held := h.ctrl.locks.inFlight("billing")
		return !held
	}, time.Second, 5*time.Millisecond)

	_, err = h.ctrl.Stop(testutil.AdminCtx(), "billing")
	require.NoError(t, err)

	recs := h.logs.Records()
	require.Len(t, recs, 3)
	assert.Contains(t, *recs[0].Detail, "Timeout")
	assert.Contains(t, *recs[1].Detail, "Busy")
	assert.Equal(t, domain.OutcomeSuccess, recs[2].Outcome)
}

func TestOperationSurvivesRequestCancellation(t *testing.T) {
	t.Parallel()

	// withCancellableSources makes every collaborator honor ctx, as the
	// SQLite-backed resolver and the real executor do.
	withCancellableSources := func(h *harness) {
		h.config.ResolveEnvFn = func(ctx context.Context, _ string) (map[string]string, error) {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("list config for billing: %w", err)
			}
			return map[string]string{"LOG_LEVEL": "debug"}, nil
		}
		h.exec.InvokeFn = func(ctx context.Context, svc domain.ServiceDescriptor, verb domain.Verb, _ map[string]string) (domain.ExecResult, error) {
			if err := ctx.Err(); err != nil {
				return domain.ExecResult{}, err
			}
			h.apply(svc.Name, verb)
			return domain.ExecResult{}, nil
		}
	}

	t.Run("cancelled before start", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		withCancellableSources(h)

		ctx, cancel := context.WithCancel(testutil.AdminCtx())
		cancel()

		res, err := h.ctrl.Start(ctx, "billing")
		require.NoError(t, err)
		assert.Equal(t, domain.StateRunning, res.State)
		assert.Len(t, h.logs.Records(), 1)
	})

	t.Run("cancelled between stop and start", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{NativeRestart: false})
		withCancellableSources(h)
		h.host.set("billing", domain.StateRunning)

		ctx, cancel := context.WithCancel(testutil.AdminCtx())
		defer cancel()
		invoke := h.exec.InvokeFn
		h.exec.InvokeFn = func(c context.Context, svc domain.ServiceDescriptor, verb domain.Verb, env map[string]string) (domain.ExecResult, error) {
			if verb == domain.VerbStop {
				cancel()
			}
			return invoke(c, svc, verb, env)
		}

		res, err := h.ctrl.Restart(ctx, "billing")
		require.NoError(t, err)
		assert.Equal(t, []domain.Verb{domain.VerbStop, domain.VerbStart}, h.exec.Verbs())
		assert.Equal(t, domain.StateRunning, res.State)
		assert.Equal(t, domain.StateRunning, h.host.get("billing"))
	})

	t.Run("cancelled between fetch and build", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		withCancellableSources(h)
		h.host.set("billing", domain.StateRunning)

		ctx, cancel := context.WithCancel(testutil.AdminCtx())
		defer cancel()
		h.fetcher.FetchLatestFn = func(context.Context, domain.ServiceDescriptor) (domain.ExecResult, error) {
			cancel()
			return domain.ExecResult{Stdout: "Fast-forward\n"}, nil
		}

		res, err := h.ctrl.Update(ctx, "billing")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, []domain.Verb{domain.VerbRebuild}, h.exec.Verbs())

		recs := h.logs.Records()
		require.Len(t, recs, 1)
		assert.Equal(t, domain.OutcomeSuccess, recs[0].Outcome)
	})
}

func TestAuditFailureIsReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.logs.InsertFn = func(context.Context, *domain.OperationLogRecord) error {
		return errors.New("disk I/O error")
	}

	res, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.AuditError, "disk I/O error")
	assert.Equal(t, domain.StateRunning, h.host.get("billing"))
}

func TestConfigResolutionFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.config.ResolveEnvFn = func(context.Context, string) (map[string]string, error) {
		return nil, errors.New("database is locked")
	}

	_, err := h.ctrl.Start(testutil.AdminCtx(), "billing")
	se := requireServiceErr(t, err, domain.ServiceStartFailed)
	assert.Contains(t, se.Message, "database is locked")
	assert.Empty(t, h.exec.Verbs())
	assert.Len(t, h.logs.Records(), 1)
}
