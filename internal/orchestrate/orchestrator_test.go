package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stackup/internal/fake"
	"stackup/internal/graph"
	"stackup/internal/probe"
	"stackup/internal/runtime"
	"stackup/internal/spec"
	"stackup/internal/state"
)

type proberFunc func(ctx context.Context, container string, svc spec.ServiceSpec) error

func (f proberFunc) Probe(ctx context.Context, container string, svc spec.ServiceSpec) error {
	return f(ctx, container, svc)
}

var readyProber = proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
	return ctx.Err()
})

func testStack(services ...spec.ServiceSpec) *spec.Stack {
	return &spec.Stack{
		Project:  "blog",
		Services: services,
		Network:  spec.NetworkSpec{Name: "blog_default", Driver: "bridge"},
	}
}

func testOrchestrator(rt *fake.Runtime, prober ReadinessProber, stack *spec.Stack, opts Options) *Orchestrator {
	store := state.NewStore(stack.ServiceNames())
	clock := fake.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opts.BackoffBase = time.Millisecond
	opts.BackoffCeiling = 2 * time.Millisecond
	return New(rt, prober, store, clock, nil, opts)
}

func TestUpStartsInDependencyOrder(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "web", Image: "wordpress:6.7", DependsOn: []string{"api"}},
		spec.ServiceSpec{Name: "api", Image: "ghcr.io/example/api:latest", DependsOn: []string{"db"}},
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
	)
	rt := fake.NewRuntime()
	o := testOrchestrator(rt, readyProber, stack, Options{})

	report, err := o.Up(context.Background(), stack)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if report.Outcome != OutcomeReady {
		t.Fatalf("report.Outcome = %s, want ready", report.Outcome)
	}

	states := make(map[string]state.RuntimeState, len(report.Services))
	for _, entry := range report.Services {
		states[entry.Service] = entry.State
	}
	for _, name := range []string{"db", "api", "web"} {
		if states[name].Status != state.StatusReady {
			t.Fatalf("%s status = %s, want ready", name, states[name].Status)
		}
	}
	if !states["db"].StartedAt.Before(states["api"].StartedAt) {
		t.Fatalf("db started at %v, api at %v; dependency must start first",
			states["db"].StartedAt, states["api"].StartedAt)
	}
	if !states["api"].StartedAt.Before(states["web"].StartedAt) {
		t.Fatalf("api started at %v, web at %v; dependency must start first",
			states["api"].StartedAt, states["web"].StartedAt)
	}
}

func TestUpFailedDependencyBlocksDependents(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
		spec.ServiceSpec{Name: "wordpress", Image: "wordpress:6.7", DependsOn: []string{"db"}},
	)
	rt := fake.NewRuntime()
	prober := proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
		if svc.Name == "db" {
			return &probe.ReadinessTimeout{Service: "db", Attempts: 3, LastErr: errors.New("connection refused")}
		}
		return nil
	})
	o := testOrchestrator(rt, prober, stack, Options{})

	report, err := o.Up(context.Background(), stack)
	if err == nil {
		t.Fatal("Up() error = nil, want readiness failure")
	}
	var timeout *probe.ReadinessTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("Up() error = %v, want *probe.ReadinessTimeout", err)
	}
	if report.Outcome != OutcomeFailed {
		t.Fatalf("report.Outcome = %s, want failed", report.Outcome)
	}

	if len(report.NeverStarted) != 1 || report.NeverStarted[0] != "wordpress" {
		t.Fatalf("report.NeverStarted = %v, want [wordpress]", report.NeverStarted)
	}
	if got := rt.CallCount("ContainerCreate stackup-blog-wordpress"); got != 0 {
		t.Fatalf("blocked dependent was created %d times, want 0", got)
	}
	wp, _ := o.Store.Get("wordpress")
	if wp.Status != state.StatusPending {
		t.Fatalf("wordpress status = %s, want pending", wp.Status)
	}
	if wp.Err == "" {
		t.Fatal("wordpress state should record why it never started")
	}
}

func TestUpFailForwardStartsIndependentServices(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
		spec.ServiceSpec{Name: "cache", Image: "redis:7.4"},
		spec.ServiceSpec{Name: "wordpress", Image: "wordpress:6.7", DependsOn: []string{"db"}},
	)
	rt := fake.NewRuntime()
	prober := proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
		if svc.Name == "db" {
			return &probe.ReadinessTimeout{Service: "db", Attempts: 1}
		}
		return nil
	})
	o := testOrchestrator(rt, prober, stack, Options{})

	report, err := o.Up(context.Background(), stack)
	if err == nil {
		t.Fatal("Up() error = nil, want db readiness failure")
	}
	if report.Outcome != OutcomeFailed {
		t.Fatalf("report.Outcome = %s, want failed", report.Outcome)
	}

	cache, _ := o.Store.Get("cache")
	if cache.Status != state.StatusReady {
		t.Fatalf("cache status = %s, want ready; independent services must not be held back", cache.Status)
	}
	if !rt.Running("stackup-blog-cache") {
		t.Fatal("cache container should be running")
	}
}

func TestUpDegradedModeStartsDependentsAnyway(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
		spec.ServiceSpec{Name: "wordpress", Image: "wordpress:6.7", DependsOn: []string{"db"}},
	)
	rt := fake.NewRuntime()
	prober := proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
		if svc.Name == "db" {
			return &probe.ReadinessTimeout{Service: "db", Attempts: 1}
		}
		return nil
	})
	o := testOrchestrator(rt, prober, stack, Options{Mode: StartDegraded})

	report, err := o.Up(context.Background(), stack)
	if err == nil {
		t.Fatal("Up() error = nil, want db readiness failure")
	}
	if len(report.NeverStarted) != 0 {
		t.Fatalf("report.NeverStarted = %v, want none in degraded mode", report.NeverStarted)
	}

	wp, _ := o.Store.Get("wordpress")
	if wp.Status != state.StatusReady {
		t.Fatalf("wordpress status = %s, want ready", wp.Status)
	}
	if !wp.Degraded {
		t.Fatal("wordpress should be marked degraded")
	}
	if !rt.Running("stackup-blog-wordpress") {
		t.Fatal("wordpress container should be running")
	}
}

func TestUpRestartWithinBudget(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4", Restart: spec.RestartOnFailure},
	)
	rt := fake.NewRuntime()

	var mu sync.Mutex
	probes := 0
	prober := proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
		mu.Lock()
		defer mu.Unlock()
		probes++
		if probes < 3 {
			return &probe.ReadinessTimeout{Service: svc.Name, Attempts: 1}
		}
		return nil
	})
	o := testOrchestrator(rt, prober, stack, Options{MaxRestarts: 3})

	report, err := o.Up(context.Background(), stack)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if report.Outcome != OutcomeReady {
		t.Fatalf("report.Outcome = %s, want ready", report.Outcome)
	}

	db, _ := o.Store.Get("db")
	if db.RestartCount != 2 {
		t.Fatalf("db.RestartCount = %d, want 2", db.RestartCount)
	}
	// Initial start plus one per restart.
	if got := rt.CallCount("ContainerStart stackup-blog-db"); got != 3 {
		t.Fatalf("container starts = %d, want 3", got)
	}
}

func TestUpRestartBudgetExhausted(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4", Restart: spec.RestartOnFailure},
	)
	rt := fake.NewRuntime()
	prober := proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
		return &probe.ReadinessTimeout{Service: svc.Name, Attempts: 1}
	})
	o := testOrchestrator(rt, prober, stack, Options{MaxRestarts: 2})

	report, err := o.Up(context.Background(), stack)
	if err == nil {
		t.Fatal("Up() error = nil, want readiness failure")
	}
	if report.Outcome != OutcomeFailed {
		t.Fatalf("report.Outcome = %s, want failed", report.Outcome)
	}

	db, _ := o.Store.Get("db")
	if db.Status != state.StatusFailed {
		t.Fatalf("db status = %s, want failed", db.Status)
	}
	if db.RestartCount != 2 {
		t.Fatalf("db.RestartCount = %d, want 2", db.RestartCount)
	}
}

func TestUpNoRestartPolicyFailsImmediately(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
	)
	rt := fake.NewRuntime()
	prober := proberFunc(func(ctx context.Context, container string, svc spec.ServiceSpec) error {
		return &probe.ReadinessTimeout{Service: svc.Name, Attempts: 1}
	})
	o := testOrchestrator(rt, prober, stack, Options{MaxRestarts: 5})

	if _, err := o.Up(context.Background(), stack); err == nil {
		t.Fatal("Up() error = nil, want readiness failure")
	}
	db, _ := o.Store.Get("db")
	if db.RestartCount != 0 {
		t.Fatalf("db.RestartCount = %d, want 0 without a restart policy", db.RestartCount)
	}
}

func TestUpRuntimeUnavailable(t *testing.T) {
	stack := testStack(spec.ServiceSpec{Name: "db", Image: "mysql:8.4"})
	rt := fake.NewRuntime()
	rt.ReadyErr = errors.New("dial unix /var/run/docker.sock: no such file")
	o := testOrchestrator(rt, readyProber, stack, Options{})

	report, err := o.Up(context.Background(), stack)
	if !errors.Is(err, runtime.ErrRuntimeUnavailable) {
		t.Fatalf("Up() error = %v, want ErrRuntimeUnavailable", err)
	}
	if report.Outcome != OutcomeRuntimeUnavailable {
		t.Fatalf("report.Outcome = %s, want runtime unavailable", report.Outcome)
	}
	if got := rt.CallCount("ContainerCreate stackup-blog-db"); got != 0 {
		t.Fatalf("container created %d times with unavailable runtime, want 0", got)
	}
}

func TestUpImagePullFailureIsRuntimeUnavailable(t *testing.T) {
	stack := testStack(spec.ServiceSpec{Name: "db", Image: "mysql:8.4"})
	rt := fake.NewRuntime()
	rt.PullErr = func(image string) error {
		return fmt.Errorf("pull %s: registry unreachable", image)
	}
	o := testOrchestrator(rt, readyProber, stack, Options{})

	report, err := o.Up(context.Background(), stack)
	if !errors.Is(err, runtime.ErrRuntimeUnavailable) {
		t.Fatalf("Up() error = %v, want ErrRuntimeUnavailable", err)
	}
	if report.Outcome != OutcomeRuntimeUnavailable {
		t.Fatalf("report.Outcome = %s, want runtime unavailable", report.Outcome)
	}
}

func TestUpCancellationStopsStartedServices(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
		spec.ServiceSpec{Name: "wordpress", Image: "wordpress:6.7", DependsOn: []string{"db"}},
	)
	rt := fake.NewRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	prober := proberFunc(func(probeCtx context.Context, container string, svc spec.ServiceSpec) error {
		cancel() // interrupt arrives while db is being probed
		<-probeCtx.Done()
		return probeCtx.Err()
	})
	o := testOrchestrator(rt, prober, stack, Options{})

	report, err := o.Up(ctx, stack)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Up() error = %v, want context.Canceled", err)
	}
	if report.Outcome != OutcomeCancelled {
		t.Fatalf("report.Outcome = %s, want cancelled", report.Outcome)
	}

	if rt.Running("stackup-blog-db") {
		t.Fatal("db container still running after cancellation unwind")
	}
	if got := rt.CallCount("ContainerCreate stackup-blog-wordpress"); got != 0 {
		t.Fatalf("wordpress created %d times after cancellation, want 0", got)
	}
}

func TestUpCycleStartsNothing(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "a", Image: "busybox:1.36", DependsOn: []string{"b"}},
		spec.ServiceSpec{Name: "b", Image: "busybox:1.36", DependsOn: []string{"a"}},
	)
	rt := fake.NewRuntime()
	o := testOrchestrator(rt, readyProber, stack, Options{})

	_, err := o.Up(context.Background(), stack)
	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Up() error = %v, want *graph.CycleError", err)
	}
	if calls := rt.Calls(); len(calls) != 0 {
		t.Fatalf("runtime touched on a cyclic graph: %v", calls)
	}
}

func TestUpCancellationUnblocksSiblingProbes(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
		spec.ServiceSpec{Name: "cache", Image: "redis:7.4"},
	)
	rt := fake.NewRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	var probing sync.WaitGroup
	probing.Add(2)
	go func() {
		probing.Wait()
		cancel() // both siblings are mid-probe when the interrupt lands
	}()
	prober := proberFunc(func(probeCtx context.Context, container string, svc spec.ServiceSpec) error {
		probing.Done()
		<-probeCtx.Done()
		return probeCtx.Err()
	})
	o := testOrchestrator(rt, prober, stack, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Up(ctx, stack)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Up() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Up() did not unwind promptly after cancellation")
	}
}

func TestUpIsIdempotent(t *testing.T) {
	stack := testStack(spec.ServiceSpec{Name: "db", Image: "mysql:8.4"})
	rt := fake.NewRuntime()
	o := testOrchestrator(rt, readyProber, stack, Options{})

	if _, err := o.Up(context.Background(), stack); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}

	o2 := testOrchestrator(rt, readyProber, stack, Options{})
	if _, err := o2.Up(context.Background(), stack); err != nil {
		t.Fatalf("second Up() error = %v", err)
	}

	if got := rt.CallCount("ContainerCreate stackup-blog-db"); got != 1 {
		t.Fatalf("container created %d times across two runs, want 1", got)
	}
	if got := rt.CallCount("NetworkCreate blog_default"); got != 1 {
		t.Fatalf("network created %d times across two runs, want 1", got)
	}
}

func TestDownStopsInReverseOrder(t *testing.T) {
	stack := testStack(
		spec.ServiceSpec{Name: "db", Image: "mysql:8.4"},
		spec.ServiceSpec{Name: "wordpress", Image: "wordpress:6.7", DependsOn: []string{"db"}},
	)
	rt := fake.NewRuntime()
	o := testOrchestrator(rt, readyProber, stack, Options{})

	if _, err := o.Up(context.Background(), stack); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if err := o.Down(context.Background(), stack); err != nil {
		t.Fatalf("Down() error = %v", err)
	}

	wpStop, dbStop := -1, -1
	for i, call := range rt.Calls() {
		switch call {
		case "ContainerStop stackup-blog-wordpress":
			wpStop = i
		case "ContainerStop stackup-blog-db":
			dbStop = i
		}
	}
	if wpStop == -1 || dbStop == -1 {
		t.Fatalf("missing stop calls, log = %v", rt.Calls())
	}
	if wpStop > dbStop {
		t.Fatal("wordpress must stop before its dependency db")
	}
	if rt.Running("stackup-blog-db") || rt.Running("stackup-blog-wordpress") {
		t.Fatal("containers still running after Down()")
	}

	db, _ := o.Store.Get("db")
	if db.Status != state.StatusStopped {
		t.Fatalf("db status = %s, want stopped", db.Status)
	}
}

func TestDownOnEmptyEngineIsNoop(t *testing.T) {
	stack := testStack(spec.ServiceSpec{Name: "db", Image: "mysql:8.4"})
	rt := fake.NewRuntime()
	o := testOrchestrator(rt, readyProber, stack, Options{})

	if err := o.Down(context.Background(), stack); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if got := rt.CallCount("ContainerStop stackup-blog-db"); got != 0 {
		t.Fatalf("stopped a container that never existed, calls = %d", got)
	}
}
