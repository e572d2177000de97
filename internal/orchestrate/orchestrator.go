// Package orchestrate drives the container lifecycle for a stack: start in
// dependency order, wait for readiness, restart within budget, stop in
// reverse order.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stackup/internal/check"
	"stackup/internal/graph"
	"stackup/internal/provision"
	"stackup/internal/runtime"
	"stackup/internal/spec"
	"stackup/internal/state"
)

const (
	labelProject = "stackup.project"
	labelService = "stackup.service"

	// cancelStopGrace bounds the best-effort teardown after a user
	// interrupt; the normal grace period would stretch an already-aborted
	// run.
	cancelStopGrace = 2 * time.Second
)

// Orchestrator owns all writes to the state store for the duration of a run.
type Orchestrator struct {
	Runtime runtime.ContainerRuntime
	Prober  ReadinessProber
	Store   *state.Store
	Clock   runtime.Clock
	Events  chan<- Event
	Opts    Options

	provisioner *provision.Provisioner
}

// New wires an orchestrator. All arguments are required except events.
func New(rt runtime.ContainerRuntime, prober ReadinessProber, store *state.Store, clock runtime.Clock, events chan<- Event, opts Options) *Orchestrator {
	check.Assert(rt != nil, "orchestrate.New: container runtime must not be nil")
	check.Assert(prober != nil, "orchestrate.New: prober must not be nil")
	check.Assert(store != nil, "orchestrate.New: state store must not be nil")
	if clock == nil {
		clock = runtime.RealClock{}
	}
	return &Orchestrator{
		Runtime:     rt,
		Prober:      prober,
		Store:       store,
		Clock:       clock,
		Events:      events,
		Opts:        opts,
		provisioner: &provision.Provisioner{Runtime: rt},
	}
}

// Up brings the whole stack to Ready. Levels are processed strictly in
// order; services inside a level start and are probed concurrently. A
// permanent per-service failure halts its dependents but not independent
// services (fail-forward). The returned Report always carries the final
// state table, error or not.
func (o *Orchestrator) Up(ctx context.Context, stack *spec.Stack) (Report, error) {
	opts := o.Opts.withDefaults()

	levels, err := graph.Levels(stack.Services)
	if err != nil {
		return o.report(stack, OutcomeFailed, nil), err
	}

	if err := o.Runtime.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return o.report(stack, OutcomeCancelled, nil), ctx.Err()
		}
		err = fmt.Errorf("%w: %w", runtime.ErrRuntimeUnavailable, err)
		return o.report(stack, OutcomeRuntimeUnavailable, nil), err
	}

	if err := o.provisioner.Ensure(ctx, stack); err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, runtime.ErrRuntimeUnavailable) {
			outcome = OutcomeRuntimeUnavailable
		}
		return o.report(stack, outcome, nil), err
	}

	var (
		runErr       error
		neverStarted []string
	)

levelLoop:
	for levelIdx, level := range levels {
		if ctx.Err() != nil {
			runErr = ctx.Err()
			neverStarted = append(neverStarted, pendingNames(o.Store, level)...)
			neverStarted = append(neverStarted, levelNames(levels[levelIdx+1:])...)
			break
		}
		emit(o.Events, Event{Type: "level_started", Level: levelIdx})

		runnable := make([]spec.ServiceSpec, 0, len(level))
		for _, svc := range level {
			blockedBy := o.failedDependency(svc)
			if blockedBy == "" {
				runnable = append(runnable, svc)
				continue
			}
			if opts.Mode == StartDegraded {
				o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
					rs.Degraded = true
					return rs
				})
				runnable = append(runnable, svc)
				emit(o.Events, Event{Type: "service_degraded", Level: levelIdx, Service: svc.Name, Message: "dependency " + blockedBy + " not ready"})
				continue
			}
			neverStarted = append(neverStarted, svc.Name)
			o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
				rs.Err = "never started: dependency " + blockedBy + " not ready"
				return rs
			})
			emit(o.Events, Event{Type: "service_skipped", Level: levelIdx, Service: svc.Name, Message: "dependency " + blockedBy + " not ready"})
		}

		errs := make([]error, len(runnable))
		var wg sync.WaitGroup
		for i, svc := range runnable {
			wg.Add(1)
			go func(i int, svc spec.ServiceSpec) {
				defer wg.Done()
				errs[i] = o.bringUp(ctx, stack, svc, levelIdx, opts)
			}(i, svc)
		}
		wg.Wait()

		for i, err := range errs {
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				runErr = ctx.Err()
				neverStarted = append(neverStarted, levelNames(levels[levelIdx+1:])...)
				break levelLoop
			}
			if errors.Is(err, runtime.ErrRuntimeUnavailable) {
				runErr = err
				neverStarted = append(neverStarted, levelNames(levels[levelIdx+1:])...)
				break levelLoop
			}
			slog.Warn("service failed permanently", "service", runnable[i].Name, "err", err)
			if runErr == nil {
				runErr = err
			}
		}
		emit(o.Events, Event{Type: "level_complete", Level: levelIdx})
	}

	if runErr == nil {
		emit(o.Events, Event{Type: "stack_ready"})
		return o.report(stack, OutcomeReady, nil), nil
	}

	outcome := OutcomeFailed
	switch {
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		outcome = OutcomeCancelled
		o.stopStarted(context.WithoutCancel(ctx), stack, levels)
	case errors.Is(runErr, runtime.ErrRuntimeUnavailable):
		outcome = OutcomeRuntimeUnavailable
	}
	return o.report(stack, outcome, neverStarted), runErr
}

// bringUp starts one service's container and waits for readiness,
// restarting within the policy budget.
func (o *Orchestrator) bringUp(ctx context.Context, stack *spec.Stack, svc spec.ServiceSpec, level int, opts Options) error {
	name := spec.ContainerName(stack.Project, svc.Name)

	o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
		rs.Status = rs.Status.Transition(state.StatusStarting)
		rs.StartedAt = o.Clock.Now()
		rs.Err = ""
		return rs
	})
	emit(o.Events, Event{Type: "service_starting", Level: level, Service: svc.Name})

	if err := o.ensureRunning(ctx, stack, svc, name); err != nil {
		o.markFailed(svc.Name, err)
		return err
	}

	restarts := 0
	for {
		probeErr := o.Prober.Probe(ctx, name, svc)
		if probeErr == nil {
			o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
				rs.Status = rs.Status.Transition(state.StatusReady)
				rs.LastProbe = "ok"
				return rs
			})
			emit(o.Events, Event{Type: "service_ready", Level: level, Service: svc.Name})
			return nil
		}
		if ctx.Err() != nil {
			o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
				rs.Err = "cancelled"
				return rs
			})
			return ctx.Err()
		}
		if errors.Is(probeErr, runtime.ErrRuntimeUnavailable) {
			o.markFailed(svc.Name, probeErr)
			return probeErr
		}

		if !restartable(svc.Restart) || restarts >= opts.MaxRestarts {
			o.markFailed(svc.Name, probeErr)
			emit(o.Events, Event{Type: "service_failed", Level: level, Service: svc.Name, Message: probeErr.Error()})
			return probeErr
		}

		restarts++
		o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
			rs.Status = rs.Status.Transition(state.StatusFailed)
			rs.LastProbe = probeErr.Error()
			rs.RestartCount = restarts
			return rs
		})
		delay := restartBackoff(restarts, opts.BackoffBase, opts.BackoffCeiling)
		emit(o.Events, Event{Type: "service_restarting", Level: level, Service: svc.Name, Message: fmt.Sprintf("restart %d in %s", restarts, delay)})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if err := o.Runtime.ContainerStop(ctx, name, opts.GracePeriod); err != nil {
			o.markFailed(svc.Name, err)
			return err
		}
		if err := o.Runtime.ContainerStart(ctx, name); err != nil {
			o.markFailed(svc.Name, err)
			return err
		}
		o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
			rs.Status = rs.Status.Transition(state.StatusStarting)
			return rs
		})
	}
}

// ensureRunning is idempotent across runs: an already-running container is
// left alone, a stopped one is started, a missing one is pulled, created
// and started.
func (o *Orchestrator) ensureRunning(ctx context.Context, stack *spec.Stack, svc spec.ServiceSpec, name string) error {
	info, err := o.Runtime.ContainerInspect(ctx, name)
	if err != nil {
		return err
	}
	if info.Exists {
		if info.Running {
			return nil
		}
		return o.Runtime.ContainerStart(ctx, name)
	}

	if err := o.Runtime.ImagePull(ctx, svc.Image); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, runtime.ErrRuntimeUnavailable) {
			err = fmt.Errorf("%w: %w", runtime.ErrRuntimeUnavailable, err)
		}
		return err
	}

	labels := map[string]string{
		labelProject: stack.Project,
		labelService: svc.Name,
	}
	for k, v := range svc.Labels {
		labels[k] = v
	}

	cfg := runtime.ContainerCreateConfig{
		Name:       name,
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        svc.Environment,
		Mounts:     svc.Mounts,
		Ports:      svc.Ports,
		Labels:     labels,
		Network:    stack.Network.Name,
		Alias:      svc.Name,
	}
	if err := o.Runtime.ContainerCreate(ctx, cfg); err != nil {
		return err
	}
	return o.Runtime.ContainerStart(ctx, name)
}

// Down stops the stack in reverse dependency order: dependents before their
// dependencies, each with the configured grace period, then removes the
// containers. The network and volumes are left to the provisioner.
func (o *Orchestrator) Down(ctx context.Context, stack *spec.Stack) error {
	opts := o.Opts.withDefaults()

	levels, err := graph.Levels(stack.Services)
	if err != nil {
		return err
	}

	var firstErr error
	for levelIdx := len(levels) - 1; levelIdx >= 0; levelIdx-- {
		level := levels[levelIdx]
		errs := make([]error, len(level))
		var wg sync.WaitGroup
		for i, svc := range level {
			wg.Add(1)
			go func(i int, svc spec.ServiceSpec) {
				defer wg.Done()
				errs[i] = o.tearDown(ctx, stack, svc, opts.GracePeriod)
			}(i, svc)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (o *Orchestrator) tearDown(ctx context.Context, stack *spec.Stack, svc spec.ServiceSpec, grace time.Duration) error {
	name := spec.ContainerName(stack.Project, svc.Name)
	info, err := o.Runtime.ContainerInspect(ctx, name)
	if err != nil {
		return err
	}
	if !info.Exists {
		return nil
	}
	if err := o.Runtime.ContainerStop(ctx, name, grace); err != nil {
		return err
	}
	if err := o.Runtime.ContainerRemove(ctx, name, false); err != nil {
		return err
	}
	// Observed teardown state, not a lifecycle transition: down also runs
	// against stacks this process never started.
	o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
		rs.Status = state.StatusStopped
		return rs
	})
	emit(o.Events, Event{Type: "service_stopped", Service: svc.Name})
	return nil
}

// stopStarted is the best-effort unwind after cancellation. Errors are
// logged, not surfaced; the run's verdict is already Cancelled.
func (o *Orchestrator) stopStarted(ctx context.Context, stack *spec.Stack, levels [][]spec.ServiceSpec) {
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for levelIdx := len(levels) - 1; levelIdx >= 0; levelIdx-- {
		for _, svc := range levels[levelIdx] {
			rs, ok := o.Store.Get(svc.Name)
			if !ok || rs.Status == state.StatusPending {
				continue
			}
			name := spec.ContainerName(stack.Project, svc.Name)
			if err := o.Runtime.ContainerStop(stopCtx, name, cancelStopGrace); err != nil {
				slog.Debug("best-effort stop failed", "service", svc.Name, "err", err)
				continue
			}
			o.Store.Update(svc.Name, func(rs state.RuntimeState) state.RuntimeState {
				rs.Status = state.StatusStopped
				return rs
			})
		}
	}
}

func (o *Orchestrator) markFailed(service string, err error) {
	o.Store.Update(service, func(rs state.RuntimeState) state.RuntimeState {
		rs.Status = rs.Status.Transition(state.StatusFailed)
		rs.Err = err.Error()
		return rs
	})
}

// failedDependency returns the name of the first dependency that is not
// Ready, or "" when the service may start.
func (o *Orchestrator) failedDependency(svc spec.ServiceSpec) string {
	for _, dep := range svc.DependsOn {
		rs, ok := o.Store.Get(dep)
		if !ok || rs.Status != state.StatusReady {
			return dep
		}
	}
	return ""
}

func (o *Orchestrator) report(stack *spec.Stack, outcome Outcome, neverStarted []string) Report {
	return Report{
		Project:      stack.Project,
		Outcome:      outcome,
		Services:     o.Store.Snapshot(),
		NeverStarted: neverStarted,
	}
}

func restartable(policy spec.RestartPolicy) bool {
	return policy == spec.RestartOnFailure || policy == spec.RestartAlways
}

func pendingNames(store *state.Store, level []spec.ServiceSpec) []string {
	out := make([]string, 0)
	for _, svc := range level {
		if rs, ok := store.Get(svc.Name); ok && rs.Status == state.StatusPending {
			out = append(out, svc.Name)
		}
	}
	return out
}

func levelNames(levels [][]spec.ServiceSpec) []string {
	out := make([]string, 0)
	for _, level := range levels {
		for _, svc := range level {
			out = append(out, svc.Name)
		}
	}
	return out
}
