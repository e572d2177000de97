// Package fake provides in-memory test doubles for the runtime port.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stackup/internal/runtime"
)

var _ runtime.ContainerRuntime = (*Runtime)(nil)

type fakeContainer struct {
	cfg     runtime.ContainerCreateConfig
	running bool
}

// Runtime is an in-memory implementation of runtime.ContainerRuntime.
// Zero value is not usable; construct with NewRuntime.
type Runtime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	networks   map[string]runtime.NetworkInfo
	volumes    map[string]bool
	calls      []string

	// Scripted failure hooks. Nil hooks never fail.
	StartErr func(name string) error
	PullErr  func(image string) error
	ExecFn   func(name string, cmd []string) (runtime.ExecResult, error)
	ReadyErr error
}

func NewRuntime() *Runtime {
	return &Runtime{
		containers: make(map[string]*fakeContainer),
		networks:   make(map[string]runtime.NetworkInfo),
		volumes:    make(map[string]bool),
	}
}

func (r *Runtime) record(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns the operation log in invocation order.
func (r *Runtime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallCount returns how many recorded operations match op exactly.
func (r *Runtime) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if call == op {
			n++
		}
	}
	return n
}

// Running reports whether the named container is currently running.
func (r *Runtime) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	return ok && c.running
}

func (r *Runtime) WaitReady(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.ReadyErr
}

func (r *Runtime) ImagePull(ctx context.Context, image string) error {
	r.mu.Lock()
	r.record("ImagePull %s", image)
	r.mu.Unlock()
	if r.PullErr != nil {
		return r.PullErr(image)
	}
	return ctx.Err()
}

func (r *Runtime) ContainerCreate(ctx context.Context, cfg runtime.ContainerCreateConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ContainerCreate %s", cfg.Name)
	if _, exists := r.containers[cfg.Name]; exists {
		return fmt.Errorf("container %q already exists", cfg.Name)
	}
	r.containers[cfg.Name] = &fakeContainer{cfg: cfg}
	return ctx.Err()
}

func (r *Runtime) ContainerStart(ctx context.Context, name string) error {
	r.mu.Lock()
	r.record("ContainerStart %s", name)
	c, ok := r.containers[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("container %q does not exist", name)
	}
	if r.StartErr != nil {
		if err := r.StartErr(name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	c.running = true
	r.mu.Unlock()
	return ctx.Err()
}

func (r *Runtime) ContainerStop(ctx context.Context, name string, grace time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ContainerStop %s", name)
	if c, ok := r.containers[name]; ok {
		c.running = false
	}
	return ctx.Err()
}

func (r *Runtime) ContainerRemove(ctx context.Context, name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("ContainerRemove %s", name)
	delete(r.containers, name)
	return ctx.Err()
}

func (r *Runtime) ContainerInspect(ctx context.Context, name string) (runtime.ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return runtime.ContainerInfo{Exists: false}, ctx.Err()
	}
	info := runtime.ContainerInfo{Exists: true, Running: c.running}
	if c.running {
		info.Address = "127.0.0.1"
	}
	return info, ctx.Err()
}

func (r *Runtime) ContainerExec(ctx context.Context, name string, cmd []string) (runtime.ExecResult, error) {
	r.mu.Lock()
	r.record("ContainerExec %s", name)
	_, ok := r.containers[name]
	r.mu.Unlock()
	if !ok {
		return runtime.ExecResult{}, fmt.Errorf("container %q does not exist", name)
	}
	if r.ExecFn != nil {
		return r.ExecFn(name, cmd)
	}
	return runtime.ExecResult{ExitCode: 0}, ctx.Err()
}

func (r *Runtime) NetworkInspect(ctx context.Context, name string) (runtime.NetworkInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("NetworkInspect %s", name)
	info, ok := r.networks[name]
	if !ok {
		return runtime.NetworkInfo{Exists: false}, ctx.Err()
	}
	return info, ctx.Err()
}

func (r *Runtime) NetworkCreate(ctx context.Context, name, driver string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("NetworkCreate %s", name)
	if _, exists := r.networks[name]; exists {
		return fmt.Errorf("network %q already exists", name)
	}
	r.networks[name] = runtime.NetworkInfo{ID: "net-" + name, Driver: driver, Exists: true}
	return ctx.Err()
}

func (r *Runtime) NetworkRemove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("NetworkRemove %s", name)
	delete(r.networks, name)
	return ctx.Err()
}

func (r *Runtime) VolumeInspect(ctx context.Context, name string) (runtime.VolumeInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("VolumeInspect %s", name)
	return runtime.VolumeInfo{Name: name, Exists: r.volumes[name]}, ctx.Err()
}

func (r *Runtime) VolumeCreate(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("VolumeCreate %s", name)
	if r.volumes[name] {
		return fmt.Errorf("volume %q already exists", name)
	}
	r.volumes[name] = true
	return ctx.Err()
}

func (r *Runtime) VolumeRemove(ctx context.Context, name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("VolumeRemove %s", name)
	delete(r.volumes, name)
	return ctx.Err()
}

func (r *Runtime) Close() error { return nil }
