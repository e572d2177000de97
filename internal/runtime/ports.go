// Package runtime defines the container-engine port the orchestrator drives.
package runtime

import (
	"context"
	"errors"
	"time"

	"stackup/internal/spec"
)

// ErrRuntimeUnavailable marks failures where the container engine itself
// cannot be reached. It is fatal to a run: remaining levels are aborted.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// Clock abstracts time.Now() for deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// ContainerRuntime abstracts container engine operations.
// Production: runtime/docker.Runtime (wrapping Docker *client.Client)
// Testing: fake.Runtime
type ContainerRuntime interface {
	// Engine health
	WaitReady(ctx context.Context) error

	// Container lifecycle
	ImagePull(ctx context.Context, image string) error
	ContainerCreate(ctx context.Context, cfg ContainerCreateConfig) error
	ContainerStart(ctx context.Context, name string) error
	ContainerStop(ctx context.Context, name string, grace time.Duration) error
	ContainerRemove(ctx context.Context, name string, force bool) error
	ContainerInspect(ctx context.Context, name string) (ContainerInfo, error)
	ContainerExec(ctx context.Context, name string, cmd []string) (ExecResult, error)

	// Stack network
	NetworkInspect(ctx context.Context, name string) (NetworkInfo, error)
	NetworkCreate(ctx context.Context, name, driver string) error
	NetworkRemove(ctx context.Context, name string) error

	// Named volumes
	VolumeInspect(ctx context.Context, name string) (VolumeInfo, error)
	VolumeCreate(ctx context.Context, name string) error
	VolumeRemove(ctx context.Context, name string, force bool) error

	Close() error
}

// ContainerCreateConfig carries everything needed to create one service
// container attached to the stack network.
type ContainerCreateConfig struct {
	Name       string
	Image      string
	Command    []string
	Entrypoint []string
	Env        []string
	Mounts     []spec.Mount
	Ports      []spec.PortMapping
	Labels     map[string]string
	Network    string
	// Alias is the service name; it provides name-based discovery on the
	// stack network.
	Alias string
}

// ContainerInfo describes the observed state of a container.
type ContainerInfo struct {
	Exists  bool
	Running bool
	// Address is the container's IP on the stack network, empty when not
	// attached or not running.
	Address string
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Output   string
}

// NetworkInfo describes the state of a stack network.
type NetworkInfo struct {
	ID     string
	Driver string
	Exists bool
}

// VolumeInfo describes the state of a named volume.
type VolumeInfo struct {
	Name   string
	Exists bool
}
