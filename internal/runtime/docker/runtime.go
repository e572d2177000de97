// Package docker implements runtime.ContainerRuntime against the Docker
// Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"stackup/internal/runtime"
	"stackup/internal/spec"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockernetwork "github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

var _ runtime.ContainerRuntime = (*Runtime)(nil)

// Runtime drives a local Docker daemon.
type Runtime struct {
	cli *client.Client
}

// NewRuntime creates a Runtime with a new Docker client from the environment.
func NewRuntime(opts ...client.Opt) (*Runtime, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Runtime{cli: cli}, nil
}

// NewRuntimeFromClient wraps an existing Docker client.
func NewRuntimeFromClient(cli *client.Client) *Runtime {
	return &Runtime{cli: cli}
}

func (r *Runtime) WaitReady(ctx context.Context) error {
	return WaitReady(ctx, r.cli)
}

func (r *Runtime) ImagePull(ctx context.Context, img string) error {
	pull, err := r.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return wrapUnavailable(fmt.Errorf("pull image %q: %w", img, err))
	}
	_, _ = io.Copy(io.Discard, pull)
	_ = pull.Close()
	return nil
}

func (r *Runtime) ContainerCreate(ctx context.Context, cfg runtime.ContainerCreateConfig) error {
	exposed, bindings, err := portBindings(cfg.Ports)
	if err != nil {
		return fmt.Errorf("create container %q: %w", cfg.Name, err)
	}

	cc := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Command,
		Entrypoint:   cfg.Entrypoint,
		Env:          cfg.Env,
		Labels:       cfg.Labels,
		ExposedPorts: exposed,
	}
	// Engine-level restart policy stays off: restarts are an explicit
	// orchestrator transition with a visible counter, not an engine loop.
	hc := &container.HostConfig{
		PortBindings: bindings,
	}
	for _, m := range cfg.Mounts {
		kind := mount.TypeBind
		if m.Named {
			kind = mount.TypeVolume
		}
		hc.Mounts = append(hc.Mounts, mount.Mount{
			Type:     kind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	var netCfg *dockernetwork.NetworkingConfig
	if cfg.Network != "" {
		endpoint := &dockernetwork.EndpointSettings{}
		if cfg.Alias != "" {
			endpoint.Aliases = []string{cfg.Alias}
		}
		netCfg = &dockernetwork.NetworkingConfig{
			EndpointsConfig: map[string]*dockernetwork.EndpointSettings{cfg.Network: endpoint},
		}
	}

	if _, err := r.cli.ContainerCreate(ctx, cc, hc, netCfg, nil, cfg.Name); err != nil {
		return wrapUnavailable(fmt.Errorf("create container %q: %w", cfg.Name, err))
	}
	return nil
}

func (r *Runtime) ContainerStart(ctx context.Context, name string) error {
	if err := r.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return wrapUnavailable(fmt.Errorf("start container %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) ContainerStop(ctx context.Context, name string, grace time.Duration) error {
	opts := container.StopOptions{}
	if grace > 0 {
		seconds := int(grace / time.Second)
		opts.Timeout = &seconds
	}
	if err := r.cli.ContainerStop(ctx, name, opts); err != nil && !errdefs.IsNotFound(err) {
		return wrapUnavailable(fmt.Errorf("stop container %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) ContainerRemove(ctx context.Context, name string, force bool) error {
	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}); err != nil && !errdefs.IsNotFound(err) {
		return wrapUnavailable(fmt.Errorf("remove container %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) ContainerInspect(ctx context.Context, name string) (runtime.ContainerInfo, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.ContainerInfo{Exists: false}, nil
		}
		return runtime.ContainerInfo{}, wrapUnavailable(fmt.Errorf("inspect container %q: %w", name, err))
	}

	out := runtime.ContainerInfo{Exists: true}
	if info.State != nil {
		out.Running = info.State.Running
	}
	if info.NetworkSettings != nil {
		for _, endpoint := range info.NetworkSettings.Networks {
			if endpoint.IPAddress != "" {
				out.Address = endpoint.IPAddress
				break
			}
		}
	}
	return out, nil
}

func (r *Runtime) ContainerExec(ctx context.Context, name string, cmd []string) (runtime.ExecResult, error) {
	created, err := r.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return runtime.ExecResult{}, wrapUnavailable(fmt.Errorf("create exec in %q: %w", name, err))
	}

	attach, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecResult{}, wrapUnavailable(fmt.Errorf("attach exec in %q: %w", name, err))
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return runtime.ExecResult{}, fmt.Errorf("read exec output in %q: %w", name, err)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return runtime.ExecResult{}, wrapUnavailable(fmt.Errorf("inspect exec in %q: %w", name, err))
	}

	output := stdout.String()
	if inspect.ExitCode != 0 && stderr.Len() > 0 {
		output = stderr.String()
	}
	return runtime.ExecResult{ExitCode: inspect.ExitCode, Output: output}, nil
}

func (r *Runtime) NetworkInspect(ctx context.Context, name string) (runtime.NetworkInfo, error) {
	nw, err := r.cli.NetworkInspect(ctx, name, dockernetwork.InspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.NetworkInfo{Exists: false}, nil
		}
		return runtime.NetworkInfo{}, wrapUnavailable(fmt.Errorf("inspect network %q: %w", name, err))
	}
	return runtime.NetworkInfo{ID: nw.ID, Driver: nw.Driver, Exists: true}, nil
}

func (r *Runtime) NetworkCreate(ctx context.Context, name, driver string) error {
	_, err := r.cli.NetworkCreate(ctx, name, dockernetwork.CreateOptions{
		Driver: driver,
		Scope:  "local",
	})
	if err != nil && !errdefs.IsConflict(err) {
		return wrapUnavailable(fmt.Errorf("create network %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) NetworkRemove(ctx context.Context, name string) error {
	if err := r.cli.NetworkRemove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return wrapUnavailable(fmt.Errorf("remove network %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) VolumeInspect(ctx context.Context, name string) (runtime.VolumeInfo, error) {
	vol, err := r.cli.VolumeInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.VolumeInfo{Exists: false}, nil
		}
		return runtime.VolumeInfo{}, wrapUnavailable(fmt.Errorf("inspect volume %q: %w", name, err))
	}
	return runtime.VolumeInfo{Name: vol.Name, Exists: true}, nil
}

func (r *Runtime) VolumeCreate(ctx context.Context, name string) error {
	if _, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return wrapUnavailable(fmt.Errorf("create volume %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) VolumeRemove(ctx context.Context, name string, force bool) error {
	if err := r.cli.VolumeRemove(ctx, name, force); err != nil && !errdefs.IsNotFound(err) {
		return wrapUnavailable(fmt.Errorf("remove volume %q: %w", name, err))
	}
	return nil
}

func (r *Runtime) Close() error {
	return r.cli.Close()
}

func portBindings(ports []spec.PortMapping) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(int(p.ContainerPort)))
		if err != nil {
			return nil, nil, fmt.Errorf("port %d/%s: %w", p.ContainerPort, p.Protocol, err)
		}
		exposed[port] = struct{}{}
		if p.HostPort > 0 {
			bindings[port] = append(bindings[port], nat.PortBinding{
				HostPort: strconv.Itoa(int(p.HostPort)),
			})
		}
	}
	return exposed, bindings, nil
}

// wrapUnavailable tags daemon connectivity failures with
// runtime.ErrRuntimeUnavailable so the orchestrator aborts instead of
// retrying per service.
func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %w", runtime.ErrRuntimeUnavailable, err)
	}
	return err
}
