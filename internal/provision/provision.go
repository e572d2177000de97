// Package provision creates a stack's shared resources before any service
// starts: the bridge network and every named volume, each exactly once.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stackup/internal/runtime"
	"stackup/internal/spec"
)

// Provisioner creates the stack network and named volumes idempotently.
// Check-then-create runs under a process-wide advisory file lock so
// concurrent runs against the same stack never double-create.
type Provisioner struct {
	Runtime runtime.ContainerRuntime
	// LockDir holds the per-stack lock file; defaults to os.TempDir().
	LockDir string
}

// Ensure provisions the network and volumes for the stack. Safe to call on
// every run; existing resources are left untouched.
func (p *Provisioner) Ensure(ctx context.Context, stack *spec.Stack) error {
	unlock, err := acquireLock(p.lockPath(stack.Project))
	if err != nil {
		return fmt.Errorf("acquire provisioning lock: %w", err)
	}
	defer unlock()

	log := slog.With("component", "provision", "project", stack.Project)

	nw, err := p.Runtime.NetworkInspect(ctx, stack.Network.Name)
	if err != nil {
		return err
	}
	if !nw.Exists {
		if err := p.Runtime.NetworkCreate(ctx, stack.Network.Name, stack.Network.Driver); err != nil {
			return err
		}
		log.Debug("network created", "network", stack.Network.Name)
	}

	for _, vol := range stack.Volumes {
		info, err := p.Runtime.VolumeInspect(ctx, vol.Name)
		if err != nil {
			return err
		}
		if info.Exists {
			continue
		}
		if err := p.Runtime.VolumeCreate(ctx, vol.Name); err != nil {
			return err
		}
		log.Debug("volume created", "volume", vol.Name)
	}

	return nil
}

// Destroy removes the stack network. Named volumes outlive runs and are only
// removed when volumes is true.
func (p *Provisioner) Destroy(ctx context.Context, stack *spec.Stack, volumes bool) error {
	unlock, err := acquireLock(p.lockPath(stack.Project))
	if err != nil {
		return fmt.Errorf("acquire provisioning lock: %w", err)
	}
	defer unlock()

	if err := p.Runtime.NetworkRemove(ctx, stack.Network.Name); err != nil {
		return err
	}
	if !volumes {
		return nil
	}
	for _, vol := range stack.Volumes {
		if err := p.Runtime.VolumeRemove(ctx, vol.Name, false); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) lockPath(project string) string {
	dir := p.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "stackup-"+project+".lock")
}
