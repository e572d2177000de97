package provision

import (
	"context"
	"testing"

	"stackup/internal/fake"
	"stackup/internal/spec"
)

func testStack() *spec.Stack {
	return &spec.Stack{
		Project: "blog",
		Services: []spec.ServiceSpec{
			{Name: "db", Image: "mysql:8.4", Mounts: []spec.Mount{{Source: "dbdata", Target: "/var/lib/mysql", Named: true}}},
		},
		Volumes: []spec.VolumeSpec{{Name: "dbdata"}},
		Network: spec.NetworkSpec{Name: "blog_default", Driver: "bridge"},
	}
}

func TestEnsureCreatesResources(t *testing.T) {
	rt := fake.NewRuntime()
	p := &Provisioner{Runtime: rt, LockDir: t.TempDir()}

	if err := p.Ensure(context.Background(), testStack()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if got := rt.CallCount("NetworkCreate blog_default"); got != 1 {
		t.Fatalf("network creates = %d, want 1", got)
	}
	if got := rt.CallCount("VolumeCreate dbdata"); got != 1 {
		t.Fatalf("volume creates = %d, want 1", got)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	rt := fake.NewRuntime()
	p := &Provisioner{Runtime: rt, LockDir: t.TempDir()}
	ctx := context.Background()
	stack := testStack()

	if err := p.Ensure(ctx, stack); err != nil {
		t.Fatalf("first Ensure() error = %v", err)
	}
	if err := p.Ensure(ctx, stack); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}

	if got := rt.CallCount("NetworkCreate blog_default"); got != 1 {
		t.Fatalf("network creates across two runs = %d, want 1", got)
	}
	if got := rt.CallCount("VolumeCreate dbdata"); got != 1 {
		t.Fatalf("volume creates across two runs = %d, want 1", got)
	}
}

func TestDestroyKeepsVolumesByDefault(t *testing.T) {
	rt := fake.NewRuntime()
	p := &Provisioner{Runtime: rt, LockDir: t.TempDir()}
	ctx := context.Background()
	stack := testStack()

	if err := p.Ensure(ctx, stack); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := p.Destroy(ctx, stack, false); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	if got := rt.CallCount("NetworkRemove blog_default"); got != 1 {
		t.Fatalf("network removes = %d, want 1", got)
	}
	if got := rt.CallCount("VolumeRemove dbdata"); got != 0 {
		t.Fatalf("volume removes = %d, want 0; volumes persist by default", got)
	}
}

func TestDestroyRemovesVolumesWhenAsked(t *testing.T) {
	rt := fake.NewRuntime()
	p := &Provisioner{Runtime: rt, LockDir: t.TempDir()}
	ctx := context.Background()
	stack := testStack()

	if err := p.Ensure(ctx, stack); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if err := p.Destroy(ctx, stack, true); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if got := rt.CallCount("VolumeRemove dbdata"); got != 1 {
		t.Fatalf("volume removes = %d, want 1", got)
	}
}
