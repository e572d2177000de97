package graph

import (
	"errors"
	"testing"

	"stackup/internal/spec"
)

func svc(name string, deps ...string) spec.ServiceSpec {
	return spec.ServiceSpec{Name: name, Image: "busybox:1.36", DependsOn: deps}
}

func levelNames(levels [][]spec.ServiceSpec) [][]string {
	out := make([][]string, 0, len(levels))
	for _, level := range levels {
		names := make([]string, 0, len(level))
		for _, s := range level {
			names = append(names, s.Name)
		}
		out = append(out, names)
	}
	return out
}

func TestLevelsEmpty(t *testing.T) {
	levels, err := Levels(nil)
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}
	if levels != nil {
		t.Fatalf("Levels() = %v, want nil", levels)
	}
}

func TestLevelsChain(t *testing.T) {
	levels, err := Levels([]spec.ServiceSpec{
		svc("web", "api"),
		svc("api", "db"),
		svc("db"),
	})
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}

	got := levelNames(levels)
	want := [][]string{{"db"}, {"api"}, {"web"}}
	if len(got) != len(want) {
		t.Fatalf("Levels() = %v, want %v", got, want)
	}
	for i := range want {
		if len(got[i]) != 1 || got[i][0] != want[i][0] {
			t.Fatalf("Levels()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLevelsDependenciesBeforeDependents(t *testing.T) {
	services := []spec.ServiceSpec{
		svc("frontend", "api", "cache"),
		svc("api", "db"),
		svc("cache"),
		svc("db"),
		svc("metrics"),
	}

	levels, err := Levels(services)
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}

	position := make(map[string]int)
	for i, level := range levels {
		for _, s := range level {
			position[s.Name] = i
		}
	}
	for _, s := range services {
		for _, dep := range s.DependsOn {
			if position[dep] >= position[s.Name] {
				t.Fatalf("%s (level %d) not after dependency %s (level %d)",
					s.Name, position[s.Name], dep, position[dep])
			}
		}
	}
}

func TestLevelsDeclarationOrderWithinLevel(t *testing.T) {
	levels, err := Levels([]spec.ServiceSpec{
		svc("zebra"),
		svc("apple"),
		svc("mango"),
	})
	if err != nil {
		t.Fatalf("Levels() error = %v", err)
	}
	if len(levels) != 1 {
		t.Fatalf("len(levels) = %d, want 1", len(levels))
	}
	got := levelNames(levels)[0]
	want := []string{"zebra", "apple", "mango"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("level order = %v, want %v", got, want)
		}
	}
}

func TestLevelsCycle(t *testing.T) {
	_, err := Levels([]spec.ServiceSpec{
		svc("a", "b"),
		svc("b", "c"),
		svc("c", "a"),
	})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if len(cycleErr.Services) != 3 {
		t.Fatalf("cycle services = %v, want [a b c]", cycleErr.Services)
	}
}

func TestLevelsCycleExcludesDownstream(t *testing.T) {
	// web depends on the a<->b cycle but is not part of it.
	_, err := Levels([]spec.ServiceSpec{
		svc("a", "b"),
		svc("b", "a"),
		svc("web", "a"),
	})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if len(cycleErr.Services) != 2 || cycleErr.Services[0] != "a" || cycleErr.Services[1] != "b" {
		t.Fatalf("cycle services = %v, want [a b]", cycleErr.Services)
	}
}

func TestLevelsSelfCycle(t *testing.T) {
	_, err := Levels([]spec.ServiceSpec{svc("loop", "loop")})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}
	if len(cycleErr.Services) != 1 || cycleErr.Services[0] != "loop" {
		t.Fatalf("cycle services = %v, want [loop]", cycleErr.Services)
	}
}

func TestLevelsUnknownDependency(t *testing.T) {
	_, err := Levels([]spec.ServiceSpec{svc("web", "ghost")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
	var cycleErr *CycleError
	if errors.As(err, &cycleErr) {
		t.Fatalf("unknown dependency should not be a cycle, got %v", err)
	}
}
