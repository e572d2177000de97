// Package graph orders a stack's services into start levels.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"stackup/internal/spec"
)

// CycleError reports a dependency cycle. Nothing is started when the
// resolver returns one.
type CycleError struct {
	Services []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among services %s", strings.Join(e.Services, ", "))
}

// Levels partitions services into start levels: every service appears in a
// later level than all of its dependencies, and services inside one level
// have no ordering constraints between them.
//
// Services with no constraint between them keep their declaration order, so
// the schedule is deterministic for a given document.
func Levels(services []spec.ServiceSpec) ([][]spec.ServiceSpec, error) {
	if len(services) == 0 {
		return nil, nil
	}

	byName := make(map[string]spec.ServiceSpec, len(services))
	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))

	for _, svc := range services {
		name := strings.TrimSpace(svc.Name)
		if name == "" {
			return nil, fmt.Errorf("resolve levels: service name is required")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("resolve levels: duplicate service %q", name)
		}
		byName[name] = svc
		inDegree[name] = 0
	}

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			dep = strings.TrimSpace(dep)
			if dep == "" {
				continue
			}
			if dep == svc.Name {
				return nil, &CycleError{Services: []string{svc.Name}}
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("resolve levels: service %q depends on unknown service %q", svc.Name, dep)
			}
			dependents[dep] = append(dependents[dep], svc.Name)
			inDegree[svc.Name]++
		}
	}

	// Kahn's algorithm; each round selects every zero-degree service in
	// declaration order, which both levels the graph and keeps sibling
	// ordering stable.
	placed := make(map[string]bool, len(services))
	processed := 0
	levels := make([][]spec.ServiceSpec, 0)

	for processed < len(services) {
		level := make([]spec.ServiceSpec, 0)
		for _, svc := range services {
			if placed[svc.Name] || inDegree[svc.Name] != 0 {
				continue
			}
			level = append(level, svc)
			placed[svc.Name] = true
		}
		if len(level) == 0 {
			return nil, &CycleError{Services: cycleParticipants(services, placed)}
		}
		for _, svc := range level {
			processed++
			for _, dependent := range dependents[svc.Name] {
				inDegree[dependent]--
			}
		}
		levels = append(levels, level)
	}

	return levels, nil
}

// cycleParticipants trims the stuck remainder down to the services actually
// on a cycle: nodes that merely depend on the cycle are pruned until every
// remaining node still has a remaining dependent.
func cycleParticipants(services []spec.ServiceSpec, placed map[string]bool) []string {
	remaining := make(map[string]bool)
	for _, svc := range services {
		if !placed[svc.Name] {
			remaining[svc.Name] = true
		}
	}

	for {
		pruned := false
		for _, svc := range services {
			if !remaining[svc.Name] {
				continue
			}
			hasDependent := false
			for _, other := range services {
				if !remaining[other.Name] || other.Name == svc.Name {
					continue
				}
				for _, dep := range other.DependsOn {
					if dep == svc.Name {
						hasDependent = true
						break
					}
				}
				if hasDependent {
					break
				}
			}
			if !hasDependent {
				delete(remaining, svc.Name)
				pruned = true
			}
		}
		if !pruned {
			break
		}
	}

	out := make([]string, 0, len(remaining))
	for name := range remaining {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
