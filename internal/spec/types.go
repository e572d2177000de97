package spec

import "time"

// RestartPolicy controls whether a failed service is restarted.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "no"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// CheckKind selects how a service's readiness is probed.
type CheckKind string

const (
	CheckNone CheckKind = "none"
	CheckTCP  CheckKind = "tcp"
	CheckHTTP CheckKind = "http"
	CheckExec CheckKind = "exec"
)

// ServiceSpec is the normalized, immutable description of one service.
// Loaded once by Load and never mutated afterwards.
type ServiceSpec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"`
	Entrypoint  []string          `json:"entrypoint,omitempty"`
	Environment []string          `json:"environment,omitempty"`
	Mounts      []Mount           `json:"mounts,omitempty"`
	Ports       []PortMapping     `json:"ports,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Restart     RestartPolicy     `json:"restart,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Readiness   ReadinessPolicy   `json:"readiness"`
}

// Mount maps a named volume or host path into the container.
type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
	Named    bool   `json:"named,omitempty"`
}

type PortMapping struct {
	HostPort      uint16 `json:"host_port"`
	ContainerPort uint16 `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// ReadinessPolicy configures the probe loop for one service.
//
// Attempts bounds the number of checks; Deadline, when non-zero, bounds the
// whole wait regardless of attempts. Timeout applies to a single check.
type ReadinessPolicy struct {
	Kind     CheckKind     `json:"kind"`
	Port     uint16        `json:"port,omitempty"`
	Path     string        `json:"path,omitempty"`
	Command  []string      `json:"command,omitempty"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
	Attempts int           `json:"attempts"`
	Deadline time.Duration `json:"deadline,omitempty"`
}

// VolumeSpec is a named volume. Created on first use, persists across runs
// until explicitly destroyed.
type VolumeSpec struct {
	Name string `json:"name"`
}

// NetworkSpec is the stack's user-defined bridge network. Every service in
// the stack joins it and resolves siblings by service name.
type NetworkSpec struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

// Stack is the validated output of Load. Services preserve the declaration
// order of the source document.
type Stack struct {
	Project  string        `json:"project"`
	Services []ServiceSpec `json:"services"`
	Volumes  []VolumeSpec  `json:"volumes,omitempty"`
	Network  NetworkSpec   `json:"network"`
}

// Service returns the spec for name. The bool is false when name is not
// part of the stack.
func (s *Stack) Service(name string) (ServiceSpec, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceSpec{}, false
}

// ServiceNames returns all service names in declaration order.
func (s *Stack) ServiceNames() []string {
	out := make([]string, 0, len(s.Services))
	for _, svc := range s.Services {
		out = append(out, svc.Name)
	}
	return out
}
