package spec

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	compose "github.com/compose-spec/compose-go/v2/types"
)

const (
	defaultProbeInterval = 2 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	defaultProbeAttempts = 30

	readinessExtension = "x-readiness"
)

func normalizeService(svc compose.ServiceConfig) (ServiceSpec, error) {
	name := strings.TrimSpace(svc.Name)
	if name == "" {
		return ServiceSpec{}, specErrorf("", "name", "service name is required")
	}
	if strings.TrimSpace(svc.Image) == "" {
		return ServiceSpec{}, specErrorf(name, "image", "image reference is required")
	}

	restart, err := normalizeRestart(name, svc.Restart)
	if err != nil {
		return ServiceSpec{}, err
	}

	readiness, err := normalizeReadiness(name, svc)
	if err != nil {
		return ServiceSpec{}, err
	}

	out := ServiceSpec{
		Name:        name,
		Image:       strings.TrimSpace(svc.Image),
		Command:     append([]string(nil), svc.Command...),
		Entrypoint:  append([]string(nil), svc.Entrypoint...),
		Environment: normalizeEnvironment(svc.Environment),
		Mounts:      normalizeMounts(svc.Volumes),
		Ports:       normalizePorts(svc.Ports),
		Labels:      normalizeLabels(svc.Labels),
		Restart:     restart,
		DependsOn:   normalizeDependsOn(svc.DependsOn),
		Readiness:   readiness,
	}
	return out, nil
}

func normalizeEnvironment(env compose.MappingWithEquals) []string {
	if len(env) == 0 {
		return nil
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		value := ""
		if p := env[key]; p != nil {
			value = *p
		}
		out = append(out, key+"="+value)
	}
	return out
}

func normalizeMounts(volumes []compose.ServiceVolumeConfig) []Mount {
	if len(volumes) == 0 {
		return nil
	}

	out := make([]Mount, 0, len(volumes))
	for _, v := range volumes {
		if strings.TrimSpace(v.Target) == "" {
			continue
		}
		out = append(out, Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
			Named:    IsNamedVolumeSource(v.Source),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func normalizePorts(ports []compose.ServicePortConfig) []PortMapping {
	if len(ports) == 0 {
		return nil
	}

	out := make([]PortMapping, 0, len(ports))
	for _, p := range ports {
		protocol := strings.ToLower(strings.TrimSpace(p.Protocol))
		if protocol == "" {
			protocol = "tcp"
		}

		containerPort := uint16(0)
		if p.Target <= uint32(^uint16(0)) {
			containerPort = uint16(p.Target)
		}

		out = append(out, PortMapping{
			HostPort:      parsePublishedPort(p.Published),
			ContainerPort: containerPort,
			Protocol:      protocol,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].HostPort != out[j].HostPort {
			return out[i].HostPort < out[j].HostPort
		}
		if out[i].ContainerPort != out[j].ContainerPort {
			return out[i].ContainerPort < out[j].ContainerPort
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

func parsePublishedPort(published string) uint16 {
	published = strings.TrimSpace(published)
	if published == "" {
		return 0
	}
	n, err := strconv.ParseUint(published, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

func normalizeLabels(labels compose.Labels) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for key, value := range labels {
		out[key] = value
	}
	return out
}

func normalizeRestart(service, restart string) (RestartPolicy, error) {
	switch strings.TrimSpace(restart) {
	case "", "no", "none":
		return RestartNever, nil
	case "on-failure":
		return RestartOnFailure, nil
	case "always", "unless-stopped":
		return RestartAlways, nil
	default:
		return "", specErrorf(service, "restart", "unsupported policy %q", restart)
	}
}

func normalizeDependsOn(deps compose.DependsOnConfig) []string {
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, 0, len(deps))
	for name := range deps {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// normalizeReadiness resolves the probe policy for a service. The x-readiness
// extension wins; otherwise a compose healthcheck becomes an exec probe; with
// neither, the service is considered ready once its container is running.
func normalizeReadiness(service string, svc compose.ServiceConfig) (ReadinessPolicy, error) {
	if raw, ok := svc.Extensions[readinessExtension]; ok {
		return parseReadinessExtension(service, raw)
	}
	if hc := svc.HealthCheck; hc != nil && !hc.Disable && len(hc.Test) > 0 {
		return readinessFromHealthCheck(hc), nil
	}
	return ReadinessPolicy{Kind: CheckNone}, nil
}

func readinessFromHealthCheck(hc *compose.HealthCheckConfig) ReadinessPolicy {
	policy := ReadinessPolicy{
		Kind:     CheckExec,
		Command:  execCommand(hc.Test),
		Interval: defaultProbeInterval,
		Timeout:  defaultProbeTimeout,
		Attempts: defaultProbeAttempts,
	}
	if d := composeDuration(hc.Interval); d > 0 {
		policy.Interval = d
	}
	if d := composeDuration(hc.Timeout); d > 0 {
		policy.Timeout = d
	}
	if hc.Retries != nil && *hc.Retries > 0 {
		policy.Attempts = int(*hc.Retries)
	}
	return policy
}

// execCommand strips the compose CMD / CMD-SHELL marker from a healthcheck
// test vector.
func execCommand(test []string) []string {
	if len(test) == 0 {
		return nil
	}
	switch test[0] {
	case "CMD":
		return append([]string(nil), test[1:]...)
	case "CMD-SHELL":
		return []string{"/bin/sh", "-c", strings.Join(test[1:], " ")}
	default:
		return append([]string(nil), test...)
	}
}

func parseReadinessExtension(service string, raw any) (ReadinessPolicy, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return ReadinessPolicy{}, specErrorf(service, readinessExtension, "must be a mapping")
	}

	policy := ReadinessPolicy{
		Interval: defaultProbeInterval,
		Timeout:  defaultProbeTimeout,
		Attempts: defaultProbeAttempts,
	}

	kind, _ := fields["kind"].(string)
	switch CheckKind(strings.TrimSpace(kind)) {
	case CheckTCP:
		policy.Kind = CheckTCP
	case CheckHTTP:
		policy.Kind = CheckHTTP
	case CheckExec:
		policy.Kind = CheckExec
	default:
		return ReadinessPolicy{}, specErrorf(service, readinessExtension+".kind", "must be one of tcp, http, exec (got %q)", kind)
	}

	if port, ok := fields["port"]; ok {
		n, err := extensionInt(port)
		if err != nil || n <= 0 || n > int(^uint16(0)) {
			return ReadinessPolicy{}, specErrorf(service, readinessExtension+".port", "invalid port %v", port)
		}
		policy.Port = uint16(n)
	}
	if path, ok := fields["path"].(string); ok {
		policy.Path = path
	}
	if cmd, ok := fields["command"]; ok {
		parsed, err := extensionCommand(cmd)
		if err != nil {
			return ReadinessPolicy{}, specErrorf(service, readinessExtension+".command", "%v", err)
		}
		policy.Command = parsed
	}
	for _, field := range []struct {
		key string
		dst *time.Duration
	}{
		{"interval", &policy.Interval},
		{"timeout", &policy.Timeout},
		{"deadline", &policy.Deadline},
	} {
		raw, ok := fields[field.key].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return ReadinessPolicy{}, specErrorf(service, readinessExtension+"."+field.key, "invalid duration %q", raw)
		}
		*field.dst = d
	}
	if attempts, ok := fields["attempts"]; ok {
		n, err := extensionInt(attempts)
		if err != nil || n <= 0 {
			return ReadinessPolicy{}, specErrorf(service, readinessExtension+".attempts", "must be a positive integer")
		}
		policy.Attempts = n
	}

	switch policy.Kind {
	case CheckTCP, CheckHTTP:
		if policy.Port == 0 {
			return ReadinessPolicy{}, specErrorf(service, readinessExtension+".port", "required for %s checks", policy.Kind)
		}
	case CheckExec:
		if len(policy.Command) == 0 {
			return ReadinessPolicy{}, specErrorf(service, readinessExtension+".command", "required for exec checks")
		}
	}
	return policy, nil
}

func extensionInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

func extensionCommand(v any) ([]string, error) {
	switch cmd := v.(type) {
	case string:
		return []string{"/bin/sh", "-c", cmd}, nil
	case []any:
		out := make([]string, 0, len(cmd))
		for _, item := range cmd {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command elements must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a string or list of strings")
	}
}

func composeDuration(d *compose.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return time.Duration(*d)
}

// IsNamedVolumeSource reports whether a mount source refers to a named
// volume rather than a host path.
func IsNamedVolumeSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}
	if filepath.IsAbs(source) {
		return false
	}
	if strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../") || strings.HasPrefix(source, "~") {
		return false
	}
	if strings.Contains(source, `\\`) || strings.Contains(source, "/") {
		return false
	}
	return true
}
