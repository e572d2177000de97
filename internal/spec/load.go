package spec

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/template"
	compose "github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

const stackFilename = "stackup.yaml"

// Load parses a compose-style YAML document into a validated Stack.
//
// Validation is eager: every ${VAR} reference must resolve from env at load
// time, names must be unique, and every depends_on edge must point at a
// declared service. Any violation returns a *SpecError before anything is
// provisioned.
func Load(ctx context.Context, data []byte, project string) (*Stack, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, specErrorf("", "project", "project name is required")
	}

	order, err := declarationOrder(data)
	if err != nil {
		return nil, err
	}

	environment := envMapping(os.Environ())
	if err := checkInterpolation(data, environment); err != nil {
		return nil, err
	}

	configDetails := compose.ConfigDetails{
		ConfigFiles: []compose.ConfigFile{
			{Filename: stackFilename, Content: data},
		},
		Environment: environment,
	}

	proj, err := loader.LoadWithContext(ctx, configDetails, func(o *loader.Options) {
		o.SetProjectName(project, true)
		o.SkipConsistencyCheck = false
	})
	if err != nil {
		return nil, &SpecError{Field: "document", Detail: err.Error()}
	}
	if len(proj.Services) == 0 {
		return nil, specErrorf("", "services", "at least one service is required")
	}

	stack := &Stack{
		Project: project,
		Network: NetworkSpec{Name: project + "_default", Driver: "bridge"},
	}

	for _, name := range order.services {
		svc, ok := proj.Services[name]
		if !ok {
			continue
		}
		normalized, err := normalizeService(svc)
		if err != nil {
			return nil, err
		}
		stack.Services = append(stack.Services, normalized)
	}

	if err := validateStack(stack); err != nil {
		return nil, err
	}

	volumes, err := collectVolumes(stack, order.volumes, proj.Volumes)
	if err != nil {
		return nil, err
	}
	stack.Volumes = volumes

	return stack, nil
}

func envMapping(environ []string) compose.Mapping {
	out := compose.Mapping{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

// checkInterpolation rejects the document when any referenced variable has
// neither a value in environment nor an inline default. compose-go would
// silently substitute an empty string; failing here keeps the error at the
// loader stage instead of at container start.
func checkInterpolation(data []byte, environment compose.Mapping) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &SpecError{Field: "document", Detail: "invalid yaml: " + err.Error()}
	}

	missing := make([]string, 0)
	for name, variable := range template.ExtractVariables(doc, template.DefaultPattern) {
		if variable.DefaultValue != "" || variable.PresenceValue != "" {
			continue
		}
		if _, ok := environment[name]; ok {
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return specErrorf("", "environment", "unresolved variable reference(s): %s", strings.Join(missing, ", "))
}

// documentOrder captures the source ordering compose-go's maps lose.
type documentOrder struct {
	services []string
	volumes  []string
}

// declarationOrder walks the raw YAML so services and volumes keep the order
// they were written in, and duplicate names are caught explicitly.
func declarationOrder(data []byte) (documentOrder, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return documentOrder{}, &SpecError{Field: "document", Detail: "invalid yaml: " + err.Error()}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return documentOrder{}, specErrorf("", "document", "empty document")
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return documentOrder{}, specErrorf("", "document", "top level must be a mapping")
	}

	var order documentOrder
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		value := doc.Content[i+1]
		switch key.Value {
		case "services":
			names, err := mappingKeys(value, "services")
			if err != nil {
				return documentOrder{}, err
			}
			order.services = names
		case "volumes":
			names, err := mappingKeys(value, "volumes")
			if err != nil {
				return documentOrder{}, err
			}
			order.volumes = names
		}
	}
	if len(order.services) == 0 {
		return documentOrder{}, specErrorf("", "services", "at least one service is required")
	}
	return order, nil
}

func mappingKeys(node *yaml.Node, section string) ([]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, specErrorf("", section, "must be a mapping")
	}
	seen := make(map[string]bool, len(node.Content)/2)
	out := make([]string, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return nil, specErrorf("", section, "duplicate name %q", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

func validateStack(stack *Stack) error {
	byName := make(map[string]bool, len(stack.Services))
	for _, svc := range stack.Services {
		byName[svc.Name] = true
	}
	for _, svc := range stack.Services {
		for _, dep := range svc.DependsOn {
			if dep == svc.Name {
				return specErrorf(svc.Name, "depends_on", "service depends on itself")
			}
			if !byName[dep] {
				return specErrorf(svc.Name, "depends_on", "unknown service %q", dep)
			}
		}
	}
	return nil
}

// collectVolumes returns the named volumes the stack actually mounts, in
// declaration order, followed by any mounted volume the document never
// declared under the top-level volumes key.
func collectVolumes(stack *Stack, declared []string, cfg compose.Volumes) ([]VolumeSpec, error) {
	used := make(map[string]bool)
	for _, svc := range stack.Services {
		for _, m := range svc.Mounts {
			if m.Named {
				used[m.Source] = true
			}
		}
	}

	out := make([]VolumeSpec, 0, len(used))
	seen := make(map[string]bool, len(used))
	for _, name := range declared {
		if _, ok := cfg[name]; !ok && len(cfg) > 0 {
			continue
		}
		if !used[name] {
			continue
		}
		out = append(out, VolumeSpec{Name: name})
		seen[name] = true
	}
	for _, svc := range stack.Services {
		for _, m := range svc.Mounts {
			if m.Named && !seen[m.Source] {
				out = append(out, VolumeSpec{Name: m.Source})
				seen[m.Source] = true
			}
		}
	}
	return out, nil
}

// StackFilename is the default document name looked up by the CLI.
func StackFilename() string { return stackFilename }
