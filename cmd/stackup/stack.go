package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stackup/config"
	"stackup/internal/runtime/docker"
	"stackup/internal/spec"

	"github.com/docker/docker/client"
)

// stackFileCandidates are tried in order when --file is not given.
var stackFileCandidates = []string{
	spec.StackFilename(),
	"compose.yaml",
	"docker-compose.yml",
}

// loadStack resolves the stack file and project name from flags and parses
// the document.
func loadStack(ctx context.Context, flags *rootFlags) (*spec.Stack, error) {
	path, err := resolveStackFile(flags.file)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stack file: %w", err)
	}

	project := flags.project
	if project == "" {
		project = projectFromPath(path)
	}

	return spec.Load(ctx, data, project)
}

func resolveStackFile(flag string) (string, error) {
	if flag != "" {
		if _, err := os.Stat(flag); err != nil {
			return "", fmt.Errorf("stack file: %w", err)
		}
		return flag, nil
	}
	for _, candidate := range stackFileCandidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no %s found; use --file", spec.StackFilename())
}

// projectFromPath derives a project name from the stack file's directory,
// lowercased with anything outside [a-z0-9-] squeezed to "-".
func projectFromPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	base := strings.ToLower(filepath.Base(filepath.Dir(abs)))

	var sb strings.Builder
	lastDash := false
	for _, r := range base {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if ok {
			sb.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && sb.Len() > 0 {
			sb.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.Trim(sb.String(), "-")
	if name == "" {
		name = "default"
	}
	return name
}

// newRuntime builds the Docker runtime, honoring a docker-host config
// override when DOCKER_HOST is not set.
func newRuntime(cfg *config.Config) (*docker.Runtime, error) {
	var opts []client.Opt
	if cfg.DockerHost != "" && os.Getenv(client.EnvOverrideHost) == "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	return docker.NewRuntime(opts...)
}
