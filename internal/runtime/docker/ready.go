package docker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/client"
)

// readyWindow bounds how long a ping may stay unanswered before the daemon
// is declared unavailable.
const readyWindow = 10 * time.Second

// WaitReady blocks until the Docker daemon answers a ping. A daemon that
// stays unreachable past the ready window is reported as an error; caller
// cancellation surfaces the context error.
func WaitReady(ctx context.Context, cli *client.Client) error {
	log := slog.With("component", "docker")
	deadline := time.Now().Add(readyWindow)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	waiting := false
	for {
		_, err := cli.Ping(ctx)
		if err == nil {
			if waiting {
				log.Debug("daemon reachable")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !client.IsErrConnectionFailed(err) {
			log.Error("ping failed", "err", err)
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("docker daemon unreachable: %w", err)
		}
		if !waiting {
			waiting = true
			log.Debug("waiting for docker daemon")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
