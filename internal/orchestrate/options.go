package orchestrate

import (
	"fmt"
	"strings"
	"time"
)

// StartMode decides what happens to a service whose dependencies failed.
type StartMode uint8

const (
	// StartStrict never starts a service whose dependencies are not Ready.
	StartStrict StartMode = iota + 1
	// StartDegraded starts it anyway and records the service as degraded.
	StartDegraded
)

func (m StartMode) String() string {
	switch m {
	case StartStrict:
		return "strict"
	case StartDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// ParseStartMode parses "strict" or "degraded".
func ParseStartMode(raw string) (StartMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "strict":
		return StartStrict, nil
	case "degraded", "degraded-start":
		return StartDegraded, nil
	default:
		return 0, fmt.Errorf("invalid start mode %q", raw)
	}
}

// Options tune a run. Zero values fall back to the defaults below.
type Options struct {
	Mode StartMode
	// MaxRestarts bounds Failed -> Starting transitions per service.
	MaxRestarts int
	// BackoffBase and BackoffCeiling shape the delay before each restart:
	// base doubled per restart, never above the ceiling.
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	// GracePeriod is how long a stopping container gets before the engine
	// kills it.
	GracePeriod time.Duration
}

const (
	defaultMaxRestarts    = 3
	defaultBackoffBase    = 500 * time.Millisecond
	defaultBackoffCeiling = 30 * time.Second
	defaultGracePeriod    = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Mode == 0 {
		o.Mode = StartStrict
	}
	if o.MaxRestarts == 0 {
		o.MaxRestarts = defaultMaxRestarts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = defaultBackoffBase
	}
	if o.BackoffCeiling <= 0 {
		o.BackoffCeiling = defaultBackoffCeiling
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = defaultGracePeriod
	}
	return o
}

// restartBackoff returns the wait before restart number n (1-based),
// doubling from base up to the ceiling.
func restartBackoff(n int, base, ceiling time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
