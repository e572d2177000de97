package orchestrate

import (
	"context"

	"stackup/internal/spec"
)

// ReadinessProber blocks until a service's readiness check passes or its
// policy is exhausted.
// Production: probe.Prober
// Testing: scripted fake
type ReadinessProber interface {
	Probe(ctx context.Context, container string, svc spec.ServiceSpec) error
}

// Event is a progress notification for a driving CLI. Events are sent with
// non-blocking writes and may be dropped if the channel is full.
type Event struct {
	Type    string
	Level   int
	Service string
	Message string
}

func emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}
